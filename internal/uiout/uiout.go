// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package uiout renders MemoBuild's terminal output: colored per-node
// HIT/BUILD/FAIL lines and build summaries (spec §7). Reconstructed from
// the internal/ui call-site shapes used throughout the teacher's
// cmd/cie/*.go (Header, SubHeader, Label, Warning, Info), since that
// package's body wasn't present in the retrieval pack.
package uiout

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

var (
	hit     = color.New(color.FgGreen, color.Bold)
	build   = color.New(color.FgYellow, color.Bold)
	fail    = color.New(color.FgRed, color.Bold)
	header  = color.New(color.FgCyan, color.Bold)
	dim     = color.New(color.FgHiBlack)
)

// Disable turns off coloring globally, e.g. for --no-color or non-tty
// output.
func Disable() {
	color.NoColor = true
}

// AutoDetect disables coloring when stdout isn't a terminal.
func AutoDetect() {
	if !isatty.IsTerminal(os.Stdout.Fd()) && !isatty.IsCygwinTerminal(os.Stdout.Fd()) {
		color.NoColor = true
	}
}

// Header prints a bold section header.
func Header(w io.Writer, format string, args ...any) {
	fmt.Fprintln(w, header.Sprintf(format, args...))
}

// Hit prints a cache-hit line for a node.
func Hit(w io.Writer, name string) {
	fmt.Fprintf(w, "%s %s\n", hit.Sprint("HIT "), name)
}

// Build prints an executed-node line for a node.
func Build(w io.Writer, name string, durationMs int64) {
	fmt.Fprintf(w, "%s %s %s\n", build.Sprint("BUILD"), name, dim.Sprintf("(%dms)", durationMs))
}

// Fail prints a failed-node line.
func Fail(w io.Writer, name string, err error) {
	fmt.Fprintf(w, "%s %s: %s\n", fail.Sprint("FAIL"), name, err)
}

// Warning prints a warning line.
func Warning(w io.Writer, format string, args ...any) {
	fmt.Fprintln(w, color.New(color.FgYellow).Sprintf("warning: "+format, args...))
}

// Summary prints the final totals/hit-rate/duration line required by spec §7.
func Summary(w io.Writer, total, executed, cacheHits int, durationMs int64) {
	rate := 0.0
	if total > 0 {
		rate = float64(cacheHits) / float64(total) * 100
	}
	fmt.Fprintf(w, "%d nodes, %d executed, %d cache hits (%.1f%%), %dms\n", total, executed, cacheHits, rate, durationMs)
}
