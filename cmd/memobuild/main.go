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

// Command memobuild is the CLI frontend for the build engine (spec
// component L), grounded on cmd/cie/main.go's subcommand-switch idiom in
// the teacher.
package main

import (
	"fmt"
	"log/slog"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/kraklabs/memobuild/internal/uiout"
)

// GlobalFlags mirrors the teacher's cmd/cie/main.go GlobalFlags shape.
type GlobalFlags struct {
	JSON    bool
	NoColor bool
	Verbose int
	Quiet   bool
}

var version = "dev"

func main() {
	flag.CommandLine.Usage = usage
	flag.CommandLine.SetInterspersed(false)

	globals := GlobalFlags{}
	flag.BoolVarP(&globals.JSON, "json", "j", false, "emit machine-readable JSON output")
	flag.BoolVar(&globals.NoColor, "no-color", false, "disable colored output")
	flag.CountVarP(&globals.Verbose, "verbose", "v", "increase log verbosity")
	flag.BoolVarP(&globals.Quiet, "quiet", "q", false, "suppress non-error output")
	flag.Parse()

	if globals.NoColor {
		uiout.Disable()
	} else {
		uiout.AutoDetect()
	}

	configureLogging(globals)

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(1)
	}

	cmd, rest := args[0], args[1:]
	var err error
	switch cmd {
	case "build":
		err = runBuild(rest, globals)
	case "cache":
		err = runCacheServe(rest, globals)
	case "serve":
		err = runCacheServe(rest, globals)
	case "worker":
		err = runWorker(rest, globals)
	case "scheduler":
		err = runScheduler(rest, globals)
	case "router":
		err = runRouter(rest, globals)
	case "gc":
		err = runGC(rest, globals)
	case "version":
		fmt.Println(version)
	case "help", "-h", "--help":
		usage()
	default:
		logError(fmt.Sprintf("unknown command %q", cmd))
		usage()
		os.Exit(1)
	}

	if err != nil {
		logError(err.Error())
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `memobuild - distributed content-addressed incremental build engine

Usage:
  memobuild <command> [flags]

Commands:
  build       evaluate a build script against the cache/sandbox/remote executor
  cache       run a standalone remote cache server
  serve       alias for "cache"
  worker      run a remote-execution worker server
  scheduler   run a remote-execution scheduler server
  router      run a multi-region cache router server
  gc          trigger local cache garbage collection
  version     print the version

Flags:`)
	flag.PrintDefaults()
}

func configureLogging(g GlobalFlags) {
	level := slog.LevelInfo
	if g.Quiet {
		level = slog.LevelError
	} else if g.Verbose > 0 {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler))
}

func logInfo(msg string, args ...any)  { slog.Info(msg, args...) }
func logError(msg string, args ...any) { slog.Error(msg, args...) }
