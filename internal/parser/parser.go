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

// Package parser implements spec component K (added in this expansion): a
// pragmatic reader for the line-oriented instruction script described in
// spec §6, turning it into graph.BuildGraph construction calls. The exact
// grammar is treated as external per spec §1; this is the minimal parser
// needed to drive and test the rest of the engine end to end.
package parser

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/kraklabs/memobuild/internal/graph"
)

// Instruction is one parsed script line.
type Instruction struct {
	Keyword string
	Args    []string
	Raw     string
}

// Parse reads a line-oriented script per spec §6's recognized keywords.
// Blank lines and # comments are ignored; unrecognized first tokens
// produce an Other instruction carrying the raw line.
func Parse(r io.Reader) ([]Instruction, error) {
	var out []Instruction
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		keyword := strings.ToUpper(fields[0])
		switch keyword {
		case "FROM", "WORKDIR", "COPY", "RUN", "ENV", "CMD", "GIT", "RUN_EXTEND", "COPY_EXTEND", "HOOK":
			out = append(out, Instruction{Keyword: keyword, Args: fields[1:], Raw: line})
		default:
			out = append(out, Instruction{Keyword: "OTHER", Args: fields, Raw: line})
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("parser: scan: %w", err)
	}
	return out, nil
}

// BuildGraph converts parsed instructions into a graph.BuildGraph following
// spec §4.C's construction rule: each non-base instruction depends on the
// immediately preceding node, plus heuristic Copy→Run edges added
// afterward by the caller via graph.AddHeuristicDeps.
func BuildGraph(instructions []Instruction) (*graph.BuildGraph, error) {
	g := graph.New()
	prev := -1
	for _, instr := range instructions {
		var deps []int
		if prev >= 0 {
			deps = []int{prev}
		}
		kind, text, src, dst, env, err := toNode(instr)
		if err != nil {
			return nil, err
		}
		n, err := g.AddNode(kind, text, deps)
		if err != nil {
			return nil, fmt.Errorf("parser: %s: %w", instr.Raw, err)
		}
		n.SourcePath = src
		n.DestPath = dst
		n.Env = env
		prev = n.ID
	}
	return g, nil
}

func toNode(instr Instruction) (kind graph.Kind, text, src, dst string, env map[string]string, err error) {
	switch instr.Keyword {
	case "FROM":
		return graph.KindBaseImage, instr.Raw, "", "", nil, nil
	case "WORKDIR":
		return graph.KindWorkdir, instr.Raw, "", "", nil, nil
	case "COPY":
		if len(instr.Args) < 2 {
			return "", "", "", "", nil, fmt.Errorf("parser: COPY requires src and dst: %q", instr.Raw)
		}
		return graph.KindCopy, instr.Raw, instr.Args[0], instr.Args[1], nil, nil
	case "RUN":
		return graph.KindRun, strings.Join(instr.Args, " "), "", "", nil, nil
	case "ENV":
		kv := strings.Join(instr.Args, " ")
		key, val, ok := splitKV(kv)
		if !ok {
			return "", "", "", "", nil, fmt.Errorf("parser: ENV requires KEY=VALUE or KEY VALUE: %q", instr.Raw)
		}
		return graph.KindEnv, instr.Raw, "", "", map[string]string{key: val}, nil
	case "CMD":
		return graph.KindCmd, strings.Join(instr.Args, " "), "", "", nil, nil
	case "GIT":
		if len(instr.Args) < 1 {
			return "", "", "", "", nil, fmt.Errorf("parser: GIT requires a url: %q", instr.Raw)
		}
		target := "."
		if len(instr.Args) > 1 {
			target = strings.TrimPrefix(instr.Args[1], "target-dir=")
		}
		return graph.KindGit, instr.Raw, instr.Args[0], target, nil, nil
	case "RUN_EXTEND":
		return graph.KindRunExtend, strings.Join(instr.Args, " "), "", "", nil, nil
	case "COPY_EXTEND":
		if len(instr.Args) < 2 {
			return "", "", "", "", nil, fmt.Errorf("parser: COPY_EXTEND requires src and dst: %q", instr.Raw)
		}
		return graph.KindCopyExtend, instr.Raw, instr.Args[0], instr.Args[1], nil, nil
	case "HOOK":
		return graph.KindCustomHook, instr.Raw, "", "", nil, nil
	default:
		return graph.KindOther, instr.Raw, "", "", nil, nil
	}
}

func splitKV(s string) (key, val string, ok bool) {
	if idx := strings.Index(s, "="); idx >= 0 {
		return s[:idx], s[idx+1:], true
	}
	fields := strings.Fields(s)
	if len(fields) >= 2 {
		return fields[0], strings.Join(fields[1:], " "), true
	}
	return "", "", false
}
