package safety

import (
	"strings"

	"mvdan.cc/sh/v3/syntax"
)

// Hints parses command as POSIX/Bash shell and describes constructs the
// operator should look at twice before confirming: redirections, pipelines,
// subshells, and command substitutions. Hints never block a command.
// Text that does not parse yields a single "unparseable" hint.
func Hints(command string) []string {
	parser := syntax.NewParser(syntax.Variant(syntax.LangBash))
	file, err := parser.Parse(strings.NewReader(command), "")
	if err != nil {
		return []string{"command could not be parsed as shell; review it carefully"}
	}

	seen := make(map[string]bool)
	var hints []string
	add := func(hint string) {
		if !seen[hint] {
			seen[hint] = true
			hints = append(hints, hint)
		}
	}

	syntax.Walk(file, func(node syntax.Node) bool {
		switch n := node.(type) {
		case *syntax.Redirect:
			if isWriteRedirect(n.Op) {
				add("writes to a file via redirection")
			}
		case *syntax.BinaryCmd:
			if n.Op == syntax.Pipe || n.Op == syntax.PipeAll {
				add("pipeline detected")
			}
		case *syntax.Subshell:
			add("subshell detected")
		case *syntax.CmdSubst:
			add("command substitution detected")
		case *syntax.ProcSubst:
			add("process substitution detected")
		}
		return true
	})

	return hints
}

func isWriteRedirect(op syntax.RedirOperator) bool {
	switch op {
	case syntax.RdrOut, syntax.AppOut, syntax.RdrAll, syntax.AppAll, syntax.ClbOut, syntax.RdrInOut:
		return true
	default:
		return false
	}
}
