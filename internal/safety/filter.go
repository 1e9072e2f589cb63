// Package safety screens shell command text before it reaches the
// confirmation step.
//
// The denylist check is advisory defense in depth. It is a plain substring
// match and is trivially bypassed by aliasing, quoting ("r""m"), variable
// expansion, base64 decoding piped to a shell, and so on. It is NOT a security
// boundary: the operator's explicit confirmation is.
package safety

import (
	"strings"
)

// DefaultDenylist blocks destructive delete, privilege escalation, the
// classic fork bomb, filesystem formatting, and raw disk writes.
//
// Matching is by substring, so short tokens also catch unrelated words
// ("dd" matches "add", "rm" matches "firmware"). Operators who find this too
// aggressive can override the list in config.
var DefaultDenylist = []string{"rm", "sudo", ":(){", "mkfs", "dd"}

// Verdict is the result of checking a command.
type Verdict struct {
	// Blocked is true when the command contains a denylisted token.
	Blocked bool

	// Token is the first denylisted token found, in denylist order.
	Token string
}

// Filter checks command text against a fixed denylist of literal substrings.
// A Filter is immutable and safe for concurrent use.
type Filter struct {
	denylist []string
}

// NewFilter creates a filter for the given tokens. Empty tokens are ignored
// since they would match every command.
func NewFilter(denylist []string) *Filter {
	tokens := make([]string, 0, len(denylist))
	for _, tok := range denylist {
		if tok == "" {
			continue
		}
		tokens = append(tokens, tok)
	}
	return &Filter{denylist: tokens}
}

// Denylist returns a copy of the filter's tokens.
func (f *Filter) Denylist() []string {
	out := make([]string, len(f.denylist))
	copy(out, f.denylist)
	return out
}

// Check reports whether command contains any denylisted token.
// Matching is case-sensitive. A nil filter allows everything.
func (f *Filter) Check(command string) Verdict {
	if f == nil {
		return Verdict{}
	}
	for _, tok := range f.denylist {
		if strings.Contains(command, tok) {
			return Verdict{Blocked: true, Token: tok}
		}
	}
	return Verdict{}
}
