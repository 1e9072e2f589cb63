package safety

import (
	"strings"
	"testing"
)

func TestHints(t *testing.T) {
	tests := []struct {
		command string
		want    []string
	}{
		{"echo hello", nil},
		{"uptime", nil},
		{"echo hi > /etc/motd", []string{"writes to a file via redirection"}},
		{"echo hi >> notes.txt", []string{"writes to a file via redirection"}},
		{"cat < input.txt", nil},
		{"ps aux | grep nginx", []string{"pipeline detected"}},
		{"(cd /tmp && ls)", []string{"subshell detected"}},
		{"echo $(whoami)", []string{"command substitution detected"}},
		{"diff <(ls a) <(ls b)", []string{"process substitution detected"}},
	}

	for _, tt := range tests {
		t.Run(tt.command, func(t *testing.T) {
			got := Hints(tt.command)
			if strings.Join(got, ";") != strings.Join(tt.want, ";") {
				t.Errorf("Hints(%q) = %v, want %v", tt.command, got, tt.want)
			}
		})
	}
}

func TestHints_Deduplicates(t *testing.T) {
	got := Hints("a | b | c | d")
	if len(got) != 1 || got[0] != "pipeline detected" {
		t.Errorf("Hints() = %v, want a single pipeline hint", got)
	}
}

func TestHints_Unparseable(t *testing.T) {
	got := Hints("echo 'unterminated")
	if len(got) != 1 || !strings.Contains(got[0], "could not be parsed") {
		t.Errorf("Hints() = %v, want unparseable hint", got)
	}
}
