package safety

import (
	"strings"
	"testing"
)

func TestFilter_CheckDefaultDenylist(t *testing.T) {
	f := NewFilter(DefaultDenylist)

	tests := []struct {
		command   string
		blocked   bool
		wantToken string
	}{
		{"rm -rf /", true, "rm"},
		{"sudo reboot", true, "sudo"},
		{":(){ :|:& };:", true, ":(){"},
		{"mkfs.ext4 /dev/sdb1", true, "mkfs"},
		{"dd if=/dev/zero of=/dev/sda", true, "dd"},
		{"echo hello", false, ""},
		{"uptime", false, ""},
		{"df -h", false, ""},
		// Case-sensitive: uppercase variants are not matched.
		{"RM -RF /", false, ""},
		// Substring match: unrelated words that contain a token are blocked too.
		{"cat /proc/firmware", true, "rm"},
	}

	for _, tt := range tests {
		t.Run(tt.command, func(t *testing.T) {
			v := f.Check(tt.command)
			if v.Blocked != tt.blocked {
				t.Fatalf("Check(%q).Blocked = %v, want %v", tt.command, v.Blocked, tt.blocked)
			}
			if v.Token != tt.wantToken {
				t.Errorf("Check(%q).Token = %q, want %q", tt.command, v.Token, tt.wantToken)
			}
		})
	}
}

func TestFilter_EveryTokenBlocksAnywhereInText(t *testing.T) {
	denylist := []string{"shutdown", "curl | sh", ">/dev/sd"}
	f := NewFilter(denylist)

	for _, tok := range denylist {
		for _, cmd := range []string{tok, "echo x; " + tok, tok + " now", "a" + tok + "b"} {
			v := f.Check(cmd)
			if !v.Blocked {
				t.Errorf("Check(%q) not blocked, want blocked by %q", cmd, tok)
			}
			if !strings.Contains(cmd, v.Token) {
				t.Errorf("Check(%q).Token = %q, which is not in the command", cmd, v.Token)
			}
		}
	}

	for _, cmd := range []string{"ls -la", "cat /etc/hostname", "systemctl status nginx"} {
		if v := f.Check(cmd); v.Blocked {
			t.Errorf("Check(%q) blocked by %q, want allowed", cmd, v.Token)
		}
	}
}

func TestFilter_ReportsFirstTokenInDenylistOrder(t *testing.T) {
	f := NewFilter([]string{"sudo", "rm"})

	v := f.Check("rm -rf /tmp/x && sudo true")
	if v.Token != "sudo" {
		t.Errorf("Token = %q, want %q (first in denylist order)", v.Token, "sudo")
	}
}

func TestFilter_EmptyTokensIgnored(t *testing.T) {
	f := NewFilter([]string{"", "mkfs", ""})

	if v := f.Check("echo hello"); v.Blocked {
		t.Errorf("empty token should not block everything, got %+v", v)
	}
	if got := f.Denylist(); len(got) != 1 || got[0] != "mkfs" {
		t.Errorf("Denylist() = %v, want [mkfs]", got)
	}
}

func TestFilter_NilAllowsEverything(t *testing.T) {
	var f *Filter
	if v := f.Check("rm -rf /"); v.Blocked {
		t.Errorf("nil filter blocked command: %+v", v)
	}
}

func TestFilter_DenylistIsCopy(t *testing.T) {
	f := NewFilter([]string{"rm"})
	list := f.Denylist()
	list[0] = "changed"

	if !f.Check("rm x").Blocked {
		t.Error("modifying Denylist() result changed the filter")
	}
}
