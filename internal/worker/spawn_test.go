package worker

import (
	"strings"
	"testing"
)

func TestCommandArgv(t *testing.T) {
	tests := []struct {
		name      string
		cmdline   string
		wantShell bool
		wantArgs  []string // checked only for direct execs, argv[1:]
	}{
		{
			name:     "plain command",
			cmdline:  "/bin/echo hi there",
			wantArgs: []string{"hi", "there"},
		},
		{
			name:     "quoted argument stays whole",
			cmdline:  `/bin/echo "hi there"`,
			wantArgs: []string{"hi there"},
		},
		{
			name:      "pipe forces shell",
			cmdline:   "/bin/echo hi | /bin/cat",
			wantShell: true,
		},
		{
			name:      "subshell forces shell",
			cmdline:   "/bin/echo $(date)",
			wantShell: true,
		},
		{
			name:      "glob forces shell",
			cmdline:   "/bin/ls /tmp/*.log",
			wantShell: true,
		},
		{
			name:      "redirect forces shell",
			cmdline:   "/bin/echo hi > /dev/null",
			wantShell: true,
		},
		{
			name:      "unbalanced quote falls back to shell",
			cmdline:   `/bin/echo "unterminated`,
			wantShell: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			argv, err := commandArgv(tt.cmdline)
			if err != nil {
				t.Fatalf("commandArgv(%q) = %v", tt.cmdline, err)
			}
			if len(argv) == 0 {
				t.Fatal("empty argv")
			}

			isShell := argv[0] == "/bin/sh"
			if isShell != tt.wantShell {
				t.Fatalf("argv = %v, shell = %v, want %v", argv, isShell, tt.wantShell)
			}
			if isShell {
				if len(argv) != 3 || argv[1] != "-c" || argv[2] != tt.cmdline {
					t.Errorf("shell argv = %v, want [/bin/sh -c %q]", argv, tt.cmdline)
				}
				return
			}
			if got := argv[1:]; !equalStrings(got, tt.wantArgs) {
				t.Errorf("argv[1:] = %v, want %v", got, tt.wantArgs)
			}
			if !strings.HasPrefix(argv[0], "/") {
				t.Errorf("argv[0] = %q, want an absolute path", argv[0])
			}
		})
	}
}

func TestCommandArgvUnknownBinary(t *testing.T) {
	if _, err := commandArgv("definitely-not-a-real-binary-4242 arg"); err == nil {
		t.Error("commandArgv accepted a binary that does not exist")
	}
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
