package cli

import (
	"bytes"
	"strings"
	"testing"
)

func executeCommand(args ...string) (string, error) {
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return buf.String(), err
}

func TestVersionCommand(t *testing.T) {
	SetVersion("test-version")
	out, err := executeCommand("version")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "test-version") {
		t.Errorf("expected version output to contain 'test-version', got: %s", out)
	}
}

func TestRootHelp(t *testing.T) {
	out, err := executeCommand("--help")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expectedSubcommands := []string{
		"begin", "advance", "run", "resume", "status",
		"events", "replay", "report", "stats",
		"db", "serve", "version",
	}
	for _, sub := range expectedSubcommands {
		if !strings.Contains(out, sub) {
			t.Errorf("help output missing subcommand %q", sub)
		}
	}
}

func TestRunCommandHelp(t *testing.T) {
	cmds := []string{"begin", "advance", "run", "resume"}
	for _, sub := range cmds {
		out, err := executeCommand(sub, "--help")
		if err != nil {
			t.Errorf("%s --help failed: %v", sub, err)
		}
		if out == "" {
			t.Errorf("%s --help produced no output", sub)
		}
	}
}

func TestInspectionCommandHelp(t *testing.T) {
	cmds := []string{"status", "events", "replay", "report", "stats"}
	for _, sub := range cmds {
		out, err := executeCommand(sub, "--help")
		if err != nil {
			t.Errorf("%s --help failed: %v", sub, err)
		}
		if out == "" {
			t.Errorf("%s --help produced no output", sub)
		}
	}
}

func TestDbSubcommands(t *testing.T) {
	subcmds := []string{"migrate", "reset"}
	for _, sub := range subcmds {
		out, err := executeCommand("db", sub, "--help")
		if err != nil {
			t.Errorf("db %s --help failed: %v", sub, err)
		}
		if out == "" {
			t.Errorf("db %s --help produced no output", sub)
		}
	}
}

func TestUnknownCommand(t *testing.T) {
	_, err := executeCommand("nonexistent")
	if err == nil {
		t.Error("expected error for unknown command, got nil")
	}
}
