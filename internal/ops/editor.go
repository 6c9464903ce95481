package ops

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
)

// Editor lets a user change the file at path in place. Edit returns once
// the edit is finished.
type Editor interface {
	Edit(ctx context.Context, path string) error
}

// CommandEditor runs an external editor attached to the terminal.
type CommandEditor struct {
	// Command is the editor command line, e.g. "code --wait". Empty means
	// $EDITOR, then vi.
	Command string
	// Stdin, Stdout and Stderr default to the process's own streams.
	Stdin          io.Reader
	Stdout, Stderr io.Writer
}

func (e CommandEditor) commandLine() []string {
	line := e.Command
	if strings.TrimSpace(line) == "" {
		line = os.Getenv("EDITOR")
	}
	if strings.TrimSpace(line) == "" {
		line = "vi"
	}
	return strings.Fields(line)
}

func (e CommandEditor) Edit(ctx context.Context, path string) error {
	argv := append(e.commandLine(), path)
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stdin, cmd.Stdout, cmd.Stderr = e.Stdin, e.Stdout, e.Stderr
	if cmd.Stdin == nil {
		cmd.Stdin = os.Stdin
	}
	if cmd.Stdout == nil {
		cmd.Stdout = os.Stdout
	}
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s: %w", argv[0], err)
	}
	return nil
}

// EditorFunc adapts a function to Editor.
type EditorFunc func(ctx context.Context, path string) error

func (f EditorFunc) Edit(ctx context.Context, path string) error { return f(ctx, path) }
