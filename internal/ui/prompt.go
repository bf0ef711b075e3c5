package ui

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// Prompter asks the operator to confirm destructive commands.
type Prompter interface {
	Confirm(question string) bool
}

// TerminalPrompter implements Prompter using terminal I/O.
type TerminalPrompter struct {
	reader *bufio.Reader
	writer io.Writer
}

// NewTerminalPrompter creates a TerminalPrompter using stdin/stdout.
func NewTerminalPrompter() *TerminalPrompter {
	return NewPrompter(os.Stdin, os.Stdout)
}

// NewPrompter creates a TerminalPrompter over r and w.
func NewPrompter(r io.Reader, w io.Writer) *TerminalPrompter {
	return &TerminalPrompter{reader: bufio.NewReader(r), writer: w}
}

// Confirm defaults to no on empty input or EOF.
func (p *TerminalPrompter) Confirm(question string) bool {
	fmt.Fprintf(p.writer, "%s [y/N] ", question)
	line, _ := p.reader.ReadString('\n')
	switch strings.TrimSpace(strings.ToLower(line)) {
	case "y", "yes":
		return true
	default:
		return false
	}
}

// AlwaysYes confirms everything; used for --yes.
type AlwaysYes struct{}

func (AlwaysYes) Confirm(string) bool { return true }
