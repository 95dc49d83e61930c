// Package printer renders coloured terminal output for the nexus CLI.
package printer

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
)

var (
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
	red    = color.New(color.FgRed, color.Bold)
	cyan   = color.New(color.FgCyan)
	bold   = color.New(color.Bold)
	faint  = color.New(color.Faint)
)

// Printer writes formatted messages to a writer.
type Printer struct {
	out io.Writer
	err io.Writer
}

// New returns a printer writing to out, and errors to errOut.
func New(out, errOut io.Writer) *Printer {
	return &Printer{out: out, err: errOut}
}

var std = New(os.Stdout, os.Stderr)

// Success prints a success message in green with a checkmark prefix.
func (p *Printer) Success(format string, a ...any) {
	msg := fmt.Sprintf(format, a...)
	if !strings.HasPrefix(msg, "✓") {
		msg = "✓ " + msg
	}
	green.Fprint(p.out, msg)
}

// Info prints an informational message in the default color.
func (p *Printer) Info(format string, a ...any) {
	fmt.Fprintf(p.out, format, a...)
}

// Warning prints a warning message in yellow.
func (p *Printer) Warning(format string, a ...any) {
	msg := fmt.Sprintf(format, a...)
	if !strings.HasPrefix(msg, "⚠️") {
		msg = "⚠️  " + msg
	}
	yellow.Fprint(p.out, msg)
}

// Step prints a step message with emphasis.
func (p *Printer) Step(format string, a ...any) {
	cyan.Fprintf(p.out, "→ %s", fmt.Sprintf(format, a...))
}

// Speaker prints a labelled chat line: the label in bold, then the text.
func (p *Printer) Speaker(label, text string) {
	bold.Fprintf(p.out, "%s: ", label)
	fmt.Fprintln(p.out, text)
}

// Faint prints secondary details.
func (p *Printer) Faint(format string, a ...any) {
	faint.Fprintf(p.out, format, a...)
}

// Error prints a title, an explanation and suggestions to the error
// writer, and returns a simple error for Cobra.
func (p *Printer) Error(title, explanation string, suggestions []string) error {
	red.Fprintf(p.err, "%s\n\n", title)
	if explanation != "" {
		fmt.Fprintf(p.err, "%s\n", explanation)
	}
	if len(suggestions) > 0 {
		fmt.Fprintf(p.err, "\n")
		if len(suggestions) == 1 {
			fmt.Fprintf(p.err, "%s\n", suggestions[0])
		} else {
			fmt.Fprintf(p.err, "Either:\n")
			for i, s := range suggestions {
				fmt.Fprintf(p.err, "  %d. %s\n", i+1, s)
			}
		}
	}
	return fmt.Errorf("%s", title)
}

// Success prints to stdout.
func Success(format string, a ...any) { std.Success(format, a...) }

// Info prints to stdout.
func Info(format string, a ...any) { std.Info(format, a...) }

// Warning prints to stdout.
func Warning(format string, a ...any) { std.Warning(format, a...) }

// Step prints to stdout.
func Step(format string, a ...any) { std.Step(format, a...) }

// Error prints to stderr and returns an error for Cobra.
func Error(title, explanation string, suggestions []string) error {
	return std.Error(title, explanation, suggestions)
}
