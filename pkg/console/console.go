// Package console prints operator facing diagnostics on the terminal,
// separate from the structured session log.
package console

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
)

type Console struct {
	out io.Writer

	hint    *color.Color
	warn    *color.Color
	err     *color.Color
	success *color.Color
}

func New(out io.Writer) *Console {
	if out == nil {
		out = os.Stderr
	}
	return &Console{
		out:     out,
		hint:    color.New(color.FgCyan),
		warn:    color.New(color.FgYellow),
		err:     color.New(color.FgRed, color.Bold),
		success: color.New(color.FgGreen),
	}
}

// NoColor strips escape codes, for output that is not a terminal.
func (c *Console) NoColor() {
	for _, col := range []*color.Color{c.hint, c.warn, c.err, c.success} {
		col.DisableColor()
	}
}

func (c *Console) Hintf(format string, v ...any) {
	c.hint.Fprintf(c.out, "HINT: "+format+"\n", v...)
}

// Steps prints commands the operator has to run, one per line.
func (c *Console) Steps(title string, steps []string) {
	c.hint.Fprintf(c.out, "HINT: %s\n", title)
	for _, s := range steps {
		fmt.Fprintf(c.out, "    %s\n", s)
	}
}

func (c *Console) Warnf(format string, v ...any) {
	c.warn.Fprintf(c.out, "WARN: "+format+"\n", v...)
}

func (c *Console) Errorf(format string, v ...any) {
	c.err.Fprintf(c.out, "ERROR: "+format+"\n", v...)
}

func (c *Console) Successf(format string, v ...any) {
	c.success.Fprintf(c.out, format+"\n", v...)
}
