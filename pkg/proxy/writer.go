package proxy

import (
	"fmt"
	"strings"
)

const indentWidth = 2

// writer builds indented source text line by line.
type writer struct {
	sb     strings.Builder
	indent int
}

func (w *writer) line(format string, args ...interface{}) {
	if format == "" {
		w.sb.WriteByte('\n')
		return
	}
	w.sb.WriteString(strings.Repeat(" ", w.indent*indentWidth))
	if len(args) == 0 {
		w.sb.WriteString(format)
	} else {
		fmt.Fprintf(&w.sb, format, args...)
	}
	w.sb.WriteByte('\n')
}

func (w *writer) in() {
	w.indent++
}

func (w *writer) out() {
	w.indent--
}

func (w *writer) String() string {
	return w.sb.String()
}
