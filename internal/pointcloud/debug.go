package pointcloud

import (
	"io"
	"log"
)

// LogWriters holds the io.Writers for each logging stream. A nil writer
// disables that stream.
type LogWriters struct {
	// Ops receives actionable warnings and stage failures.
	Ops io.Writer
	// Diag receives per-stage summaries (counts, ratios, iterations).
	Diag io.Writer
	// Trace receives per-iteration detail from the clustering loop.
	Trace io.Writer
}

// Logger is the diagnostic sink handed to each stage. A nil *Logger is
// valid and discards everything, so components stay silent unless their
// caller supplies one.
type Logger struct {
	ops   *log.Logger
	diag  *log.Logger
	trace *log.Logger
}

// NewLogger builds a Logger writing each stream to its writer in w.
func NewLogger(w LogWriters) *Logger {
	return &Logger{
		ops:   newLogger("[cloudscan] ", w.Ops),
		diag:  newLogger("[cloudscan] ", w.Diag),
		trace: newLogger("[cloudscan] ", w.Trace),
	}
}

func newLogger(prefix string, w io.Writer) *log.Logger {
	if w == nil {
		return nil
	}
	return log.New(w, prefix, log.LstdFlags|log.Lmicroseconds)
}

// Opsf logs to the ops stream.
func (l *Logger) Opsf(format string, args ...interface{}) {
	if l != nil && l.ops != nil {
		l.ops.Printf(format, args...)
	}
}

// Diagf logs to the diag stream.
func (l *Logger) Diagf(format string, args ...interface{}) {
	if l != nil && l.diag != nil {
		l.diag.Printf(format, args...)
	}
}

// Tracef logs to the trace stream.
func (l *Logger) Tracef(format string, args ...interface{}) {
	if l != nil && l.trace != nil {
		l.trace.Printf(format, args...)
	}
}

// TraceEnabled reports whether the trace stream has a writer, so callers
// can skip building expensive trace lines.
func (l *Logger) TraceEnabled() bool {
	return l != nil && l.trace != nil
}
