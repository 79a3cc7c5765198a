package ui

import (
	"fmt"
	"io"
	"sync"
	"time"
)

// Reporter prints line-oriented progress for index and replace runs.
// It is safe for concurrent use by commit workers.
type Reporter struct {
	mu     sync.Mutex
	out    io.Writer
	styles Styles
	quiet  bool
	errors int
	warns  int
}

// NewReporter creates a reporter from cfg.
func NewReporter(cfg Config) *Reporter {
	out := cfg.Output
	if out == nil {
		out = io.Discard
	}
	return &Reporter{
		out:    out,
		styles: GetStyles(cfg.NoColor),
		quiet:  cfg.Quiet,
	}
}

// UpdateProgress prints one progress line:
// [STAGE] current/total partition - message
func (r *Reporter) UpdateProgress(event ProgressEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.quiet {
		return
	}
	label := r.styles.Stage.Render(fmt.Sprintf("[%s]", event.Stage.Icon()))
	subject := event.Message
	if event.Partition != "" {
		subject = event.Partition + " - " + subject
	}
	if event.Total > 0 {
		_, _ = fmt.Fprintf(r.out, "%s %d/%d %s\n", label, event.Current, event.Total, subject)
	} else if subject != "" {
		_, _ = fmt.Fprintf(r.out, "%s %s\n", label, subject)
	}
}

// AddError prints an error or warning. Errors are printed even when quiet.
func (r *Reporter) AddError(event ErrorEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	prefix := r.styles.Error.Render("ERROR")
	if event.IsWarn {
		r.warns++
		if r.quiet {
			return
		}
		prefix = r.styles.Warning.Render("WARN")
	} else {
		r.errors++
	}

	if event.Partition != "" {
		_, _ = fmt.Fprintf(r.out, "%s: %s: %v\n", prefix, event.Partition, event.Err)
	} else {
		_, _ = fmt.Fprintf(r.out, "%s: %v\n", prefix, event.Err)
	}
}

// Complete prints the summary line, counting errors and warnings reported
// through AddError.
func (r *Reporter) Complete(stats CompletionStats) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats.Errors += r.errors
	stats.Warnings += r.warns
	_, _ = fmt.Fprintf(r.out, "%s %d documents in %d partitions (%s)",
		r.styles.Success.Render("Complete:"),
		stats.Documents, stats.Partitions, stats.Duration.Round(time.Millisecond))
	if stats.Errors > 0 || stats.Warnings > 0 {
		_, _ = fmt.Fprintf(r.out, " (%d errors, %d warnings)", stats.Errors, stats.Warnings)
	}
	_, _ = fmt.Fprintln(r.out)
}
