package cmd

import (
	"fmt"
	"io"
	"sync"
	"text/tabwriter"

	"meeting-pipeline/internal/entity"
	"meeting-pipeline/internal/pipeline"
)

// renderer prints a job's log as it arrives and a stage summary at the end.
type renderer struct {
	mu    sync.Mutex
	out   io.Writer
	final pipeline.Event
	done  chan struct{}
}

func newRenderer(out io.Writer) *renderer {
	return &renderer{out: out, done: make(chan struct{})}
}

func (r *renderer) OnEvent(ev pipeline.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, l := range ev.NewLogs {
		fmt.Fprintln(r.out, l.String())
	}
	if !ev.Terminal {
		return
	}
	r.final = ev
	r.summary(ev)
	close(r.done)
}

func (r *renderer) summary(ev pipeline.Event) {
	fmt.Fprintln(r.out)
	w := tabwriter.NewWriter(r.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "STAGE\tSTATUS\tDURATION")
	for _, s := range ev.Stages {
		duration := "-"
		if s.Status.IsTerminal() {
			duration = fmt.Sprintf("%dms", s.DurationMs)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", s.Label, s.Status, duration)
	}
	_ = w.Flush()
	fmt.Fprintf(r.out, "\nJob %s %s (%.0f%%)\n", ev.JobID, ev.State, ev.Progress)
}

// Done is closed after the terminal event has been printed.
func (r *renderer) Done() <-chan struct{} {
	return r.done
}

func (r *renderer) State() entity.JobState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.final.State
}
