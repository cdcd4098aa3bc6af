package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/srg/bluezkit/internal/groutine"
	"go.uber.org/atomic"
	"golang.org/x/term"
)

const (
	progressUpdateInterval = 100 * time.Millisecond
	clearLineSequence      = "\r\033[K"
)

// ProgressPrinter shows a single status line with elapsed (or remaining)
// seconds while a command waits on the daemon.
//
//	p := NewProgressPrinter(cmd.ErrOrStderr(), "Scanning", "Scanning", 0, "Processing results")
//	p.Start()
//	defer p.Stop()
//
// Output is suppressed unless out is a terminal, so piped and captured
// output stays clean. A printer is single-use.
type ProgressPrinter struct {
	out        io.Writer
	enabled    bool
	prefix     string
	phase      *atomic.String
	stopPhases map[string]struct{}
	countdown  time.Duration // zero counts up

	started  atomic.Bool
	stopOnce sync.Once
	cancel   context.CancelFunc
	done     <-chan struct{}
}

// NewProgressPrinter creates a printer. With countdown > 0 it shows the
// remaining time instead of the elapsed time. Setting any of stopPhases
// through Callback stops the printer.
func NewProgressPrinter(out io.Writer, prefix, phase string, countdown time.Duration, stopPhases ...string) *ProgressPrinter {
	stopSet := make(map[string]struct{}, len(stopPhases))
	for _, p := range stopPhases {
		stopSet[p] = struct{}{}
	}
	return &ProgressPrinter{
		out:        out,
		enabled:    isTerminal(out),
		prefix:     prefix,
		phase:      atomic.NewString(phase),
		stopPhases: stopSet,
		countdown:  countdown,
	}
}

// Start begins displaying progress updates. Panics if called twice.
func (p *ProgressPrinter) Start() {
	if !p.started.CompareAndSwap(false, true) {
		panic("ProgressPrinter.Start called more than once")
	}
	if !p.enabled {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	startTime := time.Now()
	p.print(p.phase.Load(), 0)

	p.done = groutine.Go(ctx, "progress-printer", func(ctx context.Context) {
		ticker := time.NewTicker(progressUpdateInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			phase := p.phase.Load()
			if _, stop := p.stopPhases[phase]; stop {
				return
			}
			p.print(phase, p.seconds(time.Since(startTime)))
		}
	})
}

func (p *ProgressPrinter) seconds(elapsed time.Duration) int {
	if p.countdown <= 0 {
		return int(elapsed.Seconds())
	}
	remaining := p.countdown - elapsed
	if remaining <= 0 {
		return 0
	}
	// Round to the nearest second
	return int(remaining.Seconds() + 0.5)
}

func (p *ProgressPrinter) print(phase string, seconds int) {
	if seconds > 0 {
		fmt.Fprintf(p.out, "\r%s (%s %ds)   ", p.prefix, phase, seconds)
		return
	}
	fmt.Fprintf(p.out, "\r%s (%s...)   ", p.prefix, phase)
}

// Callback returns a phase setter suitable for scanner.ProgressCallback.
// Setting a stop phase stops the printer.
func (p *ProgressPrinter) Callback() func(phase string) {
	return func(phase string) {
		p.phase.Store(phase)
		if _, stop := p.stopPhases[phase]; stop {
			p.Stop()
		}
	}
}

// Stop ends the display and clears the line. Safe to call repeatedly.
func (p *ProgressPrinter) Stop() {
	p.stopOnce.Do(func() {
		if p.cancel == nil {
			return
		}
		p.cancel()
		<-p.done
		fmt.Fprint(p.out, clearLineSequence)
	})
}

// isTerminal reports whether w is an interactive terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
