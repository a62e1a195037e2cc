// Copyright The Mantle Authors
// SPDX-License-Identifier: Apache-2.0

package util

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/coreos/ioprogress"
	"github.com/coreos/pkg/capnslog"
	"golang.org/x/term"
)

var plog = capnslog.NewPackageLogger("github.com/flatcar/amiupload", "util")

// Progress observes a long running operation. It never influences the
// operation itself. Implementations must be safe for concurrent use.
type Progress interface {
	// Start announces the expected total, in the unit the caller counts.
	Start(total int64)
	// Add records n more units as done.
	Add(n int64)
	// Finish marks the operation as over, successful or not.
	Finish()
}

type nopProgress struct{}

func (nopProgress) Start(int64) {}
func (nopProgress) Add(int64)   {}
func (nopProgress) Finish()     {}

// NoProgress discards all updates.
var NoProgress Progress = nopProgress{}

// OrNoProgress returns p, or NoProgress if p is nil.
func OrNoProgress(p Progress) Progress {
	if p == nil {
		return NoProgress
	}
	return p
}

// Bar draws a single line text progress bar, rate limited to one redraw
// per interval.
type Bar struct {
	interval time.Duration
	// endsLines is set when every draw already ends its line, which
	// ioprogress does for anything but a terminal.
	endsLines bool

	mu       sync.Mutex
	draw     ioprogress.DrawFunc
	total    int64
	current  int64
	lastDraw time.Time
	finished bool
}

// NewBar returns a Bar drawing to w. When bytes is set the counts are
// rendered as byte sizes, otherwise as plain item counts.
func NewBar(w io.Writer, prefix string, bytes bool) *Bar {
	// ripped off from rkt
	fmtBytesSize := 18
	barSize := int64(80 - len(prefix) - fmtBytesSize)
	if barSize < 8 {
		barSize = 8
	}
	bar := ioprogress.DrawTextFormatBarForW(barSize, w)
	fmtfunc := func(progress, total int64) string {
		if total <= 0 {
			return fmt.Sprintf("%s: %v of an unknown total", prefix, progress)
		}
		counts := fmt.Sprintf("%d/%d", progress, total)
		if bytes {
			counts = ioprogress.DrawTextFormatBytes(progress, total)
		}
		return fmt.Sprintf("%s: %s %s", prefix, bar(progress, total), counts)
	}

	return &Bar{
		interval:  200 * time.Millisecond,
		endsLines: !isTerminal(w),
		draw:      ioprogress.DrawTerminalf(w, fmtfunc),
	}
}

func isTerminal(w io.Writer) bool {
	if f, ok := w.(*os.File); ok {
		return term.IsTerminal(int(f.Fd()))
	}
	return false
}

func (b *Bar) Start(total int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.total = total
	b.current = 0
	b.finished = false
	b.redraw(true)
}

func (b *Bar) Add(n int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.current += n
	b.redraw(b.current >= b.total)
}

func (b *Bar) Finish() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.finished {
		return
	}
	b.finished = true
	b.redraw(true)
	if b.endsLines {
		return
	}
	// (-1, -1) tells ioprogress to terminate the line
	if err := b.draw(-1, -1); err != nil {
		plog.Debugf("Finishing progress bar failed: %v", err)
	}
}

func (b *Bar) redraw(force bool) {
	if b.finished && !force {
		return
	}
	now := time.Now()
	if !force && now.Sub(b.lastDraw) < b.interval {
		return
	}
	b.lastDraw = now
	if err := b.draw(b.current, b.total); err != nil {
		plog.Debugf("Drawing progress bar failed: %v", err)
	}
}
