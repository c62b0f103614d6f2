package mcp

import (
	"sync"
	"time"
)

const maxLogLines = 1000

// LogLine is one line recorded in a connection's log ring buffer.
type LogLine struct {
	Time time.Time
	Text string
}

// ringLog is a bounded, single-writer log buffer: once full, appending drops
// the oldest line. Readers get a copy so they never observe a buffer being
// mutated mid-read.
type ringLog struct {
	mu    sync.Mutex
	lines []LogLine
	start int
	count int
}

func newRingLog() *ringLog {
	return &ringLog{lines: make([]LogLine, maxLogLines)}
}

// Append records one log line, dropping the oldest if the buffer is full.
func (r *ringLog) Append(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry := LogLine{Time: time.Now(), Text: text}
	if r.count < maxLogLines {
		r.lines[(r.start+r.count)%maxLogLines] = entry
		r.count++
		return
	}
	// full: overwrite the oldest slot and advance start
	r.lines[r.start] = entry
	r.start = (r.start + 1) % maxLogLines
}

// Tail returns up to maxLines of the most recent log lines, oldest first.
// maxLines <= 0 means "all retained lines".
func (r *ringLog) Tail(maxLines int) []LogLine {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := r.count
	if maxLines > 0 && maxLines < n {
		n = maxLines
	}
	out := make([]LogLine, n)
	// the most recent n lines start at (start+count-n) mod cap
	first := (r.start + r.count - n + maxLogLines) % maxLogLines
	for i := 0; i < n; i++ {
		out[i] = r.lines[(first+i)%maxLogLines]
	}
	return out
}

// Len reports how many lines are currently retained (<= maxLogLines).
func (r *ringLog) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}
