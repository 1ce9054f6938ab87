package feed

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// keepRecordings bounds how many session files the recording directory
// accumulates. OpenCapture prunes the oldest beyond this before it
// starts a new one.
const keepRecordings = 5

// Capture appends every raw frame of a session to a file the Replayer
// can play back. One file per server run; lines are frames, verbatim.
type Capture struct {
	mu   sync.Mutex
	f    *os.File
	w    *bufio.Writer
	path string
	n    int
}

// OpenCapture starts a new session file under dir, named after the
// start time so lexical order is chronological.
func OpenCapture(dir string, now time.Time) (*Capture, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create recording dir: %w", err)
	}
	pruneRecordings(dir, keepRecordings-1)

	path := filepath.Join(dir, "session_"+now.Format("20060102_150405")+".frames")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create recording: %w", err)
	}
	return &Capture{f: f, w: bufio.NewWriter(f), path: path}, nil
}

// Path returns the session file location.
func (c *Capture) Path() string { return c.path }

// Write appends one frame. KIS frames never contain newlines; anything
// that does is skipped so the file stays replayable line by line.
func (c *Capture) Write(frame string) {
	if strings.ContainsRune(frame, '\n') {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.w == nil {
		return
	}
	c.w.WriteString(frame)
	c.w.WriteByte('\n')
	c.n++
}

// Close flushes the session file. Write after Close is a no-op.
func (c *Capture) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.w == nil {
		return nil
	}

	flushErr := c.w.Flush()
	closeErr := c.f.Close()
	c.w, c.f = nil, nil

	slog.Info("Recording closed", slog.String("path", c.path), slog.Int("frames", c.n))
	if flushErr != nil {
		return flushErr
	}
	return closeErr
}

func pruneRecordings(dir string, keep int) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}

	var names []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, "session_") || !strings.HasSuffix(name, ".frames") {
			continue
		}
		names = append(names, name)
	}
	if len(names) <= keep {
		return
	}

	sort.Strings(names)
	for _, name := range names[:len(names)-keep] {
		path := filepath.Join(dir, name)
		if err := os.Remove(path); err != nil {
			slog.Warn("Failed to remove old recording", slog.String("path", path))
		} else {
			slog.Info("Removed old recording", slog.String("path", path))
		}
	}
}
