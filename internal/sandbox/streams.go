package sandbox

import (
	"strings"
	"sync"
	"unicode/utf8"
)

// truncationMarker is appended once to a stream that hit its byte limit.
const truncationMarker = "\n... (output truncated)\n"

// Streams is the per-call output sink bound into an execution's runtime.
// Every execution owns its own Streams, so nothing written by one
// submitted program can reach another program's result.
type Streams struct {
	stdout cappedBuffer
	stderr cappedBuffer
}

// NewStreams creates sinks that keep at most limit bytes each.
// A limit <= 0 disables the cap.
func NewStreams(limit int) *Streams {
	return &Streams{
		stdout: cappedBuffer{limit: limit},
		stderr: cappedBuffer{limit: limit},
	}
}

// WriteStdout appends s to the captured standard output.
func (s *Streams) WriteStdout(text string) { s.stdout.write(text) }

// WriteStderr appends s to the captured standard error.
func (s *Streams) WriteStderr(text string) { s.stderr.write(text) }

// Stdout returns everything captured on standard output so far.
func (s *Streams) Stdout() string { return s.stdout.String() }

// Stderr returns everything captured on standard error so far.
func (s *Streams) Stderr() string { return s.stderr.String() }

// Release drops the buffered text. The Streams must not be used afterwards.
func (s *Streams) Release() {
	s.stdout.reset()
	s.stderr.reset()
}

type cappedBuffer struct {
	mu        sync.Mutex
	b         strings.Builder
	limit     int
	truncated bool
}

func (c *cappedBuffer) write(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.truncated {
		return
	}
	if c.limit > 0 && c.b.Len()+len(text) > c.limit {
		room := c.limit - c.b.Len()
		for room > 0 && room < len(text) && !utf8.RuneStart(text[room]) {
			room--
		}
		if room > 0 {
			c.b.WriteString(text[:room])
		}
		c.b.WriteString(truncationMarker)
		c.truncated = true
		return
	}
	c.b.WriteString(text)
}

func (c *cappedBuffer) String() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.b.String()
}

func (c *cappedBuffer) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.b.Reset()
	c.truncated = false
}
