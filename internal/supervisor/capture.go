package supervisor

import (
	"bytes"
	"strings"
	"unicode"
)

// maxLineBytes bounds a line held back waiting for its newline.
const maxLineBytes = 64 * 1024

// capture buffers one output stream up to a byte limit and forwards each
// complete line to onLine. exec copies each stream from a single goroutine,
// so no locking is needed until Wait returns.
type capture struct {
	stream    Stream
	limit     int
	buf       bytes.Buffer
	truncated bool
	partial   []byte
	onLine    func(Stream, string)
}

func newCapture(stream Stream, limit int, onLine func(Stream, string)) *capture {
	return &capture{stream: stream, limit: limit, onLine: onLine}
}

func (c *capture) Write(p []byte) (int, error) {
	if room := c.limit - c.buf.Len(); room > 0 {
		if len(p) > room {
			c.buf.Write(p[:room])
			c.truncated = true
		} else {
			c.buf.Write(p)
		}
	} else if len(p) > 0 {
		c.truncated = true
	}

	if c.onLine != nil {
		c.partial = append(c.partial, p...)
		for {
			i := bytes.IndexByte(c.partial, '\n')
			if i < 0 {
				break
			}
			c.onLine(c.stream, strings.TrimRight(string(c.partial[:i]), "\r"))
			c.partial = c.partial[i+1:]
		}
		if len(c.partial) > maxLineBytes {
			c.flush()
		}
	}
	return len(p), nil
}

// flush emits any trailing line that had no newline.
func (c *capture) flush() {
	if c.onLine != nil && len(c.partial) > 0 {
		c.onLine(c.stream, string(c.partial))
	}
	c.partial = nil
}

// String returns the captured output with trailing whitespace removed.
func (c *capture) String() string {
	out := strings.TrimRightFunc(c.buf.String(), unicode.IsSpace)
	if c.truncated {
		out += "\n[output truncated]"
	}
	return out
}
