package process

import (
	"bytes"
	"sync"
)

// OutputBuffer accumulates command output and hands it out through a
// cursor. While the command runs the cursor only advances to a newline
// boundary; after Seal the trailing partial line is released too.
type OutputBuffer struct {
	mu     sync.Mutex
	data   []byte
	cursor int
	sealed bool
}

// Write implements io.Writer.
func (b *OutputBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data = append(b.data, p...)
	return len(p), nil
}

// Unretrieved returns and consumes output since the cursor up to and
// including the last newline. It returns "" when nothing complete is new.
func (b *OutputBuffer) Unretrieved() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	end := len(b.data)
	if !b.sealed {
		nl := bytes.LastIndexByte(b.data[b.cursor:], '\n')
		if nl < 0 {
			return ""
		}
		end = b.cursor + nl + 1
	}
	if end <= b.cursor {
		return ""
	}
	out := string(b.data[b.cursor:end])
	b.cursor = end
	return out
}

// HasUnretrieved reports whether any output lies past the cursor.
func (b *OutputBuffer) HasUnretrieved() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cursor < len(b.data)
}

// Seal marks the output complete.
func (b *OutputBuffer) Seal() {
	b.mu.Lock()
	b.sealed = true
	b.mu.Unlock()
}

// String returns the full output.
func (b *OutputBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.data)
}

// Len returns the number of bytes written so far.
func (b *OutputBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data)
}
