package protocol

import (
	"bytes"
)

// MaxFrameSize bounds how many bytes a single frame may occupy. A peer
// that streams an unterminated object cannot grow the buffer forever.
const MaxFrameSize = 64 * 1024

// Extractor turns a raw byte stream into complete frames. The stream has
// no length prefix or separator; a frame is one JSON object delimited by
// its balanced braces. Brace counting is string-aware: braces inside a
// quoted message body never open or close a frame.
//
// Feed may be called with any slicing of the stream: a frame split across
// reads stays buffered until completed, and several frames arriving in one
// read are all returned, in order.
type Extractor struct {
	buf []byte
}

// Feed appends data to the buffer and returns every complete frame now
// available.
func (e *Extractor) Feed(data []byte) [][]byte {
	e.buf = append(e.buf, data...)

	var frames [][]byte
	for {
		frame, rest, ok := scanFrame(e.buf)
		e.buf = rest
		if !ok {
			break
		}
		frames = append(frames, frame)
	}

	// Drop a partial frame that can no longer terminate within bounds.
	if len(e.buf) > MaxFrameSize {
		e.buf = nil
	}
	return frames
}

// Pending returns how many buffered bytes await completion.
func (e *Extractor) Pending() int {
	return len(e.buf)
}

// scanFrame extracts the first balanced-brace region from buf. It returns
// the frame, the remaining bytes, and whether a complete frame was found.
// Bytes before the first '{' are noise and discarded.
func scanFrame(buf []byte) (frame, rest []byte, ok bool) {
	start := bytes.IndexByte(buf, '{')
	if start < 0 {
		return nil, nil, false
	}
	buf = buf[start:]

	depth := 0
	inString := false
	escaped := false
	for i, b := range buf {
		if inString {
			switch {
			case escaped:
				escaped = false
			case b == '\\':
				escaped = true
			case b == '"':
				inString = false
			}
			continue
		}
		switch b {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return buf[:i+1], buf[i+1:], true
			}
		}
	}
	return nil, buf, false
}
