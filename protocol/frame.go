package protocol

import (
	"errors"
	"io"
)

const readChunk = 4096

// ReadFrame reads one brace-delimited JSON document from r. It returns as soon
// as the running count of '{' and '}' returns to zero after the first '{', or
// when r reaches EOF. Braces inside strings are counted like any other; the
// server never sends unbalanced braces in string values.
func ReadFrame(r io.Reader) ([]byte, error) {
	var (
		frame   []byte
		buf     = make([]byte, readChunk)
		depth   int
		started bool
	)
	for {
		n, err := r.Read(buf)
		for i := 0; i < n; i++ {
			switch buf[i] {
			case '{':
				depth++
				started = true
			case '}':
				depth--
			}
			if started && depth <= 0 {
				return append(frame, buf[:i+1]...), nil
			}
		}
		frame = append(frame, buf[:n]...)

		if errors.Is(err, io.EOF) {
			return frame, nil
		}
		if err != nil {
			return frame, err
		}
	}
}
