package sse

import (
	"bufio"
	"io"
	"strings"

	"chatgate/internal/core"
)

// Reader decodes events incrementally from a byte stream. Partial events
// are buffered until their terminating blank line arrives, so network
// chunk boundaries never affect the result.
type Reader struct {
	br    *bufio.Reader
	opts  Options
	lines []string
	err   error
}

// NewReader returns a Reader with default options.
func NewReader(r io.Reader) *Reader {
	return NewReaderWithOptions(r, Options{})
}

// NewReaderWithOptions returns a Reader using opts.
func NewReaderWithOptions(r io.Reader, opts Options) *Reader {
	return &Reader{br: bufio.NewReader(r), opts: opts}
}

// Next returns the next decoded event. It returns io.EOF once the input is
// exhausted. Any other read error is returned as is and a partially
// received event is discarded.
func (r *Reader) Next() (core.StreamEvent, error) {
	for {
		if r.err != nil {
			return core.StreamEvent{}, r.err
		}

		line, err := r.br.ReadString('\n')
		if line != "" {
			trimmed := strings.TrimRight(line, "\r\n")
			if trimmed == "" && err == nil {
				if ev, ok := r.flush(); ok {
					return ev, nil
				}
				continue
			}
			if trimmed != "" {
				r.lines = append(r.lines, trimmed)
			}
		}

		if err != nil {
			r.err = err
			if err != io.EOF {
				r.lines = nil
				return core.StreamEvent{}, err
			}
			if ev, ok := r.flush(); ok {
				return ev, nil
			}
			return core.StreamEvent{}, io.EOF
		}
	}
}

func (r *Reader) flush() (core.StreamEvent, bool) {
	if len(r.lines) == 0 {
		return core.StreamEvent{}, false
	}
	raw := strings.Join(r.lines, "\n")
	r.lines = r.lines[:0]
	return r.opts.decodeEvent(raw)
}
