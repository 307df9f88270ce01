// Package stream decodes the agent protocol's framed text streams. The
// transport delivers UTF-8 text in arbitrary chunks; a frame is one
// "event: <name>" line followed by a "data: <json>" line, with blank lines
// and chunk boundaries tolerated anywhere. The decoder never emits a frame
// until both lines have fully arrived.
package stream

import (
	"errors"
	"io"
	"strings"
)

// Frame is one complete event/data pair from the wire.
type Frame struct {
	Event string
	Data  []byte
}

// errNoFrame signals that buffered lines do not yet form a complete frame;
// callers of Next never see it.
var errNoFrame = errors.New("no complete frame buffered")

const (
	eventPrefix = "event:"
	dataPrefix  = "data:"
)

// Decoder turns an arbitrary byte stream into an ordered sequence of
// complete frames. It is not safe for concurrent use; exactly one decode
// loop owns a decoder.
type Decoder struct {
	r       io.Reader
	buf     strings.Builder // trailing partial line, not yet terminated
	pending []string        // complete lines awaiting pairing
	event   string          // most recent unconsumed event name
	dropped int             // data lines discarded (no event name or caller rejected)
	eof     bool
	scratch [4096]byte
}

// NewDecoder creates a decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: r}
}

// Dropped returns how many protocol violations the decoder discarded so
// far (data lines with no preceding event line).
func (d *Decoder) Dropped() int {
	return d.dropped
}

// Next returns the next complete frame, or io.EOF when the stream ends.
// An unterminated trailing partial frame at EOF is discarded, never
// emitted partially. Transport read errors are returned as-is.
func (d *Decoder) Next() (Frame, error) {
	for {
		if frame, err := d.takeFrame(); err == nil {
			return frame, nil
		}
		if d.eof {
			return Frame{}, io.EOF
		}
		if err := d.fill(); err != nil {
			if errors.Is(err, io.EOF) {
				// Flush any final newline-terminated lines before giving up.
				d.eof = true
				continue
			}
			return Frame{}, err
		}
	}
}

// fill reads one chunk from the transport and splits it into lines,
// re-buffering any trailing partial line for the next chunk.
func (d *Decoder) fill() error {
	n, err := d.r.Read(d.scratch[:])
	if n > 0 {
		d.buf.WriteString(string(d.scratch[:n]))
		text := d.buf.String()
		lines := strings.Split(text, "\n")
		// The last element has no trailing newline yet; keep buffering it.
		tail := lines[len(lines)-1]
		d.pending = append(d.pending, lines[:len(lines)-1]...)
		d.buf.Reset()
		d.buf.WriteString(tail)
	}
	if err != nil {
		return err
	}
	return nil
}

// takeFrame consumes pending lines until a frame is assembled. A data line
// with no remembered event name is a protocol violation and is dropped.
func (d *Decoder) takeFrame() (Frame, error) {
	for len(d.pending) > 0 {
		line := strings.TrimRight(d.pending[0], "\r")
		d.pending = d.pending[1:]

		switch {
		case strings.HasPrefix(line, eventPrefix):
			d.event = strings.TrimSpace(line[len(eventPrefix):])
		case strings.HasPrefix(line, dataPrefix):
			if d.event == "" {
				d.dropped++
				continue
			}
			frame := Frame{
				Event: d.event,
				Data:  []byte(strings.TrimSpace(line[len(dataPrefix):])),
			}
			d.event = ""
			return frame, nil
		default:
			// Blank lines and unknown field lines are ignored.
		}
	}
	return Frame{}, errNoFrame
}
