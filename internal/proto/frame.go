package proto

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Frames on the TCP stream are newline-delimited JSON envelopes. A single
// read may carry a fragment of a frame or several frames back to back; the
// FrameReader reassembles exactly one complete frame per call regardless.

// ErrFrameTooLarge is returned when a frame exceeds the configured limit.
// The stream is unrecoverable past this point, so callers close the
// connection.
var ErrFrameTooLarge = errors.New("frame exceeds size limit")

// FrameReader yields one complete frame at a time from a byte stream.
type FrameReader struct {
	r   *bufio.Reader
	max int
}

// NewFrameReader wraps r with a frame limit of max bytes per envelope.
func NewFrameReader(r io.Reader, max int) *FrameReader {
	return &FrameReader{
		r:   bufio.NewReaderSize(r, 64*1024),
		max: max,
	}
}

// Next blocks until one full frame is available and returns it without the
// trailing delimiter. Empty lines are skipped.
func (fr *FrameReader) Next() ([]byte, error) {
	var frame []byte
	for {
		part, err := fr.r.ReadSlice('\n')
		frame = append(frame, part...)
		if len(frame) > fr.max {
			return nil, ErrFrameTooLarge
		}
		if err == nil {
			line := bytes.TrimSpace(frame)
			if len(line) == 0 {
				frame = frame[:0]
				continue
			}
			return line, nil
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if errors.Is(err, io.EOF) && len(bytes.TrimSpace(frame)) > 0 {
			// Stream ended mid-frame; the partial envelope is lost.
			return nil, io.ErrUnexpectedEOF
		}
		return nil, err
	}
}

// WriteFrame marshals one envelope and appends the delimiter in a single
// write so concurrent writers cannot interleave partial frames.
func WriteFrame(w io.Writer, env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	data = append(data, '\n')
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}
