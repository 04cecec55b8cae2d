package core

import "bytes"

// pendingUpload accumulates chunk bytes for one session between a start
// and its matching end envelope. At most one exists per session; a new
// start discards whatever the previous one had collected.
type pendingUpload struct {
	filename string
	buf      bytes.Buffer
}

func (p *pendingUpload) append(data []byte) {
	p.buf.Write(data)
}

func (p *pendingUpload) size() int64 {
	return int64(p.buf.Len())
}
