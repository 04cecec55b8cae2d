package core

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/roomrelay/relayd/internal/proto"
	"github.com/roomrelay/relayd/internal/store"
)

// memBlobs is an in-memory store.BlobStore with failure injection.
type memBlobs struct {
	mu       sync.Mutex
	files    map[string][]byte
	failSave bool
}

func newMemBlobs() *memBlobs {
	return &memBlobs{files: make(map[string][]byte)}
}

func (b *memBlobs) Save(name string, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failSave {
		return errors.New("disk full")
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	b.files[name] = cp
	return nil
}

func (b *memBlobs) Resolve(name string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.files[name]; !ok {
		return "", store.ErrNotFound
	}
	return name, nil
}

func (b *memBlobs) get(name string) ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.files[name]
	return data, ok
}

// memLedger is an in-memory store.UploadStore.
type memLedger struct {
	mu   sync.Mutex
	recs []store.Upload
}

func (l *memLedger) RecordUpload(_ context.Context, up store.Upload) (*store.Upload, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	up.ID = int64(len(l.recs) + 1)
	up.CreatedAt = time.Now()
	l.recs = append(l.recs, up)
	return &up, nil
}

func (l *memLedger) GetUpload(_ context.Context, filename string) (*store.Upload, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := len(l.recs) - 1; i >= 0; i-- {
		if l.recs[i].Filename == filename {
			rec := l.recs[i]
			return &rec, nil
		}
	}
	return nil, store.ErrNotFound
}

func (l *memLedger) ListUploads(_ context.Context) ([]store.Upload, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]store.Upload, len(l.recs))
	copy(out, l.recs)
	return out, nil
}

func (l *memLedger) Close() error { return nil }

func (l *memLedger) latest(filename string) (store.Upload, bool) {
	rec, err := l.GetUpload(context.Background(), filename)
	if err != nil {
		return store.Upload{}, false
	}
	return *rec, true
}

func newTestHub(t *testing.T, opts Options) (*Hub, *memBlobs, *memLedger) {
	t.Helper()
	blobs := newMemBlobs()
	ledger := &memLedger{}
	logger := zerolog.Nop()
	return New(opts, ledger, blobs, nil, &logger), blobs, ledger
}

// send marshals an envelope and dispatches it as if it arrived on the wire.
func send(t *testing.T, h *Hub, s *Session, env proto.Envelope) {
	t.Helper()
	raw, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	h.Dispatch(s, raw)
}

// login registers (ignoring duplicates) and logs a user in, draining the
// envelopes both steps produce.
func login(t *testing.T, h *Hub, s *Session, username, password string) {
	t.Helper()
	send(t, h, s, proto.Envelope{Type: proto.TypeRegister, Username: username, Password: password})
	drain(s)
	send(t, h, s, proto.Envelope{Type: proto.TypeLogin, Username: username, Password: password})
	mustEvent(t, s, proto.TypeLoginSuccess)
}

// mustEvent waits for the next envelope of the given type, skipping others.
func mustEvent(t *testing.T, s *Session, typ string) proto.Envelope {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case env, ok := <-s.Events():
			if !ok {
				t.Fatalf("session closed while waiting for %q", typ)
			}
			if env.Type == typ {
				return env
			}
		case <-deadline:
			t.Fatalf("timed out waiting for envelope %q", typ)
		}
	}
}

// mustNoEvent asserts that nothing is delivered within a short window.
func mustNoEvent(t *testing.T, s *Session) {
	t.Helper()
	select {
	case env, ok := <-s.Events():
		if ok {
			t.Fatalf("unexpected envelope %+v", env)
		}
	case <-time.After(100 * time.Millisecond):
	}
}

// drain empties whatever is currently buffered for the session.
func drain(s *Session) {
	for {
		select {
		case <-s.Events():
		default:
			return
		}
	}
}
