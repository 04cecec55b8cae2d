package tcp

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/roomrelay/relayd/internal/core"
	"github.com/roomrelay/relayd/internal/proto"
	"github.com/roomrelay/relayd/internal/store/disk"
	"github.com/roomrelay/relayd/internal/store/sqlite"
)

func startTestServer(t *testing.T, maxFrame int) (*Server, string) {
	t.Helper()

	uploads, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("sqlite: %v", err)
	}
	t.Cleanup(func() { _ = uploads.Close() })

	uploadDir := t.TempDir()
	blobs, err := disk.New(uploadDir)
	if err != nil {
		t.Fatalf("disk: %v", err)
	}

	logger := zerolog.Nop()
	hub := core.New(core.Options{}, uploads, blobs, nil, &logger)

	srv := NewServer(hub, "127.0.0.1:0", maxFrame, &logger)
	if err := srv.Listen(); err != nil {
		t.Fatalf("listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = srv.Serve(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	return srv, uploadDir
}

type testClient struct {
	conn net.Conn
	fr   *proto.FrameReader
}

func dial(t *testing.T, srv *Server) *testClient {
	t.Helper()

	conn, err := net.Dial("tcp", srv.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	return &testClient{conn: conn, fr: proto.NewFrameReader(conn, 1<<24)}
}

func (c *testClient) send(t *testing.T, env proto.Envelope) {
	t.Helper()
	if err := proto.WriteFrame(c.conn, env); err != nil {
		t.Fatalf("send: %v", err)
	}
}

// expect reads frames until one of the given type arrives.
func (c *testClient) expect(t *testing.T, typ string) proto.Envelope {
	t.Helper()

	deadline := time.Now().Add(3 * time.Second)
	_ = c.conn.SetReadDeadline(deadline)
	for time.Now().Before(deadline) {
		frame, err := c.fr.Next()
		if err != nil {
			t.Fatalf("waiting for %q: %v", typ, err)
		}
		env, err := proto.Decode(frame)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if env.Type == typ {
			return *env
		}
	}
	t.Fatalf("timed out waiting for %q", typ)
	return proto.Envelope{}
}

func (c *testClient) login(t *testing.T, username, password string) {
	t.Helper()
	c.send(t, proto.Envelope{Type: proto.TypeRegister, Username: username, Password: password})
	c.expect(t, proto.TypeRegistrationSuccess)
	c.send(t, proto.Envelope{Type: proto.TypeLogin, Username: username, Password: password})
	c.expect(t, proto.TypeLoginSuccess)
}

func TestRelayEndToEnd(t *testing.T) {
	srv, _ := startTestServer(t, 1<<20)

	alice := dial(t, srv)
	snapshot := alice.expect(t, proto.TypeRoomList)
	if len(snapshot.Rooms) != 1 || snapshot.Rooms[0] != "Public" {
		t.Fatalf("unexpected snapshot: %v", snapshot.Rooms)
	}
	alice.login(t, "alice", "pw1")

	alice.send(t, proto.Envelope{Type: proto.TypeCreateRoom, Room: "sports"})
	alice.expect(t, proto.TypeRoomList)
	alice.send(t, proto.Envelope{Type: proto.TypeJoinRoom, Room: "sports"})
	alice.expect(t, proto.TypeMessage) // own join notice

	bob := dial(t, srv)
	bob.expect(t, proto.TypeRoomList)
	bob.login(t, "bob", "pw2")
	bob.send(t, proto.Envelope{Type: proto.TypeJoinRoom, Room: "sports"})
	bob.expect(t, proto.TypeMessage)   // own join notice
	alice.expect(t, proto.TypeMessage) // bob's join notice

	alice.send(t, proto.Envelope{Type: proto.TypeMessage, Text: "go team"})
	for _, c := range []*testClient{alice, bob} {
		env := c.expect(t, proto.TypeMessage)
		if env.Sender != "alice" || env.Text != "go team" {
			t.Fatalf("unexpected chat: %+v", env)
		}
	}

	// Bob drops; alice sees the leave notice.
	bob.conn.Close()
	if env := alice.expect(t, proto.TypeMessage); env.Text != "bob has left the room" {
		t.Fatalf("unexpected leave notice: %+v", env)
	}
}

func TestFragmentedAndMergedDelivery(t *testing.T) {
	srv, _ := startTestServer(t, 1<<20)

	c := dial(t, srv)
	c.expect(t, proto.TypeRoomList)

	// One envelope dribbled out byte by byte.
	raw, err := json.Marshal(proto.Envelope{Type: proto.TypeRegister, Username: "alice", Password: "pw1"})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	raw = append(raw, '\n')
	for _, b := range raw {
		if _, err := c.conn.Write([]byte{b}); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	c.expect(t, proto.TypeRegistrationSuccess)

	// Two envelopes in a single write.
	var merged bytes.Buffer
	if err := proto.WriteFrame(&merged, proto.Envelope{Type: proto.TypeLogin, Username: "alice", Password: "pw1"}); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	if err := proto.WriteFrame(&merged, proto.Envelope{Type: proto.TypeMessage, Text: "both at once"}); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	if _, err := c.conn.Write(merged.Bytes()); err != nil {
		t.Fatalf("write merged: %v", err)
	}

	c.expect(t, proto.TypeLoginSuccess)
	if env := c.expect(t, proto.TypeMessage); env.Text != "both at once" {
		t.Fatalf("unexpected chat: %+v", env)
	}
}

func TestFileUploadPersistsExactBytes(t *testing.T) {
	srv, uploadDir := startTestServer(t, 1<<24)

	c := dial(t, srv)
	c.expect(t, proto.TypeRoomList)
	c.login(t, "alice", "pw1")

	// Two chunks of binary content crossing a chunk boundary.
	content := make([]byte, 300*1024)
	for i := range content {
		content[i] = byte(i * 31)
	}
	half := len(content) / 2

	c.send(t, proto.Envelope{Type: proto.TypeFile, FileType: proto.FileTypeStart, Filename: "blob.bin"})
	for _, part := range [][]byte{content[:half], content[half:]} {
		c.send(t, proto.Envelope{
			Type:     proto.TypeFile,
			FileType: proto.FileTypeChunk,
			Data:     base64.StdEncoding.EncodeToString(part),
		})
	}
	c.send(t, proto.Envelope{Type: proto.TypeFile, FileType: proto.FileTypeEnd, Filename: "blob.bin"})

	env := c.expect(t, proto.TypeFileAvailable)
	if env.Filename != "blob.bin" || env.Uploader != "alice" {
		t.Fatalf("unexpected fileAvailable: %+v", env)
	}

	persisted, err := os.ReadFile(filepath.Join(uploadDir, "blob.bin"))
	if err != nil {
		t.Fatalf("read persisted file: %v", err)
	}
	if !bytes.Equal(persisted, content) {
		t.Fatalf("persisted file differs: got %d bytes, want %d", len(persisted), len(content))
	}
}

func TestServeStopsWithConnectedClient(t *testing.T) {
	logger := zerolog.Nop()
	hub := core.New(core.Options{}, nil, nil, nil, &logger)
	srv := NewServer(hub, "127.0.0.1:0", 1<<20, &logger)
	if err := srv.Listen(); err != nil {
		t.Fatalf("listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()

	// An idle client that never hangs up on its own.
	conn, err := net.Dial("tcp", srv.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	fr := proto.NewFrameReader(conn, 1<<20)
	if _, err := fr.Next(); err != nil {
		t.Fatalf("snapshot: %v", err)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Serve: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Serve did not stop with a connected client")
	}

	// The client side is dropped as part of the drain.
	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	if _, err := fr.Next(); err == nil {
		t.Fatal("connection still open after shutdown")
	}
}

func TestOversizeFrameClosesConnection(t *testing.T) {
	srv, _ := startTestServer(t, 256)

	c := dial(t, srv)
	c.expect(t, proto.TypeRoomList)

	big := bytes.Repeat([]byte{'x'}, 1024)
	if _, err := c.conn.Write(append(big, '\n')); err != nil {
		t.Fatalf("write: %v", err)
	}

	// The server drops the connection; the next read fails once the
	// buffered snapshot is consumed.
	_ = c.conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	buf := make([]byte, 1024)
	for {
		if _, err := c.conn.Read(buf); err != nil {
			return
		}
	}
}
