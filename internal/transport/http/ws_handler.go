package http

import (
	"context"
	"errors"
	stdhttp "net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/roomrelay/relayd/internal/core"
)

// WSHandler upgrades HTTP connections and bridges them to hub sessions.
// One WebSocket message carries exactly one envelope, so the newline
// framing of the TCP transport is unnecessary here.
type WSHandler struct {
	hub      *core.Hub
	maxFrame int
	log      *zerolog.Logger
}

// NewWSHandler builds a new WebSocket handler. maxFrame caps a single
// inbound message, the same limit the TCP framing applies.
func NewWSHandler(hub *core.Hub, maxFrame int, logger *zerolog.Logger) stdhttp.Handler {
	return &WSHandler{hub: hub, maxFrame: maxFrame, log: logger}
}

func (h *WSHandler) ServeHTTP(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return
	}

	// The library default of 32 KiB is far below one base64 file chunk.
	if h.maxFrame > 0 {
		conn.SetReadLimit(int64(h.maxFrame))
	}
	defer conn.Close(websocket.StatusInternalError, "internal error")

	sess := h.hub.Connect()
	defer h.hub.Disconnect(sess)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	errCh := make(chan error, 2)
	go func() {
		errCh <- h.readLoop(ctx, conn, sess)
	}()
	go func() {
		errCh <- h.writeLoop(ctx, conn, sess)
	}()

	err = <-errCh
	h.hub.Disconnect(sess)
	cancel() // stop the other goroutine
	<-errCh

	status := websocket.StatusNormalClosure
	reason := "closing"
	if err != nil && !errors.Is(err, context.Canceled) {
		if s := websocket.CloseStatus(err); s != 0 {
			status = s
		}
		if status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway {
			h.log.Warn().Err(err).Str("session_id", sess.ID).Msg("ws connection closed with error")
		}
	}

	conn.Close(status, reason)
}

func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, sess *core.Session) error {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		h.hub.Dispatch(sess, data)
	}
}

func (h *WSHandler) writeLoop(ctx context.Context, conn *websocket.Conn, sess *core.Session) error {
	for {
		select {
		case env, ok := <-sess.Events():
			if !ok {
				return nil
			}
			if err := wsjson.Write(ctx, conn, env); err != nil {
				h.log.Debug().Err(err).Str("session_id", sess.ID).Msg("write ws event")
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
