package core

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/roomrelay/relayd/internal/auth"
	"github.com/roomrelay/relayd/internal/proto"
	"github.com/roomrelay/relayd/internal/store"
)

// Options tunes hub behavior. Zero values fall back to sane defaults.
type Options struct {
	// DefaultRoom is the room every session lands in on login.
	DefaultRoom string
	// MaxUploadBytes caps one session's accumulated upload. <= 0 disables
	// the cap.
	MaxUploadBytes int64
	// SessionBuffer is the outbound envelope buffer per session.
	SessionBuffer int
}

type user struct {
	name         string
	passwordHash string
}

// Hub is the single owner of users, rooms, sessions and pending uploads.
// Transports register sessions with it and feed it raw frames; it mutates
// the shared registries under one mutex and pushes outbound envelopes into
// per-session buffered channels.
type Hub struct {
	mu       sync.Mutex
	users    map[string]*user
	rooms    map[string]*Room
	sessions map[string]*Session

	opts    Options
	uploads store.UploadStore
	blobs   store.BlobStore
	jwtCfg  *auth.JWTConfig
	log     *zerolog.Logger
}

// New constructs a hub with the default room already present.
func New(opts Options, uploads store.UploadStore, blobs store.BlobStore, jwtCfg *auth.JWTConfig, logger *zerolog.Logger) *Hub {
	if opts.DefaultRoom == "" {
		opts.DefaultRoom = "Public"
	}
	if opts.SessionBuffer <= 0 {
		opts.SessionBuffer = 64
	}

	h := &Hub{
		users:    make(map[string]*user),
		rooms:    make(map[string]*Room),
		sessions: make(map[string]*Session),
		opts:     opts,
		uploads:  uploads,
		blobs:    blobs,
		jwtCfg:   jwtCfg,
		log:      logger,
	}
	h.rooms[opts.DefaultRoom] = newRoom(opts.DefaultRoom, "")
	return h
}

// Connect registers a fresh unauthenticated session and pushes the current
// room-list snapshot to it. The caller drains Events until it closes.
func (h *Hub) Connect() *Session {
	s := &Session{
		ID:  uuid.NewString(),
		out: make(chan proto.Envelope, h.opts.SessionBuffer),
	}

	h.mu.Lock()
	h.sessions[s.ID] = s
	s.send(proto.NewRoomList(h.roomNamesLocked()))
	h.mu.Unlock()

	h.log.Debug().Str("session_id", s.ID).Msg("session connected")
	return s
}

// Disconnect removes a session, notifying its room if it had joined one.
// Calling it twice for the same session is a no-op.
func (h *Hub) Disconnect(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.sessions[s.ID]; !ok {
		return
	}

	if s.authenticated() && s.room != "" {
		if room, ok := h.rooms[s.room]; ok {
			room.remove(s)
			room.broadcast(proto.NewNotice(s.user + " has left the room"))
		}
	}

	s.pending = nil
	delete(h.sessions, s.ID)
	close(s.out)

	h.log.Info().Str("session_id", s.ID).Str("user", s.user).Msg("session disconnected")
}

// Dispatch decodes one frame and routes it. Undecodable frames are dropped
// without a reply; every other failure is surfaced to the session as an
// error envelope.
func (h *Hub) Dispatch(s *Session, frame []byte) {
	env, err := proto.Decode(frame)
	if err != nil {
		h.log.Debug().Err(err).Str("session_id", s.ID).Msg("dropping malformed envelope")
		return
	}

	cmd, err := proto.ParseCommand(env)
	if err != nil {
		h.reply(s, domainError(KindProtocol, "Protocol violation: "+err.Error()))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.sessions[s.ID]; !ok {
		return
	}

	var derr *Error
	switch c := cmd.(type) {
	case proto.Register:
		derr = h.handleRegister(s, c)
	case proto.Login:
		derr = h.handleLogin(s, c)
	case proto.CreateRoom:
		derr = h.handleCreateRoom(s, c)
	case proto.JoinRoom:
		derr = h.handleJoinRoom(s, c)
	case proto.Chat:
		derr = h.handleChat(s, c)
	case proto.FileStart:
		derr = h.handleFileStart(s, c)
	case proto.FileChunk:
		derr = h.handleFileChunk(s, c)
	case proto.FileEnd:
		derr = h.handleFileEnd(s, c)
	case proto.FileUploaded:
		derr = h.handleFileUploaded(s, c)
	case proto.DownloadFile:
		derr = h.handleDownloadFile(s, c)
	case proto.RoomListRequest:
		s.send(proto.NewRoomList(h.roomNamesLocked()))
	}

	if derr != nil {
		h.log.Debug().
			Str("session_id", s.ID).
			Str("kind", string(derr.Kind)).
			Str("type", env.Type).
			Msg(derr.Message)
		s.send(proto.NewError(derr.Message))
	}
}

// reply sends an error envelope outside of a held lock.
func (h *Hub) reply(s *Session, derr *Error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.sessions[s.ID]; !ok {
		return
	}
	h.log.Debug().Str("session_id", s.ID).Str("kind", string(derr.Kind)).Msg(derr.Message)
	s.send(proto.NewError(derr.Message))
}

func (h *Hub) handleRegister(s *Session, c proto.Register) *Error {
	if c.Username == "" || c.Password == "" {
		return domainError(KindInvalidInput, "Invalid username or password")
	}
	if _, exists := h.users[c.Username]; exists {
		return domainError(KindDuplicateUser, "Username already exists")
	}

	hash, err := auth.HashPassword(c.Password)
	if err != nil {
		h.log.Error().Err(err).Msg("hash password")
		return domainError(KindInternal, "Registration failed")
	}

	h.users[c.Username] = &user{name: c.Username, passwordHash: hash}
	s.send(proto.NewRegistrationSuccess())
	h.log.Info().Str("user", c.Username).Msg("user registered")
	return nil
}

func (h *Hub) handleLogin(s *Session, c proto.Login) *Error {
	u, ok := h.users[c.Username]
	if !ok || auth.ComparePassword(u.passwordHash, c.Password) != nil {
		return domainError(KindAuthFailure, "Invalid username or password")
	}

	// Re-login moves the session out of whatever room the previous
	// identity was in, with the same notice a disconnect would send.
	if s.room != "" {
		if prev, ok := h.rooms[s.room]; ok {
			prev.remove(s)
			prev.broadcast(proto.NewNotice(s.user + " has left the room"))
		}
	}

	s.user = c.Username
	public := h.rooms[h.opts.DefaultRoom]
	public.add(s)
	s.room = public.Name

	var token string
	if h.jwtCfg != nil {
		var err error
		token, err = auth.GenerateToken(h.jwtCfg, c.Username)
		if err != nil {
			h.log.Warn().Err(err).Str("user", c.Username).Msg("issue token")
		}
	}
	s.send(proto.NewLoginSuccess(token))
	h.log.Info().Str("user", c.Username).Str("session_id", s.ID).Msg("user logged in")
	return nil
}

func (h *Hub) handleCreateRoom(s *Session, c proto.CreateRoom) *Error {
	if !s.authenticated() {
		return domainError(KindNotAuthenticated, "You must be logged in")
	}
	if c.Name == "" {
		return domainError(KindInvalidInput, "Invalid room name")
	}
	if _, exists := h.rooms[c.Name]; exists {
		return domainError(KindDuplicateRoom, "Room already exists")
	}

	var hash string
	if c.Password != "" {
		var err error
		hash, err = auth.HashPassword(c.Password)
		if err != nil {
			h.log.Error().Err(err).Msg("hash room password")
			return domainError(KindInternal, "Room creation failed")
		}
	}

	h.rooms[c.Name] = newRoom(c.Name, hash)
	h.broadcastRoomListLocked()
	h.log.Info().Str("room", c.Name).Str("user", s.user).Msg("room created")
	return nil
}

func (h *Hub) handleJoinRoom(s *Session, c proto.JoinRoom) *Error {
	if !s.authenticated() {
		return domainError(KindNotAuthenticated, "You must be logged in")
	}

	room, ok := h.rooms[c.Name]
	if !ok {
		return domainError(KindRoomNotFound, "Room does not exist")
	}
	if room.passwordHash != "" && auth.ComparePassword(room.passwordHash, c.Password) != nil {
		return domainError(KindAuthFailure, "Invalid room password")
	}

	// Leave before join keeps a session in at most one participant set.
	if s.room != "" {
		if prev, ok := h.rooms[s.room]; ok {
			prev.remove(s)
		}
	}

	room.add(s)
	s.room = room.Name
	room.broadcast(proto.NewNotice(s.user + " has joined the room"))
	h.log.Info().Str("user", s.user).Str("room", room.Name).Msg("joined room")
	return nil
}

func (h *Hub) handleChat(s *Session, c proto.Chat) *Error {
	if !s.authenticated() {
		return domainError(KindNotAuthenticated, "You must be logged in")
	}
	if c.Text == "" {
		return nil
	}
	if s.room == "" {
		return domainError(KindNoRoom, "You must join a room first")
	}

	h.rooms[s.room].broadcast(proto.NewChatMessage(s.user, c.Text))
	return nil
}

func (h *Hub) handleFileStart(s *Session, c proto.FileStart) *Error {
	// Last start wins; any half-finished upload from this session is gone.
	s.pending = &pendingUpload{filename: c.Filename}
	return nil
}

func (h *Hub) handleFileChunk(s *Session, c proto.FileChunk) *Error {
	if s.pending == nil {
		return domainError(KindProtocol, "File chunk without a preceding start")
	}

	s.pending.append(c.Data)
	if h.opts.MaxUploadBytes > 0 && s.pending.size() > h.opts.MaxUploadBytes {
		s.pending = nil
		return domainError(KindProtocol, "Upload exceeds the size limit")
	}
	return nil
}

func (h *Hub) handleFileEnd(s *Session, c proto.FileEnd) *Error {
	if !s.authenticated() {
		s.pending = nil
		return domainError(KindNotAuthenticated, "You must be logged in")
	}
	if s.pending == nil {
		return domainError(KindProtocol, "File end without a preceding start")
	}

	filename := c.Filename
	if filename == "" {
		filename = s.pending.filename
	}
	data := s.pending.buf.Bytes()
	s.pending = nil

	if filename == "" {
		return domainError(KindInvalidInput, "Invalid file name")
	}

	// Disk writes run off the dispatch path; the fileAvailable or error
	// envelope lands once persistence finishes.
	go h.persistUpload(s.ID, s.user, filename, data)
	return nil
}

func (h *Hub) persistUpload(sessionID, uploader, filename string, data []byte) {
	if err := h.blobs.Save(filename, data); err != nil {
		h.log.Error().Err(err).Str("filename", filename).Msg("persist upload")
		h.post(sessionID, proto.NewError("Failed to store file "+filename))
		return
	}

	if h.uploads != nil {
		sum := sha256.Sum256(data)
		rec := store.Upload{
			Filename: filename,
			Uploader: uploader,
			Size:     int64(len(data)),
			SHA256:   hex.EncodeToString(sum[:]),
		}
		h.mu.Lock()
		if s, ok := h.sessions[sessionID]; ok {
			rec.Room = s.room
		}
		h.mu.Unlock()
		if _, err := h.uploads.RecordUpload(context.Background(), rec); err != nil {
			h.log.Warn().Err(err).Str("filename", filename).Msg("record upload")
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.sessions[sessionID]
	if !ok || s.room == "" {
		return
	}
	if room, ok := h.rooms[s.room]; ok {
		room.broadcast(proto.NewFileAvailable(filename, uploader))
	}
	h.log.Info().Str("user", uploader).Str("filename", filename).Int("size", len(data)).Msg("file persisted")
}

// post delivers one envelope to a session if it is still registered.
func (h *Hub) post(sessionID string, env proto.Envelope) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s, ok := h.sessions[sessionID]; ok {
		s.send(env)
	}
}

func (h *Hub) handleFileUploaded(s *Session, c proto.FileUploaded) *Error {
	if !s.authenticated() {
		return domainError(KindNotAuthenticated, "You must be logged in")
	}

	// Out-of-band notice; silently skipped when the sender is roomless.
	if s.room != "" {
		if room, ok := h.rooms[s.room]; ok {
			room.broadcast(proto.NewFileAvailable(c.Filename, s.user))
		}
	}
	return nil
}

func (h *Hub) handleDownloadFile(s *Session, c proto.DownloadFile) *Error {
	if !s.authenticated() {
		return domainError(KindNotAuthenticated, "You must be logged in")
	}
	if h.uploads == nil {
		return domainError(KindRoomNotFound, "File not available: "+c.Filename)
	}

	go h.lookupFile(s.ID, c.Filename)
	return nil
}

func (h *Hub) lookupFile(sessionID, filename string) {
	rec, err := h.uploads.GetUpload(context.Background(), filename)
	if err != nil {
		h.post(sessionID, proto.NewError("File not available: "+filename))
		return
	}
	h.post(sessionID, proto.NewFileAvailable(rec.Filename, rec.Uploader))
}

// RoomNames returns the sorted names of all known rooms.
func (h *Hub) RoomNames() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.roomNamesLocked()
}

func (h *Hub) roomNamesLocked() []string {
	names := make([]string, 0, len(h.rooms))
	for name := range h.rooms {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (h *Hub) broadcastRoomListLocked() {
	env := proto.NewRoomList(h.roomNamesLocked())
	for _, s := range h.sessions {
		if s.authenticated() {
			s.send(env)
		}
	}
}
