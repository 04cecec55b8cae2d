package proto

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
)

// Envelope is the self-describing wire message exchanged on the control
// channel. Fields are flat; which ones are meaningful depends on Type.
type Envelope struct {
	Type     string   `json:"type"`
	Username string   `json:"username,omitempty"`
	Password string   `json:"password,omitempty"`
	Room     string   `json:"room,omitempty"`
	Text     string   `json:"text,omitempty"`
	Sender   string   `json:"sender,omitempty"`
	FileType string   `json:"fileType,omitempty"`
	Filename string   `json:"filename,omitempty"`
	Data     string   `json:"data,omitempty"`
	Uploader string   `json:"uploader,omitempty"`
	Rooms    []string `json:"rooms,omitempty"`
	Message  string   `json:"message,omitempty"`
	Token    string   `json:"token,omitempty"`
}

// Client -> server envelope types.
const (
	TypeRegister     = "register"
	TypeLogin        = "login"
	TypeCreateRoom   = "createRoom"
	TypeJoinRoom     = "joinRoom"
	TypeMessage      = "message"
	TypeFile         = "file"
	TypeFileUploaded = "fileUploaded"
	TypeDownloadFile = "downloadFile"
	TypeRoomList     = "roomList"
)

// Server -> client envelope types. TypeMessage, TypeRoomList and
// TypeFileAvailable flow in both directions or carry different fields
// depending on direction.
const (
	TypeRegistrationSuccess = "registrationSuccess"
	TypeLoginSuccess        = "loginSuccess"
	TypeFileAvailable       = "fileAvailable"
	TypeError               = "error"
)

// File sub-protocol phases carried in Envelope.FileType.
const (
	FileTypeStart = "start"
	FileTypeChunk = "chunk"
	FileTypeEnd   = "end"
)

var (
	// ErrMalformed marks bytes that do not decode into an envelope object.
	// Callers drop these silently instead of replying.
	ErrMalformed = errors.New("malformed envelope")
)

// Decode parses raw bytes into an Envelope. Anything that is not a JSON
// object with a string type field is ErrMalformed.
func Decode(raw []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return &env, nil
}

// Command is the validated, typed form of an inbound envelope.
type Command interface{ isCommand() }

// Register asks to create a user account.
type Register struct{ Username, Password string }

// Login binds the session to an existing user.
type Login struct{ Username, Password string }

// CreateRoom creates a named room with an optional join password.
type CreateRoom struct{ Name, Password string }

// JoinRoom moves the session into a room.
type JoinRoom struct{ Name, Password string }

// Chat broadcasts text to the sender's current room.
type Chat struct{ Text string }

// FileStart opens a fresh upload accumulator for the session.
type FileStart struct{ Filename string }

// FileChunk appends decoded bytes to the session's pending upload.
type FileChunk struct{ Data []byte }

// FileEnd closes the pending upload and persists it.
type FileEnd struct{ Filename string }

// FileUploaded announces an externally transferred file to the room.
type FileUploaded struct{ Filename string }

// DownloadFile asks whether a persisted file is available.
type DownloadFile struct{ Filename string }

// RoomListRequest asks for a room-list snapshot.
type RoomListRequest struct{}

func (Register) isCommand()        {}
func (Login) isCommand()           {}
func (CreateRoom) isCommand()      {}
func (JoinRoom) isCommand()        {}
func (Chat) isCommand()            {}
func (FileStart) isCommand()       {}
func (FileChunk) isCommand()       {}
func (FileEnd) isCommand()         {}
func (FileUploaded) isCommand()    {}
func (DownloadFile) isCommand()    {}
func (RoomListRequest) isCommand() {}

// ParseCommand validates an envelope against the known inbound types and
// returns its typed form. Unknown types, unknown file phases and
// undecodable chunk data are protocol violations; field-level rules such
// as non-empty usernames are enforced by the hub, not here.
func ParseCommand(env *Envelope) (Command, error) {
	switch env.Type {
	case TypeRegister:
		return Register{Username: env.Username, Password: env.Password}, nil
	case TypeLogin:
		return Login{Username: env.Username, Password: env.Password}, nil
	case TypeCreateRoom:
		return CreateRoom{Name: env.Room, Password: env.Password}, nil
	case TypeJoinRoom:
		return JoinRoom{Name: env.Room, Password: env.Password}, nil
	case TypeMessage:
		return Chat{Text: env.Text}, nil
	case TypeFile:
		return parseFileCommand(env)
	case TypeFileUploaded:
		return FileUploaded{Filename: env.Filename}, nil
	case TypeDownloadFile:
		return DownloadFile{Filename: env.Filename}, nil
	case TypeRoomList:
		return RoomListRequest{}, nil
	default:
		return nil, fmt.Errorf("unknown envelope type %q", env.Type)
	}
}

func parseFileCommand(env *Envelope) (Command, error) {
	switch env.FileType {
	case FileTypeStart:
		return FileStart{Filename: env.Filename}, nil
	case FileTypeChunk:
		data, err := base64.StdEncoding.DecodeString(env.Data)
		if err != nil {
			return nil, fmt.Errorf("decode chunk data: %w", err)
		}
		return FileChunk{Data: data}, nil
	case FileTypeEnd:
		return FileEnd{Filename: env.Filename}, nil
	default:
		return nil, fmt.Errorf("unknown file phase %q", env.FileType)
	}
}

// Outbound constructors. Every server-to-client envelope goes through one
// of these so the field layout stays in one place.

// NewError wraps a human-readable failure message.
func NewError(msg string) Envelope {
	return Envelope{Type: TypeError, Message: msg}
}

// NewRoomList carries a snapshot of the known room names.
func NewRoomList(rooms []string) Envelope {
	return Envelope{Type: TypeRoomList, Rooms: rooms}
}

// NewChatMessage carries room chat from a named sender.
func NewChatMessage(sender, text string) Envelope {
	return Envelope{Type: TypeMessage, Sender: sender, Text: text}
}

// NewNotice carries a room notice with no sender ("x has joined the room").
func NewNotice(text string) Envelope {
	return Envelope{Type: TypeMessage, Text: text}
}

// NewFileAvailable announces a persisted or externally uploaded file.
func NewFileAvailable(filename, uploader string) Envelope {
	return Envelope{Type: TypeFileAvailable, Filename: filename, Uploader: uploader}
}

// NewRegistrationSuccess acknowledges a completed registration.
func NewRegistrationSuccess() Envelope {
	return Envelope{Type: TypeRegistrationSuccess}
}

// NewLoginSuccess acknowledges a login and carries the session's bearer
// token for the HTTP file endpoints.
func NewLoginSuccess(token string) Envelope {
	return Envelope{Type: TypeLoginSuccess, Token: token}
}
