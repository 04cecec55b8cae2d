package core

// Kind classifies a domain failure surfaced to the originating session.
type Kind string

const (
	KindInvalidInput     Kind = "invalid_input"
	KindDuplicateUser    Kind = "duplicate_user"
	KindDuplicateRoom    Kind = "duplicate_room"
	KindAuthFailure      Kind = "auth_failure"
	KindNotAuthenticated Kind = "not_authenticated"
	KindRoomNotFound     Kind = "room_not_found"
	KindNoRoom           Kind = "no_room"
	KindProtocol         Kind = "protocol_violation"
	KindInternal         Kind = "internal"
)

// Error wraps a kind and a human-readable message. Every logical failure
// is delivered to the session as an error envelope; the connection itself
// is never closed over one.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

func domainError(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}
