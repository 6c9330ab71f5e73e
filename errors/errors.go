package errors

import "fmt"

var (
	// Authentication failures reject the connection before any room access.
	ErrUnauthenticated = fmt.Errorf("invalid or expired credential")
	ErrAccountDisabled = fmt.Errorf("account is inactive or blocked")

	// Per-event failures are scoped to a conversation; the connection stays alive.
	ErrForbidden            = fmt.Errorf("not allowed to access this conversation")
	ErrConversationNotFound = fmt.Errorf("conversation not found")
	ErrUserNotFound         = fmt.Errorf("user not found")
	ErrEmptyMessage         = fmt.Errorf("message needs text or a file reference")
	ErrConversationClosed   = fmt.Errorf("conversation is closed")
	ErrPersistence          = fmt.Errorf("store unavailable")

	ErrUnsupportedAttachment = fmt.Errorf("attachment type not allowed")
	ErrWorkerPanic           = fmt.Errorf("worker panic")
)
