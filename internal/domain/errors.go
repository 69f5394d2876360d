package domain

import "errors"

var (
	ErrNotFound       = errors.New("not found")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrInvalidMessage = errors.New("invalid message")
	ErrNoConversation = errors.New("no conversation joined")
	ErrConflict       = errors.New("already exists")
)
