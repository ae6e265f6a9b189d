package session

import "errors"

var (
	ErrSessionNotFound     = errors.New("session not found")
	ErrInvalidStoreAddress = errors.New("invalid session store address")
	ErrMalformedSession    = errors.New("malformed session data")
	ErrNoTicket            = errors.New("session has no authentication ticket")
	ErrNoUserID            = errors.New("authentication ticket has no user id")
)
