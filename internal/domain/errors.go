package domain

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrAlreadyExists     = errors.New("already exists")
	ErrRateLimited       = errors.New("rate limited")
	ErrLockHeld          = errors.New("lock already held")
	ErrInvalidConfig     = errors.New("invalid agent config")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrZeroPrice         = errors.New("zero reference price")
	ErrInvalidPrice      = errors.New("invalid price")
	ErrReadOnly          = errors.New("agents are not run by this process")
	ErrShuttingDown      = errors.New("agent manager is shutting down")
)
