package models

import "github.com/pkg/errors"

var (
	ErrNotAuthorized       = errors.New("not authorized")
	ErrInvalidTransition   = errors.New("invalid status transition")
	ErrInvalidToken        = errors.New("order not found or tracking token is invalid")
	ErrNotFound            = errors.New("not found")
	ErrLocationUnavailable = errors.New("location unavailable")
	ErrStaleState          = errors.New("order was modified concurrently")
	ErrInvalidInput        = errors.New("invalid input")
	ErrSessionActive       = errors.New("another tracking session is active")
	ErrAlreadyExists       = errors.New("already exists")
	ErrRateLimited         = errors.New("too many requests")
)
