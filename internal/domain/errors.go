package domain

import "errors"

var (
	ErrUserNotFound           = errors.New("user not found")
	ErrEmailAlreadyRegistered = errors.New("email is already registered")
	ErrInvalidRole            = errors.New("invalid role")
)
