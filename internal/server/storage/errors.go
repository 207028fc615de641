package storage

import "errors"

// Common storage errors
var (
	// ErrUserNotFound indicates that user was not found in storage
	ErrUserNotFound = errors.New("user not found")

	// ErrUserAlreadyExists indicates that user with this username already exists
	ErrUserAlreadyExists = errors.New("user already exists")

	// ErrProjectNotFound indicates that project row was not found
	ErrProjectNotFound = errors.New("project not found")

	// ErrEntityNotFound indicates that task or connection was not found
	ErrEntityNotFound = errors.New("entity not found")
)
