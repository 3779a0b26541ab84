package domain

import "errors"

var (
	// ErrNotFound is returned by repositories when a record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrSlugTaken is returned when a tenant slug is already reserved on the network.
	ErrSlugTaken = errors.New("slug already taken")
	// ErrUsernameTaken is returned when an account username collides.
	ErrUsernameTaken = errors.New("username already taken")
	// ErrEmailTaken is returned when an account with the same email exists.
	ErrEmailTaken = errors.New("email already registered")
	// ErrAlreadyBlocked is returned when an address is already on the blocklist.
	ErrAlreadyBlocked = errors.New("address already blocked")
)
