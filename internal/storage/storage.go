package storage

import "errors"

var (
	ErrUserNotFound      = errors.New("user not found")
	ErrUserAlreadyExists = errors.New("user already exists")
	ErrRecordNotFound    = errors.New("record not found")
	ErrRecordExists      = errors.New("record already exists")
	ErrInvalidTTL        = errors.New("ttl must be positive")
)
