package store

import "errors"

var (
	ErrNotFound         = errors.New("record not found")
	ErrInvalidReference = errors.New("referenced record does not exist")
	ErrAlreadyCompleted = errors.New("sync log already completed")
)
