package repositories

import (
	"errors"

	"gorm.io/gorm"
)

var (
	ErrNotFound      = errors.New("record not found")
	ErrDuplicateOpen = errors.New("an open attempt already exists for this user and exam")
)

// IsNotFoundError reports whether err means the requested row does not exist,
// regardless of which layer produced it.
func IsNotFoundError(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound) || errors.Is(err, ErrNotFound)
}
