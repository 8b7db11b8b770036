package repository

import "errors"

// ErrDuplicate is returned when a write would violate a uniqueness rule.
var ErrDuplicate = errors.New("repository: duplicate record")
