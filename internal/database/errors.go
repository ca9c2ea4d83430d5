package database

import "errors"

// Error kinds shared by every backend. Backends wrap them with detail:
//
//	fmt.Errorf("%w: person %s", database.ErrNotFound, id)
var (
	ErrNotFound        = errors.New("not found")
	ErrAlreadyExists   = errors.New("already exists")
	ErrDuplicateImage  = errors.New("duplicate image")
	ErrStorageConflict = errors.New("storage conflict")
	ErrInvalidInput    = errors.New("invalid input")
)
