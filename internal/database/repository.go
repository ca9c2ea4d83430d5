package database

import (
	"context"
)

// IdentityStore persists the user -> person -> image -> encoding graph.
type IdentityStore interface {
	// CreateUser creates a user with no people. Fails with ErrAlreadyExists if the ID is taken.
	CreateUser(ctx context.Context, userID string) error
	// CreatePerson creates a person with an empty encoding set and returns its store-assigned ID.
	CreatePerson(ctx context.Context, name string) (string, error)
	// LinkPersonToUser adds the person to the user's person set.
	// Returns false when the link already existed. ErrNotFound for an unknown user or person.
	LinkPersonToUser(ctx context.Context, userID, personID string) (bool, error)
	// DeletePerson removes the person with its encodings, its user link and its image links.
	// Images left without people are removed too. ErrNotFound for an unknown person.
	DeletePerson(ctx context.Context, personID string) error
	// AppendEncodings appends to the person's encoding set.
	// ErrNotFound for an unknown person, ErrStorageConflict on a concurrent-write failure.
	AppendEncodings(ctx context.Context, personID string, encodings []Encoding) error
	// GetUserGraph returns the user's people with their encodings, or nil if the user is unknown.
	GetUserGraph(ctx context.Context, userID string) (*UserGraph, error)
	// RenamePerson renames one of the user's people and reports whether the name changed.
	RenamePerson(ctx context.Context, userID, personID, name string) (bool, error)
	// LinkImageToPeople records that the people appear in the image, creating the image if absent.
	// Links have set semantics.
	LinkImageToPeople(ctx context.Context, userID, imageID string, personIDs []string) error
	// DeleteImage atomically removes the image, every encoding sourced from it, and every person
	// left without encodings. Returns all people that were touched, or an empty slice when the
	// image does not exist.
	DeleteImage(ctx context.Context, userID, imageID string) ([]string, error)
	// ListUserImageIDs returns the IDs of all images stored for the user.
	ListUserImageIDs(ctx context.Context, userID string) ([]string, error)
	// ListPeople returns the user's people with the images they appear in.
	// ErrNotFound for an unknown user.
	ListPeople(ctx context.Context, userID string) ([]PersonSummary, error)
	// Close releases the underlying connections.
	Close() error
}

// Resetter is implemented by stores that can drop all data.
type Resetter interface {
	// Reset removes every user, person and image.
	Reset(ctx context.Context) error
}
