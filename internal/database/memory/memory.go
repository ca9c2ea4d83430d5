// Package memory provides an in-process IdentityStore for tests and local development.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kozaktomas/facegraph/internal/config"
	"github.com/kozaktomas/facegraph/internal/database"
	"github.com/kozaktomas/facegraph/internal/facematch"
)

func init() {
	database.RegisterBackend("memory", func(context.Context, *config.DatabaseConfig) (database.IdentityStore, error) {
		return New(), nil
	})
}

type userRecord struct {
	createdAt time.Time
	people    []string
}

type personRecord struct {
	name      string
	createdAt time.Time
	encodings []database.Encoding
}

type imageKey struct {
	userID  string
	imageID string
}

type imageRecord struct {
	people []string
}

// state is the whole graph. DeleteImage works on a clone and swaps it in on success.
type state struct {
	users  map[string]*userRecord
	people map[string]*personRecord
	images map[imageKey]*imageRecord
}

func newState() *state {
	return &state{
		users:  make(map[string]*userRecord),
		people: make(map[string]*personRecord),
		images: make(map[imageKey]*imageRecord),
	}
}

func (s *state) clone() *state {
	c := newState()
	for id, u := range s.users {
		c.users[id] = &userRecord{createdAt: u.createdAt, people: append([]string(nil), u.people...)}
	}
	for id, p := range s.people {
		c.people[id] = &personRecord{
			name:      p.name,
			createdAt: p.createdAt,
			encodings: append([]database.Encoding(nil), p.encodings...),
		}
	}
	for k, img := range s.images {
		c.images[k] = &imageRecord{people: append([]string(nil), img.people...)}
	}
	return c
}

// Store is a map-backed IdentityStore guarded by a single mutex.
type Store struct {
	mu    sync.RWMutex
	state *state
	now   func() time.Time

	// Error injection
	CreateUserError      error
	CreatePersonError    error
	LinkPersonError      error
	DeletePersonError    error
	AppendEncodingsError error
	GetUserGraphError    error
	RenamePersonError    error
	LinkImageError       error
	// DeleteImageError fails DeleteImage after the encodings were already removed
	// from the working copy, so tests can observe the rollback.
	DeleteImageError error
	ListImagesError  error
}

// New creates an empty store.
func New() *Store {
	return &Store{state: newState(), now: time.Now}
}

func (s *Store) CreateUser(ctx context.Context, userID string) error {
	if s.CreateUserError != nil {
		return s.CreateUserError
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.state.users[userID]; ok {
		return fmt.Errorf("%w: user %s", database.ErrAlreadyExists, userID)
	}
	s.state.users[userID] = &userRecord{createdAt: s.now()}
	return nil
}

func (s *Store) CreatePerson(ctx context.Context, name string) (string, error) {
	if s.CreatePersonError != nil {
		return "", s.CreatePersonError
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.NewString()
	s.state.people[id] = &personRecord{name: name, createdAt: s.now()}
	return id, nil
}

func (s *Store) LinkPersonToUser(ctx context.Context, userID, personID string) (bool, error) {
	if s.LinkPersonError != nil {
		return false, s.LinkPersonError
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.state.users[userID]
	if !ok {
		return false, fmt.Errorf("%w: user %s", database.ErrNotFound, userID)
	}
	if _, ok := s.state.people[personID]; !ok {
		return false, fmt.Errorf("%w: person %s", database.ErrNotFound, personID)
	}
	for _, id := range u.people {
		if id == personID {
			return false, nil
		}
	}
	u.people = append(u.people, personID)
	return true, nil
}

func (s *Store) DeletePerson(ctx context.Context, personID string) error {
	if s.DeletePersonError != nil {
		return s.DeletePersonError
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.state.people[personID]; !ok {
		return fmt.Errorf("%w: person %s", database.ErrNotFound, personID)
	}
	delete(s.state.people, personID)
	for _, u := range s.state.users {
		u.people = remove(u.people, personID)
	}
	for k, img := range s.state.images {
		if !slices.Contains(img.people, personID) {
			continue
		}
		img.people = remove(img.people, personID)
		if len(img.people) == 0 {
			delete(s.state.images, k)
		}
	}
	return nil
}

func (s *Store) AppendEncodings(ctx context.Context, personID string, encodings []database.Encoding) error {
	if s.AppendEncodingsError != nil {
		return s.AppendEncodingsError
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.state.people[personID]
	if !ok {
		return fmt.Errorf("%w: person %s", database.ErrNotFound, personID)
	}
	for _, e := range encodings {
		p.encodings = append(p.encodings, database.Encoding{
			Vector:  append(facematch.Vector(nil), e.Vector...),
			ImageID: e.ImageID,
		})
	}
	return nil
}

func (s *Store) GetUserGraph(ctx context.Context, userID string) (*database.UserGraph, error) {
	if s.GetUserGraphError != nil {
		return nil, s.GetUserGraphError
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.state.users[userID]
	if !ok {
		return nil, nil
	}

	graph := &database.UserGraph{UserID: userID}
	for _, id := range u.people {
		p, ok := s.state.people[id]
		if !ok {
			continue
		}
		graph.People = append(graph.People, database.PersonEncodings{
			Person:    database.Person{ID: id, Name: p.name, CreatedAt: p.createdAt},
			Encodings: append([]database.Encoding(nil), p.encodings...),
		})
	}
	return graph, nil
}

func (s *Store) RenamePerson(ctx context.Context, userID, personID, name string) (bool, error) {
	if s.RenamePersonError != nil {
		return false, s.RenamePersonError
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.state.owns(userID, personID) {
		return false, fmt.Errorf("%w: person %s of user %s", database.ErrNotFound, personID, userID)
	}
	p := s.state.people[personID]
	if p.name == name {
		return false, nil
	}
	p.name = name
	return true, nil
}

func (s *Store) LinkImageToPeople(ctx context.Context, userID, imageID string, personIDs []string) error {
	if s.LinkImageError != nil {
		return s.LinkImageError
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.state.users[userID]; !ok {
		return fmt.Errorf("%w: user %s", database.ErrNotFound, userID)
	}
	for _, id := range personIDs {
		if _, ok := s.state.people[id]; !ok {
			return fmt.Errorf("%w: person %s", database.ErrNotFound, id)
		}
	}

	key := imageKey{userID: userID, imageID: imageID}
	img, ok := s.state.images[key]
	if !ok {
		img = &imageRecord{}
		s.state.images[key] = img
	}
	for _, id := range personIDs {
		if !slices.Contains(img.people, id) {
			img.people = append(img.people, id)
		}
	}
	return nil
}

func (s *Store) DeleteImage(ctx context.Context, userID, imageID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.state.clone()
	key := imageKey{userID: userID, imageID: imageID}

	// (a) remove the image document
	img, ok := work.images[key]
	if !ok {
		return []string{}, nil
	}
	delete(work.images, key)
	touched := append([]string{}, img.people...)

	// (b) drop encodings sourced from the image
	for _, id := range touched {
		p, ok := work.people[id]
		if !ok {
			continue
		}
		kept := p.encodings[:0]
		for _, e := range p.encodings {
			if e.ImageID != imageID {
				kept = append(kept, e)
			}
		}
		p.encodings = kept
	}

	if s.DeleteImageError != nil {
		return nil, fmt.Errorf("%w: %w", database.ErrStorageConflict, s.DeleteImageError)
	}

	// (c) drop people left empty and unlink them from the user
	for _, id := range touched {
		p, ok := work.people[id]
		if !ok || len(p.encodings) > 0 {
			continue
		}
		delete(work.people, id)
		if u, ok := work.users[userID]; ok {
			u.people = remove(u.people, id)
		}
		for _, other := range work.images {
			other.people = remove(other.people, id)
		}
	}

	s.state = work
	return touched, nil
}

func (s *Store) ListUserImageIDs(ctx context.Context, userID string) ([]string, error) {
	if s.ListImagesError != nil {
		return nil, s.ListImagesError
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := []string{}
	for k := range s.state.images {
		if k.userID == userID {
			ids = append(ids, k.imageID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *Store) ListPeople(ctx context.Context, userID string) ([]database.PersonSummary, error) {
	graph, err := s.GetUserGraph(ctx, userID)
	if err != nil {
		return nil, err
	}
	if graph == nil {
		return nil, fmt.Errorf("%w: user %s", database.ErrNotFound, userID)
	}

	out := make([]database.PersonSummary, 0, len(graph.People))
	for _, p := range graph.People {
		faces := make([]facematch.Face, len(p.Encodings))
		for i, e := range p.Encodings {
			faces[i] = facematch.Face{Vector: e.Vector, ImageID: e.ImageID}
		}
		out = append(out, database.PersonSummary{
			ID:       p.Person.ID,
			Name:     p.Person.Name,
			ImageIDs: facematch.ImageIDs(faces),
		})
	}
	return out, nil
}

// Reset drops all data.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = newState()
	return nil
}

func (s *Store) Close() error {
	return nil
}

// CheckIntegrity verifies the referential invariants of one user's graph:
// every linked person exists and has encodings, and every image link points at a
// person reachable from the user.
func (s *Store) CheckIntegrity(userID string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.checkIntegrity(userID)
}

func (st *state) checkIntegrity(userID string) error {
	u, ok := st.users[userID]
	if !ok {
		return fmt.Errorf("%w: user %s", database.ErrNotFound, userID)
	}
	for _, id := range u.people {
		p, ok := st.people[id]
		if !ok {
			return fmt.Errorf("user %s links missing person %s", userID, id)
		}
		if len(p.encodings) == 0 {
			return fmt.Errorf("person %s has no encodings", id)
		}
	}
	for k, img := range st.images {
		if k.userID != userID {
			continue
		}
		for _, id := range img.people {
			if !st.owns(userID, id) {
				return fmt.Errorf("image %s links person %s not owned by user %s", k.imageID, id, userID)
			}
		}
	}
	return nil
}

func (st *state) owns(userID, personID string) bool {
	u, ok := st.users[userID]
	if !ok {
		return false
	}
	if _, ok := st.people[personID]; !ok {
		return false
	}
	return slices.Contains(u.people, personID)
}

func remove(list []string, id string) []string {
	return slices.DeleteFunc(list, func(x string) bool { return x == id })
}
