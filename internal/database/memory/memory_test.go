package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/kozaktomas/facegraph/internal/config"
	"github.com/kozaktomas/facegraph/internal/database"
)

func enc(imageID string, v ...float32) database.Encoding {
	return database.Encoding{Vector: v, ImageID: imageID}
}

// seedPerson creates a person linked to the user with encodings and image links.
func seedPerson(t *testing.T, s *Store, userID, name string, encodings ...database.Encoding) string {
	t.Helper()
	ctx := context.Background()
	id, err := s.CreatePerson(ctx, name)
	if err != nil {
		t.Fatalf("CreatePerson: %v", err)
	}
	if _, err := s.LinkPersonToUser(ctx, userID, id); err != nil {
		t.Fatalf("LinkPersonToUser: %v", err)
	}
	if err := s.AppendEncodings(ctx, id, encodings); err != nil {
		t.Fatalf("AppendEncodings: %v", err)
	}
	seen := map[string]bool{}
	for _, e := range encodings {
		if seen[e.ImageID] {
			continue
		}
		seen[e.ImageID] = true
		if err := s.LinkImageToPeople(ctx, userID, e.ImageID, []string{id}); err != nil {
			t.Fatalf("LinkImageToPeople: %v", err)
		}
	}
	return id
}

func TestCreateUser_Duplicate(t *testing.T) {
	s := New()
	ctx := context.Background()

	if err := s.CreateUser(ctx, "u1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err := s.CreateUser(ctx, "u1")
	if !errors.Is(err, database.ErrAlreadyExists) {
		t.Errorf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestGetUserGraph_UnknownVsEmpty(t *testing.T) {
	s := New()
	ctx := context.Background()

	graph, err := s.GetUserGraph(ctx, "nobody")
	if err != nil || graph != nil {
		t.Fatalf("expected nil graph for unknown user, got %+v, %v", graph, err)
	}

	_ = s.CreateUser(ctx, "u1")
	graph, err = s.GetUserGraph(ctx, "u1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if graph == nil || len(graph.People) != 0 {
		t.Errorf("expected empty graph, got %+v", graph)
	}
}

func TestLinkPersonToUser(t *testing.T) {
	s := New()
	ctx := context.Background()
	_ = s.CreateUser(ctx, "u1")
	pid, _ := s.CreatePerson(ctx, "Person 1")

	tests := []struct {
		name     string
		userID   string
		personID string
		expected bool
		wantErr  error
	}{
		{"first link", "u1", pid, true, nil},
		{"repeated link", "u1", pid, false, nil},
		{"unknown user", "u2", pid, false, database.ErrNotFound},
		{"unknown person", "u1", "missing", false, database.ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			added, err := s.LinkPersonToUser(ctx, tt.userID, tt.personID)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected error %v, got %v", tt.wantErr, err)
			}
			if added != tt.expected {
				t.Errorf("expected added=%v, got %v", tt.expected, added)
			}
		})
	}

	graph, _ := s.GetUserGraph(ctx, "u1")
	if len(graph.People) != 1 {
		t.Errorf("expected exactly one linked person, got %d", len(graph.People))
	}
}

func TestAppendEncodings_UnknownPerson(t *testing.T) {
	s := New()
	err := s.AppendEncodings(context.Background(), "missing", []database.Encoding{enc("i", 1)})
	if !errors.Is(err, database.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestRenamePerson(t *testing.T) {
	s := New()
	ctx := context.Background()
	_ = s.CreateUser(ctx, "u1")
	_ = s.CreateUser(ctx, "u2")
	pid := seedPerson(t, s, "u1", "Person 1", enc("img1", 0, 0))

	changed, err := s.RenamePerson(ctx, "u1", pid, "Alice")
	if err != nil || !changed {
		t.Fatalf("expected rename to change, got %v, %v", changed, err)
	}

	changed, err = s.RenamePerson(ctx, "u1", pid, "Alice")
	if err != nil || changed {
		t.Errorf("expected no change on same name, got %v, %v", changed, err)
	}

	if _, err := s.RenamePerson(ctx, "u2", pid, "Mallory"); !errors.Is(err, database.ErrNotFound) {
		t.Errorf("expected ErrNotFound for foreign user, got %v", err)
	}

	people, _ := s.ListPeople(ctx, "u1")
	if people[0].Name != "Alice" {
		t.Errorf("expected name Alice, got %q", people[0].Name)
	}
}

func TestLinkImageToPeople_SetSemantics(t *testing.T) {
	s := New()
	ctx := context.Background()
	_ = s.CreateUser(ctx, "u1")
	pid := seedPerson(t, s, "u1", "Person 1", enc("img1", 0, 0), enc("img1", 0.1, 0))

	if err := s.LinkImageToPeople(ctx, "u1", "img1", []string{pid, pid}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	img := s.state.images[imageKey{userID: "u1", imageID: "img1"}]
	if len(img.people) != 1 {
		t.Errorf("expected one link, got %v", img.people)
	}
}

func TestDeleteImage_RemovesEmptyPeople(t *testing.T) {
	s := New()
	ctx := context.Background()
	_ = s.CreateUser(ctx, "u1")
	only := seedPerson(t, s, "u1", "Person 1", enc("img1", 0, 0))
	shared := seedPerson(t, s, "u1", "Person 2", enc("img1", 5, 5), enc("img2", 5.1, 5))

	touched, err := s.DeleteImage(ctx, "u1", "img1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(touched) != 2 {
		t.Errorf("expected both people touched, got %v", touched)
	}

	graph, _ := s.GetUserGraph(ctx, "u1")
	if len(graph.People) != 1 || graph.People[0].Person.ID != shared {
		t.Fatalf("expected only the shared person to remain, got %+v", graph.People)
	}
	if len(graph.People[0].Encodings) != 1 || graph.People[0].Encodings[0].ImageID != "img2" {
		t.Errorf("expected img2 encoding to remain, got %+v", graph.People[0].Encodings)
	}
	if _, ok := s.state.people[only]; ok {
		t.Error("expected emptied person to be deleted")
	}
	if err := s.CheckIntegrity("u1"); err != nil {
		t.Errorf("integrity check failed: %v", err)
	}
}

func TestDeletePerson(t *testing.T) {
	s := New()
	ctx := context.Background()
	_ = s.CreateUser(ctx, "u1")
	gone := seedPerson(t, s, "u1", "Person 1", enc("img1", 0, 0), enc("img2", 0, 0.1))
	kept := seedPerson(t, s, "u1", "Person 2", enc("img2", 5, 5))

	if err := s.DeletePerson(ctx, gone); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	graph, _ := s.GetUserGraph(ctx, "u1")
	if len(graph.People) != 1 || graph.People[0].Person.ID != kept {
		t.Fatalf("expected only Person 2 to remain, got %+v", graph.People)
	}
	ids, _ := s.ListUserImageIDs(ctx, "u1")
	if len(ids) != 1 || ids[0] != "img2" {
		t.Errorf("expected img1 to go with its only person, got %v", ids)
	}
	if got := s.state.images[imageKey{userID: "u1", imageID: "img2"}].people; len(got) != 1 || got[0] != kept {
		t.Errorf("expected img2 to link only Person 2, got %v", got)
	}
	if err := s.CheckIntegrity("u1"); err != nil {
		t.Errorf("integrity check failed: %v", err)
	}

	if err := s.DeletePerson(ctx, gone); !errors.Is(err, database.ErrNotFound) {
		t.Errorf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestDeleteImage_Idempotent(t *testing.T) {
	s := New()
	ctx := context.Background()
	_ = s.CreateUser(ctx, "u1")
	seedPerson(t, s, "u1", "Person 1", enc("img1", 0, 0))

	first, err := s.DeleteImage(ctx, "u1", "img1")
	if err != nil || len(first) == 0 {
		t.Fatalf("expected non-empty first result, got %v, %v", first, err)
	}
	second, err := s.DeleteImage(ctx, "u1", "img1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second == nil || len(second) != 0 {
		t.Errorf("expected empty non-nil result, got %#v", second)
	}
}

func TestDeleteImage_RollsBackOnFailure(t *testing.T) {
	s := New()
	ctx := context.Background()
	_ = s.CreateUser(ctx, "u1")
	pid := seedPerson(t, s, "u1", "Person 1", enc("img1", 0, 0))

	s.DeleteImageError = errors.New("disk on fire")
	_, err := s.DeleteImage(ctx, "u1", "img1")
	if !errors.Is(err, database.ErrStorageConflict) {
		t.Fatalf("expected ErrStorageConflict, got %v", err)
	}

	graph, _ := s.GetUserGraph(ctx, "u1")
	if len(graph.People) != 1 || graph.People[0].Person.ID != pid || len(graph.People[0].Encodings) != 1 {
		t.Errorf("expected untouched graph after failed delete, got %+v", graph.People)
	}
	ids, _ := s.ListUserImageIDs(ctx, "u1")
	if len(ids) != 1 || ids[0] != "img1" {
		t.Errorf("expected img1 to survive, got %v", ids)
	}

	s.DeleteImageError = nil
	if touched, err := s.DeleteImage(ctx, "u1", "img1"); err != nil || len(touched) != 1 {
		t.Errorf("expected delete to succeed after clearing the fault, got %v, %v", touched, err)
	}
}

func TestListPeople(t *testing.T) {
	s := New()
	ctx := context.Background()

	if _, err := s.ListPeople(ctx, "nobody"); !errors.Is(err, database.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	_ = s.CreateUser(ctx, "u1")
	pid := seedPerson(t, s, "u1", "Person 1", enc("b", 0, 0), enc("a", 0.1, 0), enc("b", 0.2, 0))

	people, err := s.ListPeople(ctx, "u1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(people) != 1 || people[0].ID != pid {
		t.Fatalf("unexpected people %+v", people)
	}
	if got := people[0].ImageIDs; len(got) != 2 || got[0] != "b" || got[1] != "a" {
		t.Errorf("expected image IDs [b a], got %v", got)
	}
}

func TestListUserImageIDs(t *testing.T) {
	s := New()
	ctx := context.Background()
	_ = s.CreateUser(ctx, "u1")
	_ = s.CreateUser(ctx, "u2")
	seedPerson(t, s, "u1", "Person 1", enc("img2", 0), enc("img1", 0))
	seedPerson(t, s, "u2", "Person 1", enc("img9", 0))

	ids, err := s.ListUserImageIDs(ctx, "u1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ids) != 2 || ids[0] != "img1" || ids[1] != "img2" {
		t.Errorf("expected [img1 img2], got %v", ids)
	}

	ids, _ = s.ListUserImageIDs(ctx, "unknown")
	if len(ids) != 0 {
		t.Errorf("expected no images for unknown user, got %v", ids)
	}
}

func TestReset(t *testing.T) {
	s := New()
	ctx := context.Background()
	_ = s.CreateUser(ctx, "u1")
	seedPerson(t, s, "u1", "Person 1", enc("img1", 0))

	if err := s.Reset(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if graph, _ := s.GetUserGraph(ctx, "u1"); graph != nil {
		t.Errorf("expected no user after reset, got %+v", graph)
	}
}

func TestCheckIntegrity_DetectsDanglingLink(t *testing.T) {
	s := New()
	ctx := context.Background()
	_ = s.CreateUser(ctx, "u1")
	pid := seedPerson(t, s, "u1", "Person 1", enc("img1", 0))

	delete(s.state.people, pid)

	if err := s.CheckIntegrity("u1"); err == nil {
		t.Error("expected integrity error for dangling person link")
	}
}

func TestRegisteredBackend(t *testing.T) {
	store, err := database.Open(context.Background(), &config.DatabaseConfig{Driver: "memory"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer store.Close()

	if _, ok := store.(database.Resetter); !ok {
		t.Error("expected memory store to implement Resetter")
	}
}
