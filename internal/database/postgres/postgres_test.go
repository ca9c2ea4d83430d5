//go:build integration

package postgres

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/kozaktomas/facegraph/internal/config"
	"github.com/kozaktomas/facegraph/internal/database"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupTestContainer(t *testing.T) (*Store, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "pgvector/pgvector:pg16",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Skipf("Docker not available or container failed to start, skipping integration test: %v", err)
		return nil, func() {}
	}
	if container == nil {
		t.Skip("Docker not available, skipping integration test")
		return nil, func() {}
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	dbURL := fmt.Sprintf("postgres://test:test@%s:%s/testdb?sslmode=disable", host, port.Port())

	cfg := &config.DatabaseConfig{
		URL:          dbURL,
		MaxOpenConns: 5,
		MaxIdleConns: 2,
	}

	pool, err := NewPool(ctx, cfg)
	if err != nil {
		container.Terminate(ctx)
		t.Fatalf("Failed to create pool: %v", err)
	}

	// Run migrations
	if _, err := pool.Migrate(ctx, nil); err != nil {
		pool.Close()
		container.Terminate(ctx)
		t.Fatalf("Failed to run migrations: %v", err)
	}

	cleanup := func() {
		pool.Close()
		container.Terminate(ctx)
	}

	return NewStore(pool), cleanup
}

func vec(x, y float32) []float32 {
	v := make([]float32, 128)
	v[0], v[1] = x, y
	return v
}

func TestIdentityStore(t *testing.T) {
	store, cleanup := setupTestContainer(t)
	if store == nil {
		return
	}
	defer cleanup()

	ctx := context.Background()

	t.Run("CreateUser", func(t *testing.T) {
		if err := store.CreateUser(ctx, "alice"); err != nil {
			t.Fatalf("Failed to create user: %v", err)
		}
		err := store.CreateUser(ctx, "alice")
		if !errors.Is(err, database.ErrAlreadyExists) {
			t.Errorf("Expected ErrAlreadyExists, got %v", err)
		}
	})

	t.Run("GetUserGraph", func(t *testing.T) {
		graph, err := store.GetUserGraph(ctx, "nobody")
		if err != nil || graph != nil {
			t.Fatalf("Expected nil graph for unknown user, got %+v, %v", graph, err)
		}

		graph, err = store.GetUserGraph(ctx, "alice")
		if err != nil {
			t.Fatalf("Failed to get graph: %v", err)
		}
		if graph == nil || len(graph.People) != 0 {
			t.Errorf("Expected empty graph, got %+v", graph)
		}
	})

	var first, second string

	t.Run("PersonLifecycle", func(t *testing.T) {
		var err error
		first, err = store.CreatePerson(ctx, "Person 1")
		if err != nil {
			t.Fatalf("Failed to create person: %v", err)
		}

		added, err := store.LinkPersonToUser(ctx, "alice", first)
		if err != nil || !added {
			t.Fatalf("Expected link to be added, got %v, %v", added, err)
		}
		added, err = store.LinkPersonToUser(ctx, "alice", first)
		if err != nil || added {
			t.Errorf("Expected repeated link to be a no-op, got %v, %v", added, err)
		}
		if _, err := store.LinkPersonToUser(ctx, "nobody", first); !errors.Is(err, database.ErrNotFound) {
			t.Errorf("Expected ErrNotFound for unknown user, got %v", err)
		}

		if err := store.AppendEncodings(ctx, first, []database.Encoding{{Vector: vec(0, 0), ImageID: "img1"}}); err != nil {
			t.Fatalf("Failed to append encodings: %v", err)
		}
		if err := store.LinkImageToPeople(ctx, "alice", "img1", []string{first, first}); err != nil {
			t.Fatalf("Failed to link image: %v", err)
		}

		second, _ = store.CreatePerson(ctx, "Person 2")
		store.LinkPersonToUser(ctx, "alice", second)
		store.AppendEncodings(ctx, second, []database.Encoding{
			{Vector: vec(5, 5), ImageID: "img1"},
			{Vector: vec(5.1, 5), ImageID: "img2"},
		})
		store.LinkImageToPeople(ctx, "alice", "img1", []string{second})
		store.LinkImageToPeople(ctx, "alice", "img2", []string{second})

		graph, err := store.GetUserGraph(ctx, "alice")
		if err != nil {
			t.Fatalf("Failed to get graph: %v", err)
		}
		if len(graph.People) != 2 {
			t.Fatalf("Expected 2 people, got %d", len(graph.People))
		}
		if graph.People[0].Person.ID != first || len(graph.People[0].Encodings) != 1 {
			t.Errorf("Unexpected first person %+v", graph.People[0])
		}
		if len(graph.People[1].Encodings) != 2 || graph.People[1].Encodings[1].ImageID != "img2" {
			t.Errorf("Unexpected second person %+v", graph.People[1])
		}
		if got := graph.People[1].Encodings[1].Vector; len(got) != 128 || got[0] != 5.1 {
			t.Errorf("Vector did not round-trip: %v", got[:2])
		}
	})

	t.Run("AppendEncodingsUnknownPerson", func(t *testing.T) {
		err := store.AppendEncodings(ctx, "00000000-0000-0000-0000-000000000000", []database.Encoding{{Vector: vec(1, 1), ImageID: "x"}})
		if !errors.Is(err, database.ErrNotFound) {
			t.Errorf("Expected ErrNotFound, got %v", err)
		}
		err = store.AppendEncodings(ctx, "not-a-uuid", nil)
		if !errors.Is(err, database.ErrNotFound) {
			t.Errorf("Expected ErrNotFound for malformed ID, got %v", err)
		}
	})

	t.Run("RenamePerson", func(t *testing.T) {
		changed, err := store.RenamePerson(ctx, "alice", first, "Alice's friend")
		if err != nil || !changed {
			t.Fatalf("Expected rename, got %v, %v", changed, err)
		}
		changed, err = store.RenamePerson(ctx, "alice", first, "Alice's friend")
		if err != nil || changed {
			t.Errorf("Expected no change, got %v, %v", changed, err)
		}
		store.CreateUser(ctx, "bob")
		if _, err := store.RenamePerson(ctx, "bob", first, "Stolen"); !errors.Is(err, database.ErrNotFound) {
			t.Errorf("Expected ErrNotFound for foreign person, got %v", err)
		}
	})

	t.Run("ListPeople", func(t *testing.T) {
		people, err := store.ListPeople(ctx, "alice")
		if err != nil {
			t.Fatalf("Failed to list people: %v", err)
		}
		if len(people) != 2 {
			t.Fatalf("Expected 2 people, got %d", len(people))
		}
		if people[1].ID != second || len(people[1].ImageIDs) != 2 {
			t.Errorf("Unexpected summary %+v", people[1])
		}
		if _, err := store.ListPeople(ctx, "nobody"); !errors.Is(err, database.ErrNotFound) {
			t.Errorf("Expected ErrNotFound, got %v", err)
		}
	})

	t.Run("ListUserImageIDs", func(t *testing.T) {
		ids, err := store.ListUserImageIDs(ctx, "alice")
		if err != nil {
			t.Fatalf("Failed to list images: %v", err)
		}
		if len(ids) != 2 || ids[0] != "img1" || ids[1] != "img2" {
			t.Errorf("Expected [img1 img2], got %v", ids)
		}
	})

	t.Run("DeleteImage", func(t *testing.T) {
		touched, err := store.DeleteImage(ctx, "alice", "img1")
		if err != nil {
			t.Fatalf("Failed to delete image: %v", err)
		}
		if len(touched) != 2 {
			t.Errorf("Expected 2 touched people, got %v", touched)
		}

		graph, _ := store.GetUserGraph(ctx, "alice")
		if len(graph.People) != 1 || graph.People[0].Person.ID != second {
			t.Fatalf("Expected only the second person to remain, got %+v", graph.People)
		}
		if len(graph.People[0].Encodings) != 1 || graph.People[0].Encodings[0].ImageID != "img2" {
			t.Errorf("Expected img2 encoding to remain, got %+v", graph.People[0].Encodings)
		}

		again, err := store.DeleteImage(ctx, "alice", "img1")
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if len(again) != 0 {
			t.Errorf("Expected empty result on second delete, got %v", again)
		}
	})

	t.Run("DeletePerson", func(t *testing.T) {
		third, _ := store.CreatePerson(ctx, "Person 3")
		store.AppendEncodings(ctx, third, []database.Encoding{{Vector: vec(9, 9), ImageID: "img2"}, {Vector: vec(9, 9.1), ImageID: "img3"}})
		store.LinkPersonToUser(ctx, "alice", third)
		store.LinkImageToPeople(ctx, "alice", "img2", []string{third})
		store.LinkImageToPeople(ctx, "alice", "img3", []string{third})

		if err := store.DeletePerson(ctx, third); err != nil {
			t.Fatalf("Failed to delete person: %v", err)
		}
		graph, _ := store.GetUserGraph(ctx, "alice")
		if len(graph.People) != 1 || graph.People[0].Person.ID != second {
			t.Errorf("Expected only the second person to remain, got %+v", graph.People)
		}
		ids, _ := store.ListUserImageIDs(ctx, "alice")
		if len(ids) != 1 || ids[0] != "img2" {
			t.Errorf("Expected img3 to go with its only person and img2 to stay, got %v", ids)
		}
		if err := store.DeletePerson(ctx, third); !errors.Is(err, database.ErrNotFound) {
			t.Errorf("Expected ErrNotFound on second delete, got %v", err)
		}
		if err := store.DeletePerson(ctx, "not-a-uuid"); !errors.Is(err, database.ErrNotFound) {
			t.Errorf("Expected ErrNotFound for malformed ID, got %v", err)
		}
	})

	t.Run("Reset", func(t *testing.T) {
		if err := store.Reset(ctx); err != nil {
			t.Fatalf("Failed to reset: %v", err)
		}
		if graph, _ := store.GetUserGraph(ctx, "alice"); graph != nil {
			t.Errorf("Expected no user after reset, got %+v", graph)
		}
	})
}

func TestMigrationsApplied(t *testing.T) {
	store, cleanup := setupTestContainer(t)
	if store == nil {
		return
	}
	defer cleanup()

	ctx := context.Background()
	versions, err := store.Pool().MigrationsApplied(ctx)
	if err != nil {
		t.Fatalf("Failed to list migrations: %v", err)
	}
	if len(versions) == 0 || versions[0] != "001_identity_graph.sql" {
		t.Errorf("Unexpected migrations %v", versions)
	}

	applied, err := store.Pool().Migrate(ctx, nil)
	if err != nil {
		t.Fatalf("Second migrate failed: %v", err)
	}
	if len(applied) != 0 {
		t.Errorf("Expected no pending migrations, got %v", applied)
	}
}
