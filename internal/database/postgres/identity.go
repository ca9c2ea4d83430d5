package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/kozaktomas/facegraph/internal/database"
	"github.com/kozaktomas/facegraph/internal/facematch"
	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
)

// Store is the PostgreSQL IdentityStore. Encodings live in a pgvector column.
type Store struct {
	pool *Pool
}

// NewStore creates a store over an already migrated pool.
func NewStore(pool *Pool) *Store {
	return &Store{pool: pool}
}

// Pool returns the underlying connection pool.
func (s *Store) Pool() *Pool {
	return s.pool
}

// mapError translates PostgreSQL error codes into the database error kinds.
func mapError(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return err
	}
	switch pqErr.Code {
	case "23505": // unique_violation
		return fmt.Errorf("%w: %w", database.ErrAlreadyExists, err)
	case "23503": // foreign_key_violation
		return fmt.Errorf("%w: %w", database.ErrNotFound, err)
	case "40001", "40P01": // serialization_failure, deadlock_detected
		return fmt.Errorf("%w: %w", database.ErrStorageConflict, err)
	}
	return err
}

// validPersonIDs reports whether every ID parses as a UUID. Anything else cannot exist.
func validPersonIDs(ids ...string) bool {
	for _, id := range ids {
		if _, err := uuid.Parse(id); err != nil {
			return false
		}
	}
	return true
}

func (s *Store) CreateUser(ctx context.Context, userID string) error {
	if _, err := s.pool.Exec(ctx, "INSERT INTO users (user_id) VALUES ($1)", userID); err != nil {
		return fmt.Errorf("create user %s: %w", userID, mapError(err))
	}
	return nil
}

func (s *Store) CreatePerson(ctx context.Context, name string) (string, error) {
	id := uuid.NewString()
	if _, err := s.pool.Exec(ctx, "INSERT INTO people (id, name) VALUES ($1, $2)", id, name); err != nil {
		return "", fmt.Errorf("create person: %w", mapError(err))
	}
	return id, nil
}

func (s *Store) LinkPersonToUser(ctx context.Context, userID, personID string) (bool, error) {
	if !validPersonIDs(personID) {
		return false, fmt.Errorf("%w: person %s", database.ErrNotFound, personID)
	}
	result, err := s.pool.Exec(ctx, `
		INSERT INTO user_people (user_id, person_id) VALUES ($1, $2)
		ON CONFLICT (user_id, person_id) DO NOTHING
	`, userID, personID)
	if err != nil {
		return false, fmt.Errorf("link person %s to user %s: %w", personID, userID, mapError(err))
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("link person rows affected: %w", err)
	}
	return n > 0, nil
}

func (s *Store) DeletePerson(ctx context.Context, personID string) error {
	if !validPersonIDs(personID) {
		return fmt.Errorf("%w: person %s", database.ErrNotFound, personID)
	}

	tx, err := s.pool.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %w", database.ErrStorageConflict, err)
	}
	defer tx.Rollback()

	// Images that only this person appears in go with it.
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM images i
		USING image_people ip
		WHERE ip.user_id = i.user_id AND ip.image_id = i.image_id AND ip.person_id = $1
		  AND NOT EXISTS (
			SELECT 1 FROM image_people o
			WHERE o.user_id = i.user_id AND o.image_id = i.image_id AND o.person_id <> $1
		  )
	`, personID); err != nil {
		return fmt.Errorf("delete images of person %s: %w", personID, mapError(err))
	}

	// Encodings, user_people and image_people rows go with the cascade.
	result, err := tx.ExecContext(ctx, "DELETE FROM people WHERE id = $1", personID)
	if err != nil {
		return fmt.Errorf("delete person %s: %w", personID, mapError(err))
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete person rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: person %s", database.ErrNotFound, personID)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit person delete: %w", database.ErrStorageConflict, err)
	}
	return nil
}

func (s *Store) AppendEncodings(ctx context.Context, personID string, encodings []database.Encoding) error {
	if !validPersonIDs(personID) {
		return fmt.Errorf("%w: person %s", database.ErrNotFound, personID)
	}

	tx, err := s.pool.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %w", database.ErrStorageConflict, err)
	}
	defer tx.Rollback()

	// Lock the person so a concurrent DeleteImage cannot drop it mid-append.
	var exists int
	err = tx.QueryRowContext(ctx, "SELECT 1 FROM people WHERE id = $1 FOR SHARE", personID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: person %s", database.ErrNotFound, personID)
	}
	if err != nil {
		return fmt.Errorf("lock person: %w", mapError(err))
	}

	stmt, err := tx.PrepareContext(ctx, "INSERT INTO encodings (person_id, image_id, embedding) VALUES ($1, $2, $3)")
	if err != nil {
		return fmt.Errorf("prepare encoding insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range encodings {
		if _, err := stmt.ExecContext(ctx, personID, e.ImageID, pgvector.NewVector(e.Vector)); err != nil {
			return fmt.Errorf("insert encoding: %w", mapError(err))
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit encodings: %w", database.ErrStorageConflict, err)
	}
	return nil
}

func (s *Store) userExists(ctx context.Context, userID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM users WHERE user_id = $1)", userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check user exists: %w", err)
	}
	return exists, nil
}

func (s *Store) GetUserGraph(ctx context.Context, userID string) (*database.UserGraph, error) {
	exists, err := s.userExists(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, nil
	}

	rows, err := s.pool.Query(ctx, `
		SELECT p.id, p.name, p.created_at, e.image_id, e.embedding
		FROM user_people up
		JOIN people p ON p.id = up.person_id
		LEFT JOIN encodings e ON e.person_id = p.id
		WHERE up.user_id = $1
		ORDER BY up.seq, e.id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("query user graph: %w", err)
	}
	defer rows.Close()

	graph := &database.UserGraph{UserID: userID}
	for rows.Next() {
		var (
			person    database.Person
			imageID   sql.NullString
			embedding sql.Null[pgvector.Vector]
		)
		if err := rows.Scan(&person.ID, &person.Name, &person.CreatedAt, &imageID, &embedding); err != nil {
			return nil, fmt.Errorf("scan user graph: %w", err)
		}

		n := len(graph.People)
		if n == 0 || graph.People[n-1].Person.ID != person.ID {
			graph.People = append(graph.People, database.PersonEncodings{Person: person})
			n++
		}
		if imageID.Valid && embedding.Valid {
			graph.People[n-1].Encodings = append(graph.People[n-1].Encodings, database.Encoding{
				Vector:  facematch.Vector(embedding.V.Slice()),
				ImageID: imageID.String,
			})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate user graph: %w", err)
	}
	return graph, nil
}

func (s *Store) RenamePerson(ctx context.Context, userID, personID, name string) (bool, error) {
	if !validPersonIDs(personID) {
		return false, fmt.Errorf("%w: person %s of user %s", database.ErrNotFound, personID, userID)
	}

	tx, err := s.pool.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("%w: %w", database.ErrStorageConflict, err)
	}
	defer tx.Rollback()

	var current string
	err = tx.QueryRowContext(ctx, `
		SELECT p.name FROM people p
		JOIN user_people up ON up.person_id = p.id
		WHERE up.user_id = $1 AND p.id = $2
		FOR UPDATE OF p
	`, userID, personID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("%w: person %s of user %s", database.ErrNotFound, personID, userID)
	}
	if err != nil {
		return false, fmt.Errorf("select person name: %w", mapError(err))
	}
	if current == name {
		return false, nil
	}

	if _, err := tx.ExecContext(ctx, "UPDATE people SET name = $2 WHERE id = $1", personID, name); err != nil {
		return false, fmt.Errorf("rename person: %w", mapError(err))
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("%w: commit rename: %w", database.ErrStorageConflict, err)
	}
	return true, nil
}

func (s *Store) LinkImageToPeople(ctx context.Context, userID, imageID string, personIDs []string) error {
	if !validPersonIDs(personIDs...) {
		return fmt.Errorf("%w: malformed person ID in %v", database.ErrNotFound, personIDs)
	}

	tx, err := s.pool.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %w", database.ErrStorageConflict, err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO images (user_id, image_id) VALUES ($1, $2)
		ON CONFLICT (user_id, image_id) DO NOTHING
	`, userID, imageID)
	if err != nil {
		return fmt.Errorf("create image %s: %w", imageID, mapError(err))
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO image_people (user_id, image_id, person_id)
		SELECT $1, $2, unnest($3::uuid[])
		ON CONFLICT DO NOTHING
	`, userID, imageID, pq.Array(personIDs))
	if err != nil {
		return fmt.Errorf("link image %s: %w", imageID, mapError(err))
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit image links: %w", database.ErrStorageConflict, err)
	}
	return nil
}

func (s *Store) DeleteImage(ctx context.Context, userID, imageID string) ([]string, error) {
	tx, err := s.pool.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", database.ErrStorageConflict, err)
	}
	defer tx.Rollback()

	touched, found, err := deleteImageTx(ctx, tx, userID, imageID)
	if err != nil {
		return nil, fmt.Errorf("%w: delete image %s: %w", database.ErrStorageConflict, imageID, err)
	}
	if !found {
		return []string{}, nil
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: commit image delete: %w", database.ErrStorageConflict, err)
	}
	return touched, nil
}

// deleteImageTx removes the image, its encodings and any person left empty.
// found is false when the image does not exist.
func deleteImageTx(ctx context.Context, tx *sql.Tx, userID, imageID string) (touched []string, found bool, err error) {
	var locked int
	err = tx.QueryRowContext(ctx,
		"SELECT 1 FROM images WHERE user_id = $1 AND image_id = $2 FOR UPDATE", userID, imageID,
	).Scan(&locked)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("lock image: %w", err)
	}

	rows, err := tx.QueryContext(ctx,
		"SELECT person_id FROM image_people WHERE user_id = $1 AND image_id = $2 ORDER BY person_id",
		userID, imageID,
	)
	if err != nil {
		return nil, false, fmt.Errorf("query image people: %w", err)
	}
	touched = []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, false, fmt.Errorf("scan image person: %w", err)
		}
		touched = append(touched, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, false, fmt.Errorf("iterate image people: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM images WHERE user_id = $1 AND image_id = $2", userID, imageID,
	); err != nil {
		return nil, false, fmt.Errorf("delete image row: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM encodings WHERE person_id = ANY($1::uuid[]) AND image_id = $2",
		pq.Array(touched), imageID,
	); err != nil {
		return nil, false, fmt.Errorf("delete image encodings: %w", err)
	}

	// user_people and image_people rows of dropped people go with the cascade.
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM people p
		WHERE p.id = ANY($1::uuid[])
		  AND NOT EXISTS (SELECT 1 FROM encodings e WHERE e.person_id = p.id)
	`, pq.Array(touched)); err != nil {
		return nil, false, fmt.Errorf("delete empty people: %w", err)
	}

	return touched, true, nil
}

func (s *Store) ListUserImageIDs(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.pool.Query(ctx, "SELECT image_id FROM images WHERE user_id = $1 ORDER BY image_id", userID)
	if err != nil {
		return nil, fmt.Errorf("query user images: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan image id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate image ids: %w", err)
	}
	return ids, nil
}

func (s *Store) ListPeople(ctx context.Context, userID string) ([]database.PersonSummary, error) {
	exists, err := s.userExists(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("%w: user %s", database.ErrNotFound, userID)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT p.id, p.name,
		       COALESCE(array_agg(e.image_id ORDER BY e.id) FILTER (WHERE e.image_id IS NOT NULL), '{}')
		FROM user_people up
		JOIN people p ON p.id = up.person_id
		LEFT JOIN encodings e ON e.person_id = p.id
		WHERE up.user_id = $1
		GROUP BY p.id, p.name, up.seq
		ORDER BY up.seq
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("query people: %w", err)
	}
	defer rows.Close()

	out := []database.PersonSummary{}
	for rows.Next() {
		var (
			summary  database.PersonSummary
			imageIDs []string
		)
		if err := rows.Scan(&summary.ID, &summary.Name, pq.Array(&imageIDs)); err != nil {
			return nil, fmt.Errorf("scan person summary: %w", err)
		}
		summary.ImageIDs = distinct(imageIDs)
		out = append(out, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate people: %w", err)
	}
	return out, nil
}

// distinct drops repeated IDs, keeping first-seen order.
func distinct(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// Reset truncates every table of the identity graph.
func (s *Store) Reset(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, "TRUNCATE image_people, images, encodings, user_people, people, users"); err != nil {
		return fmt.Errorf("reset identity graph: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.pool.Close()
}
