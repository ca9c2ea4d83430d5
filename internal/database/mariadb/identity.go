package mariadb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/kozaktomas/facegraph/internal/database"
	"github.com/kozaktomas/facegraph/internal/facematch"
)

// Store is the MariaDB IdentityStore.
type Store struct {
	pool *Pool
}

// mapError translates MySQL server error numbers into the database error kinds.
func mapError(err error) error {
	var myErr *mysql.MySQLError
	if !errors.As(err, &myErr) {
		return err
	}
	switch myErr.Number {
	case 1062: // ER_DUP_ENTRY
		return fmt.Errorf("%w: %w", database.ErrAlreadyExists, err)
	case 1452: // ER_NO_REFERENCED_ROW_2
		return fmt.Errorf("%w: %w", database.ErrNotFound, err)
	case 1406: // ER_DATA_TOO_LONG
		return fmt.Errorf("%w: %w", database.ErrInvalidInput, err)
	case 1213, 1205: // ER_LOCK_DEADLOCK, ER_LOCK_WAIT_TIMEOUT
		return fmt.Errorf("%w: %w", database.ErrStorageConflict, err)
	}
	return err
}

// placeholders returns "?, ?, ?" for n arguments.
func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// encodeVector stores an encoding in the same [e1, e2, ...] JSON shape PhotoPrism uses for embeddings.
func encodeVector(v facematch.Vector) ([]byte, error) {
	data, err := json.Marshal([]float32(v))
	if err != nil {
		return nil, fmt.Errorf("marshal embedding: %w", err)
	}
	return data, nil
}

func decodeVector(data []byte) (facematch.Vector, error) {
	var v []float32
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("unmarshal embedding: %w", err)
	}
	return v, nil
}

func (s *Store) CreateUser(ctx context.Context, userID string) error {
	if _, err := s.pool.db.ExecContext(ctx, "INSERT INTO users (user_id) VALUES (?)", userID); err != nil {
		return fmt.Errorf("create user %s: %w", userID, mapError(err))
	}
	return nil
}

func (s *Store) CreatePerson(ctx context.Context, name string) (string, error) {
	id := uuid.NewString()
	if _, err := s.pool.db.ExecContext(ctx, "INSERT INTO people (id, name) VALUES (?, ?)", id, name); err != nil {
		return "", fmt.Errorf("create person: %w", mapError(err))
	}
	return id, nil
}

func (s *Store) LinkPersonToUser(ctx context.Context, userID, personID string) (bool, error) {
	// ON DUPLICATE KEY reports 0 affected rows for an unchanged row; FK failures still surface.
	result, err := s.pool.db.ExecContext(ctx, `
		INSERT INTO user_people (user_id, person_id) VALUES (?, ?)
		ON DUPLICATE KEY UPDATE person_id = person_id
	`, userID, personID)
	if err != nil {
		return false, fmt.Errorf("link person %s to user %s: %w", personID, userID, mapError(err))
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("link person rows affected: %w", err)
	}
	return n == 1, nil
}

func (s *Store) DeletePerson(ctx context.Context, personID string) error {
	tx, err := s.pool.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: beginning transaction: %w", database.ErrStorageConflict, err)
	}
	defer tx.Rollback()

	// Images that only this person appears in go with it. Collected first: InnoDB
	// cascades do not mix with multi-table deletes.
	rows, err := tx.QueryContext(ctx, `
		SELECT ip.user_id, ip.image_id FROM image_people ip
		WHERE ip.person_id = ?
		  AND NOT EXISTS (
			SELECT 1 FROM image_people o
			WHERE o.user_id = ip.user_id AND o.image_id = ip.image_id AND o.person_id <> ip.person_id
		  )
		FOR UPDATE
	`, personID)
	if err != nil {
		return fmt.Errorf("query images of person %s: %w", personID, mapError(err))
	}
	var orphans [][2]string
	for rows.Next() {
		var key [2]string
		if err := rows.Scan(&key[0], &key[1]); err != nil {
			rows.Close()
			return fmt.Errorf("scan image of person: %w", err)
		}
		orphans = append(orphans, key)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate images of person: %w", err)
	}

	for _, key := range orphans {
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM images WHERE user_id = ? AND image_id = ?", key[0], key[1],
		); err != nil {
			return fmt.Errorf("delete image %s: %w", key[1], mapError(err))
		}
	}

	result, err := tx.ExecContext(ctx, "DELETE FROM people WHERE id = ?", personID)
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
	tx, err := s.pool.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: beginning transaction: %w", database.ErrStorageConflict, err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx, "SELECT 1 FROM people WHERE id = ? LOCK IN SHARE MODE", personID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: person %s", database.ErrNotFound, personID)
	}
	if err != nil {
		return fmt.Errorf("lock person: %w", mapError(err))
	}

	for _, e := range encodings {
		data, err := encodeVector(e.Vector)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO encodings (person_id, image_id, embedding_json) VALUES (?, ?, ?)",
			personID, e.ImageID, data,
		); err != nil {
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
	err := s.pool.db.QueryRowContext(ctx, "SELECT EXISTS(SELECT 1 FROM users WHERE user_id = ?)", userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check user exists: %w", err)
	}
	return exists, nil
}

func (s *Store) GetUserGraph(ctx context.Context, userID string) (*database.UserGraph, error) {
	exists, err := s.userExists(ctx, userID)
	if err != nil || !exists {
		return nil, err
	}

	rows, err := s.pool.db.QueryContext(ctx, `
		SELECT p.id, p.name, p.created_at, e.image_id, e.embedding_json
		FROM user_people up
		JOIN people p ON p.id = up.person_id
		LEFT JOIN encodings e ON e.person_id = p.id
		WHERE up.user_id = ?
		ORDER BY up.seq, e.id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("query user graph: %w", err)
	}
	defer rows.Close()

	graph := &database.UserGraph{UserID: userID}
	for rows.Next() {
		var (
			person  database.Person
			imageID sql.NullString
			data    []byte
		)
		if err := rows.Scan(&person.ID, &person.Name, &person.CreatedAt, &imageID, &data); err != nil {
			return nil, fmt.Errorf("scan user graph: %w", err)
		}

		n := len(graph.People)
		if n == 0 || graph.People[n-1].Person.ID != person.ID {
			graph.People = append(graph.People, database.PersonEncodings{Person: person})
			n++
		}
		if !imageID.Valid {
			continue
		}
		v, err := decodeVector(data)
		if err != nil {
			return nil, err
		}
		graph.People[n-1].Encodings = append(graph.People[n-1].Encodings, database.Encoding{
			Vector:  v,
			ImageID: imageID.String,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate user graph: %w", err)
	}
	return graph, nil
}

func (s *Store) RenamePerson(ctx context.Context, userID, personID, name string) (bool, error) {
	tx, err := s.pool.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("%w: beginning transaction: %w", database.ErrStorageConflict, err)
	}
	defer tx.Rollback()

	var current string
	err = tx.QueryRowContext(ctx, `
		SELECT p.name FROM people p
		JOIN user_people up ON up.person_id = p.id
		WHERE up.user_id = ? AND p.id = ?
		FOR UPDATE
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

	if _, err := tx.ExecContext(ctx, "UPDATE people SET name = ? WHERE id = ?", name, personID); err != nil {
		return false, fmt.Errorf("rename person: %w", mapError(err))
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("%w: commit rename: %w", database.ErrStorageConflict, err)
	}
	return true, nil
}

func (s *Store) LinkImageToPeople(ctx context.Context, userID, imageID string, personIDs []string) error {
	tx, err := s.pool.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: beginning transaction: %w", database.ErrStorageConflict, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO images (user_id, image_id) VALUES (?, ?)
		ON DUPLICATE KEY UPDATE image_id = image_id
	`, userID, imageID); err != nil {
		return fmt.Errorf("create image %s: %w", imageID, mapError(err))
	}

	for _, personID := range personIDs {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO image_people (user_id, image_id, person_id) VALUES (?, ?, ?)
			ON DUPLICATE KEY UPDATE person_id = person_id
		`, userID, imageID, personID); err != nil {
			return fmt.Errorf("link image %s: %w", imageID, mapError(err))
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit image links: %w", database.ErrStorageConflict, err)
	}
	return nil
}

func (s *Store) DeleteImage(ctx context.Context, userID, imageID string) ([]string, error) {
	tx, err := s.pool.db.BeginTx(ctx, nil)
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

func deleteImageTx(ctx context.Context, tx *sql.Tx, userID, imageID string) (touched []string, found bool, err error) {
	var locked int
	err = tx.QueryRowContext(ctx,
		"SELECT 1 FROM images WHERE user_id = ? AND image_id = ? FOR UPDATE", userID, imageID,
	).Scan(&locked)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("lock image: %w", err)
	}

	rows, err := tx.QueryContext(ctx,
		"SELECT person_id FROM image_people WHERE user_id = ? AND image_id = ? ORDER BY person_id",
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
		"DELETE FROM images WHERE user_id = ? AND image_id = ?", userID, imageID,
	); err != nil {
		return nil, false, fmt.Errorf("delete image row: %w", err)
	}
	if len(touched) == 0 {
		return touched, true, nil
	}

	args := make([]any, 0, len(touched)+1)
	for _, id := range touched {
		args = append(args, id)
	}
	in := placeholders(len(touched))

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM encodings WHERE image_id = ? AND person_id IN ("+in+")",
		append([]any{imageID}, args...)...,
	); err != nil {
		return nil, false, fmt.Errorf("delete image encodings: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM people
		WHERE id IN (`+in+`)
		  AND NOT EXISTS (SELECT 1 FROM encodings e WHERE e.person_id = people.id)
	`, args...); err != nil {
		return nil, false, fmt.Errorf("delete empty people: %w", err)
	}

	return touched, true, nil
}

func (s *Store) ListUserImageIDs(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.pool.db.QueryContext(ctx, "SELECT image_id FROM images WHERE user_id = ? ORDER BY image_id", userID)
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

	rows, err := s.pool.db.QueryContext(ctx, `
		SELECT p.id, p.name, e.image_id
		FROM user_people up
		JOIN people p ON p.id = up.person_id
		LEFT JOIN encodings e ON e.person_id = p.id
		WHERE up.user_id = ?
		ORDER BY up.seq, e.id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("query people: %w", err)
	}
	defer rows.Close()

	out := []database.PersonSummary{}
	var seen map[string]bool
	for rows.Next() {
		var (
			id, name string
			imageID  sql.NullString
		)
		if err := rows.Scan(&id, &name, &imageID); err != nil {
			return nil, fmt.Errorf("scan person summary: %w", err)
		}
		if len(out) == 0 || out[len(out)-1].ID != id {
			out = append(out, database.PersonSummary{ID: id, Name: name, ImageIDs: []string{}})
			seen = make(map[string]bool)
		}
		if imageID.Valid && !seen[imageID.String] {
			seen[imageID.String] = true
			last := &out[len(out)-1]
			last.ImageIDs = append(last.ImageIDs, imageID.String)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate people: %w", err)
	}
	return out, nil
}

// Reset deletes every row of the identity graph in one transaction.
func (s *Store) Reset(ctx context.Context) error {
	tx, err := s.pool.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"image_people", "images", "encodings", "user_people", "people", "users"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("reset %s: %w", table, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit reset: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.pool.Close()
}
