// Package sqlitestore is the "file" precedent backend named by §6's
// `precedent.backend ∈ {vector,file}` configuration key: a pure-Go,
// embedded-database implementation of precedent.Store for deployments that
// want precedent persistence without standing up Postgres/pgvector or
// Qdrant. It never computes a vector embedding; similarity is a lexical
// token-overlap score over stored case text, which is enough to support
// dev/test and small single-node deployments without an ANN index.
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/eje-systems/eje/internal/model"
	"github.com/eje-systems/eje/internal/precedent"
)

// ErrNotFound is returned when a lookup by ID matches no row.
var ErrNotFound = errors.New("sqlitestore: not found")

// Store implements precedent.Store over a single SQLite file. Store is
// idempotent on Record.CaseHash (a unique column): storing a known case hash
// returns the existing PrecedentID, matching the pgstore backend's semantics.
type Store struct {
	db *sql.DB
}

// Open creates (or reuses) a SQLite database at path and ensures its schema
// exists. path may be ":memory:" for ephemeral use in tests.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite is not safe for concurrent writers over one handle

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS precedents (
			id TEXT PRIMARY KEY,
			case_hash TEXT NOT NULL UNIQUE,
			input_text TEXT NOT NULL,
			context TEXT NOT NULL DEFAULT '{}',
			critic_outputs TEXT NOT NULL DEFAULT '[]',
			verdict TEXT NOT NULL,
			created_at TEXT NOT NULL
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlitestore: ensure schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Store inserts record keyed by CaseHash. When the case hash already exists
// it returns the existing PrecedentID and leaves the stored row unchanged.
func (s *Store) Store(ctx context.Context, record precedent.Record) (uuid.UUID, error) {
	if record.PrecedentID == uuid.Nil {
		record.PrecedentID = uuid.New()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	var existing string
	err := s.db.QueryRowContext(ctx, `SELECT id FROM precedents WHERE case_hash = ?`, record.CaseHash).Scan(&existing)
	if err == nil {
		id, parseErr := uuid.Parse(existing)
		if parseErr != nil {
			return uuid.Nil, fmt.Errorf("sqlitestore: parse existing id: %w", parseErr)
		}
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return uuid.Nil, fmt.Errorf("sqlitestore: check case hash: %w", err)
	}

	contextJSON, err := json.Marshal(record.Context)
	if err != nil {
		return uuid.Nil, fmt.Errorf("sqlitestore: marshal context: %w", err)
	}
	criticsJSON, err := json.Marshal(record.CriticOutputs)
	if err != nil {
		return uuid.Nil, fmt.Errorf("sqlitestore: marshal critic outputs: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO precedents (id, case_hash, input_text, context, critic_outputs, verdict, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, record.PrecedentID.String(), record.CaseHash, record.InputText, string(contextJSON), string(criticsJSON),
		string(record.Verdict), record.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return uuid.Nil, fmt.Errorf("sqlitestore: insert precedent: %w", err)
	}
	return record.PrecedentID, nil
}

// SearchSimilar ranks stored precedents by lexical token overlap with
// query.Text, applying MinSimilarity and Limit. Filters are matched by exact
// value equality against decoded context keys.
func (s *Store) SearchSimilar(ctx context.Context, query precedent.Query) ([]precedent.ScoredPrecedent, error) {
	limit := query.Limit
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, case_hash, input_text, context, critic_outputs, verdict, created_at FROM precedents
	`)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: search similar: %w", err)
	}
	defer rows.Close()

	queryTokens := tokenize(query.Text)

	var results []precedent.ScoredPrecedent
	for rows.Next() {
		var (
			idStr, caseHash, inputText, contextJSON, criticsJSON, verdict, createdAt string
		)
		if err := rows.Scan(&idStr, &caseHash, &inputText, &contextJSON, &criticsJSON, &verdict, &createdAt); err != nil {
			return nil, fmt.Errorf("sqlitestore: scan precedent row: %w", err)
		}

		rec, err := decodeRow(idStr, caseHash, inputText, contextJSON, criticsJSON, verdict, createdAt)
		if err != nil {
			return nil, err
		}

		if !matchesFilters(rec.Context, query.Filters) {
			continue
		}

		similarity := jaccard(queryTokens, tokenize(rec.InputText))
		if similarity < query.MinSimilarity {
			continue
		}

		results = append(results, precedent.ScoredPrecedent{Record: rec, Similarity: similarity})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlitestore: search similar: %w", err)
	}

	sortScoredDescending(results)
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// GetByID retrieves a single precedent by its ID.
func (s *Store) GetByID(ctx context.Context, id uuid.UUID) (precedent.Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, case_hash, input_text, context, critic_outputs, verdict, created_at
		FROM precedents WHERE id = ?
	`, id.String())

	var idStr, caseHash, inputText, contextJSON, criticsJSON, verdict, createdAt string
	if err := row.Scan(&idStr, &caseHash, &inputText, &contextJSON, &criticsJSON, &verdict, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return precedent.Record{}, fmt.Errorf("sqlitestore: precedent %s: %w", id, ErrNotFound)
		}
		return precedent.Record{}, fmt.Errorf("sqlitestore: get precedent: %w", err)
	}
	return decodeRow(idStr, caseHash, inputText, contextJSON, criticsJSON, verdict, createdAt)
}

// Delete removes a precedent by ID.
func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM precedents WHERE id = ?`, id.String())
	if err != nil {
		return fmt.Errorf("sqlitestore: delete precedent %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlitestore: delete precedent %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("sqlitestore: precedent %s: %w", id, ErrNotFound)
	}
	return nil
}

func decodeRow(idStr, caseHash, inputText, contextJSON, criticsJSON, verdict, createdAt string) (precedent.Record, error) {
	id, err := uuid.Parse(idStr)
	if err != nil {
		return precedent.Record{}, fmt.Errorf("sqlitestore: parse id: %w", err)
	}
	created, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return precedent.Record{}, fmt.Errorf("sqlitestore: parse created_at: %w", err)
	}

	rec := precedent.Record{
		PrecedentID: id,
		CaseHash:    caseHash,
		InputText:   inputText,
		Verdict:     model.Verdict(verdict),
		CreatedAt:   created,
	}
	if err := json.Unmarshal([]byte(contextJSON), &rec.Context); err != nil {
		return precedent.Record{}, fmt.Errorf("sqlitestore: unmarshal context: %w", err)
	}
	if err := json.Unmarshal([]byte(criticsJSON), &rec.CriticOutputs); err != nil {
		return precedent.Record{}, fmt.Errorf("sqlitestore: unmarshal critic outputs: %w", err)
	}
	return rec, nil
}

func matchesFilters(context map[string]any, filters map[string]any) bool {
	for k, want := range filters {
		got, ok := context[k]
		if !ok {
			return false
		}
		wantJSON, _ := json.Marshal(want)
		gotJSON, _ := json.Marshal(got)
		if string(wantJSON) != string(gotJSON) {
			return false
		}
	}
	return true
}

func tokenize(text string) map[string]bool {
	tokens := make(map[string]bool)
	for _, f := range strings.Fields(strings.ToLower(text)) {
		f = strings.Trim(f, ".,!?;:\"'()[]{}")
		if f != "" {
			tokens[f] = true
		}
	}
	return tokens
}

func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	var intersection int
	for t := range a {
		if b[t] {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

func sortScoredDescending(results []precedent.ScoredPrecedent) {
	for i := 1; i < len(results); i++ {
		for j := i; j > 0 && results[j].Similarity > results[j-1].Similarity; j-- {
			results[j], results[j-1] = results[j-1], results[j]
		}
	}
}
