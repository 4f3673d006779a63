package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/eje-systems/eje/internal/embedding"
	"github.com/eje-systems/eje/internal/model"
	"github.com/eje-systems/eje/internal/precedent"
	"github.com/eje-systems/eje/internal/qdrantstore"
)

// ErrNotFound is returned when a lookup by ID matches no row.
var ErrNotFound = errors.New("pgstore: not found")

// annIndex is the subset of qdrantstore.Index a PrecedentStore needs, so
// tests can substitute a fake ANN candidate source.
type annIndex interface {
	Search(ctx context.Context, embedding []float32, expectedVerdict *model.Verdict, limit int) ([]qdrantstore.Candidate, error)
	Upsert(ctx context.Context, points []qdrantstore.Point) error
	Healthy(ctx context.Context) error
}

// PrecedentStore implements precedent.Store over Postgres with pgvector,
// using embedder to turn query and record text into vectors for ANN search.
// Store is idempotent on Record.CaseHash via an upsert on a unique index.
//
// When an ann index is configured (see WithANNIndex), SearchSimilar prefers
// it for candidate generation — Qdrant scales ANN search past what an HNSW
// index in Postgres comfortably serves alongside transactional writes — and
// falls back to the in-database pgvector query whenever the index reports
// unhealthy, so a Qdrant outage degrades search quality rather than
// availability.
type PrecedentStore struct {
	db       *DB
	embedder embedding.Provider
	ann      annIndex
}

// NewPrecedentStore constructs a PrecedentStore. The precedents table and its
// HNSW index are expected to already exist (see EnsureSchema).
func NewPrecedentStore(db *DB, embedder embedding.Provider) *PrecedentStore {
	return &PrecedentStore{db: db, embedder: embedder}
}

// WithANNIndex attaches a Qdrant-backed ANN candidate source used ahead of
// the pgvector fallback. Returns s for chaining.
func (s *PrecedentStore) WithANNIndex(idx *qdrantstore.Index) *PrecedentStore {
	s.ann = idx
	return s
}

// EnsureSchema creates the precedents table and its vector index if they
// don't already exist. dims must match embedder.Dimensions().
func (s *PrecedentStore) EnsureSchema(ctx context.Context, dims int) error {
	_, err := s.db.pool.Exec(ctx, fmt.Sprintf(`
		CREATE EXTENSION IF NOT EXISTS vector;
		CREATE TABLE IF NOT EXISTS precedents (
			id uuid PRIMARY KEY,
			case_hash text NOT NULL UNIQUE,
			input_text text NOT NULL,
			context jsonb NOT NULL DEFAULT '{}',
			critic_outputs jsonb NOT NULL DEFAULT '[]',
			verdict text NOT NULL,
			embedding vector(%d),
			created_at timestamptz NOT NULL
		);
		CREATE INDEX IF NOT EXISTS precedents_embedding_hnsw
			ON precedents USING hnsw (embedding vector_cosine_ops);
	`, dims))
	if err != nil {
		return fmt.Errorf("pgstore: ensure precedent schema: %w", err)
	}
	return nil
}

// Store upserts record keyed by CaseHash, embedding InputText if a real
// embedding provider is configured. Returns the existing PrecedentID when
// the case hash already exists rather than duplicating the row.
func (s *PrecedentStore) Store(ctx context.Context, record precedent.Record) (uuid.UUID, error) {
	if record.PrecedentID == uuid.Nil {
		record.PrecedentID = uuid.New()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	var vec *pgvector.Vector
	emb, err := s.embedder.Embed(ctx, record.InputText)
	if err != nil && !errors.Is(err, embedding.ErrNoProvider) {
		return uuid.Nil, fmt.Errorf("pgstore: embed precedent text: %w", err)
	} else if err == nil {
		vec = &emb
	}

	criticsJSON, err := json.Marshal(record.CriticOutputs)
	if err != nil {
		return uuid.Nil, fmt.Errorf("pgstore: marshal critic outputs: %w", err)
	}
	contextJSON, err := json.Marshal(record.Context)
	if err != nil {
		return uuid.Nil, fmt.Errorf("pgstore: marshal context: %w", err)
	}

	var id uuid.UUID
	err = WithRetry(ctx, 3, 50*time.Millisecond, func() error {
		return s.db.pool.QueryRow(ctx, `
			INSERT INTO precedents (id, case_hash, input_text, context, critic_outputs, verdict, embedding, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (case_hash) DO UPDATE SET case_hash = precedents.case_hash
			RETURNING id
		`, record.PrecedentID, record.CaseHash, record.InputText, contextJSON, criticsJSON,
			string(record.Verdict), vec, record.CreatedAt).Scan(&id)
	})
	if err != nil {
		return uuid.Nil, fmt.Errorf("pgstore: store precedent: %w", err)
	}

	if s.ann != nil && vec != nil {
		point := qdrantstore.Point{ID: id, CaseHash: record.CaseHash, Verdict: record.Verdict, CreatedAt: record.CreatedAt, Embedding: vec.Slice()}
		if err := s.ann.Upsert(ctx, []qdrantstore.Point{point}); err != nil {
			s.db.logger.Warn("pgstore: ann index upsert failed, precedent remains searchable via pgvector only", "error", err)
		}
	}

	return id, nil
}

// SearchSimilar embeds query.Text and ranks stored precedents, preferring
// the configured ANN index for candidate generation (see WithANNIndex) and
// falling back to an in-database pgvector query — ranked by cosine
// similarity or the metric query.Metric selects — when no index is
// configured or it reports unhealthy. Both paths apply MinSimilarity and an
// optional JSONB containment filter over query.Filters.
func (s *PrecedentStore) SearchSimilar(ctx context.Context, query precedent.Query) ([]precedent.ScoredPrecedent, error) {
	limit := query.Limit
	if limit <= 0 {
		limit = 20
	}

	emb, err := s.embedder.Embed(ctx, query.Text)
	if err != nil {
		if errors.Is(err, embedding.ErrNoProvider) {
			return nil, nil
		}
		return nil, fmt.Errorf("pgstore: embed query text: %w", err)
	}

	if s.ann != nil {
		if healthErr := s.ann.Healthy(ctx); healthErr != nil {
			s.db.logger.Warn("pgstore: ann index unhealthy, falling back to pgvector search", "error", healthErr)
		} else if results, err := s.searchViaANN(ctx, emb, query, limit); err == nil {
			return results, nil
		} else {
			s.db.logger.Warn("pgstore: ann index search failed, falling back to pgvector search", "error", err)
		}
	}

	return s.searchViaPgvector(ctx, emb, query, limit)
}

// searchViaANN resolves candidate IDs from the ANN index to full Records via
// Postgres, preserving the index's score ordering.
func (s *PrecedentStore) searchViaANN(ctx context.Context, emb pgvector.Vector, query precedent.Query, limit int) ([]precedent.ScoredPrecedent, error) {
	candidates, err := s.ann.Search(ctx, emb.Slice(), query.ExpectedVerdict, limit)
	if err != nil {
		return nil, fmt.Errorf("pgstore: ann search: %w", err)
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	byID := make(map[uuid.UUID]float64, len(candidates))
	ids := make([]uuid.UUID, 0, len(candidates))
	for _, c := range candidates {
		byID[c.PrecedentID] = float64(c.Score)
		ids = append(ids, c.PrecedentID)
	}

	rows, err := s.db.pool.Query(ctx, `
		SELECT id, case_hash, input_text, context, critic_outputs, verdict, created_at
		FROM precedents WHERE id = ANY($1)
	`, ids)
	if err != nil {
		return nil, fmt.Errorf("pgstore: resolve ann candidates: %w", err)
	}
	defer rows.Close()

	var results []precedent.ScoredPrecedent
	for rows.Next() {
		var (
			rec         precedent.Record
			contextJSON []byte
			criticsJSON []byte
			verdict     string
		)
		if err := rows.Scan(&rec.PrecedentID, &rec.CaseHash, &rec.InputText, &contextJSON, &criticsJSON, &verdict, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("pgstore: scan ann candidate row: %w", err)
		}
		if err := decodePrecedentJSON(&rec, verdict, contextJSON, criticsJSON); err != nil {
			return nil, err
		}
		if !matchesContextFilters(rec.Context, query.Filters) {
			continue
		}
		similarity := byID[rec.PrecedentID]
		if similarity < query.MinSimilarity {
			continue
		}
		results = append(results, precedent.ScoredPrecedent{Record: rec, Similarity: similarity})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pgstore: resolve ann candidates: %w", err)
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Similarity > results[j].Similarity })
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func matchesContextFilters(context map[string]any, filters map[string]any) bool {
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

func (s *PrecedentStore) searchViaPgvector(ctx context.Context, emb pgvector.Vector, query precedent.Query, limit int) ([]precedent.ScoredPrecedent, error) {
	op := distanceOperator(query.Metric)

	sql := fmt.Sprintf(`
		SELECT id, case_hash, input_text, context, critic_outputs, verdict, created_at,
		       1 - (embedding %s $1) AS similarity
		FROM precedents
		WHERE embedding IS NOT NULL
	`, op)
	args := []any{emb}

	if len(query.Filters) > 0 {
		filterJSON, err := json.Marshal(query.Filters)
		if err != nil {
			return nil, fmt.Errorf("pgstore: marshal search filters: %w", err)
		}
		args = append(args, filterJSON)
		sql += fmt.Sprintf(" AND context @> $%d::jsonb", len(args))
	}
	if query.MinSimilarity > 0 {
		args = append(args, query.MinSimilarity)
		sql += fmt.Sprintf(" AND 1 - (embedding %s $1) >= $%d", op, len(args))
	}

	args = append(args, limit)
	sql += fmt.Sprintf(" ORDER BY embedding %s $1 LIMIT $%d", op, len(args))

	rows, err := s.db.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("pgstore: search similar precedents: %w", err)
	}
	defer rows.Close()

	var results []precedent.ScoredPrecedent
	for rows.Next() {
		var (
			rec         precedent.Record
			contextJSON []byte
			criticsJSON []byte
			verdict     string
			similarity  float64
		)
		if err := rows.Scan(&rec.PrecedentID, &rec.CaseHash, &rec.InputText, &contextJSON, &criticsJSON, &verdict, &rec.CreatedAt, &similarity); err != nil {
			return nil, fmt.Errorf("pgstore: scan precedent row: %w", err)
		}
		if err := decodePrecedentJSON(&rec, verdict, contextJSON, criticsJSON); err != nil {
			return nil, err
		}
		results = append(results, precedent.ScoredPrecedent{Record: rec, Similarity: similarity})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pgstore: search similar precedents: %w", err)
	}
	return results, nil
}

// GetByID retrieves a single precedent by its ID.
func (s *PrecedentStore) GetByID(ctx context.Context, id uuid.UUID) (precedent.Record, error) {
	var (
		rec         precedent.Record
		contextJSON []byte
		criticsJSON []byte
		verdict     string
	)
	err := s.db.pool.QueryRow(ctx, `
		SELECT id, case_hash, input_text, context, critic_outputs, verdict, created_at
		FROM precedents WHERE id = $1
	`, id).Scan(&rec.PrecedentID, &rec.CaseHash, &rec.InputText, &contextJSON, &criticsJSON, &verdict, &rec.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return precedent.Record{}, fmt.Errorf("pgstore: precedent %s: %w", id, ErrNotFound)
		}
		return precedent.Record{}, fmt.Errorf("pgstore: get precedent: %w", err)
	}
	if err := decodePrecedentJSON(&rec, verdict, contextJSON, criticsJSON); err != nil {
		return precedent.Record{}, err
	}
	return rec, nil
}

// Delete removes a precedent by ID.
func (s *PrecedentStore) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := s.db.pool.Exec(ctx, `DELETE FROM precedents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("pgstore: delete precedent %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("pgstore: precedent %s: %w", id, ErrNotFound)
	}
	return nil
}

// decodePrecedentJSON fills rec's Verdict, Context, and CriticOutputs from
// their raw column bytes, shared by GetByID and SearchSimilar's scan paths.
func decodePrecedentJSON(rec *precedent.Record, verdict string, contextJSON, criticsJSON []byte) error {
	rec.Verdict = model.Verdict(verdict)
	if len(contextJSON) > 0 {
		if err := json.Unmarshal(contextJSON, &rec.Context); err != nil {
			return fmt.Errorf("pgstore: unmarshal precedent context: %w", err)
		}
	}
	if len(criticsJSON) > 0 {
		if err := json.Unmarshal(criticsJSON, &rec.CriticOutputs); err != nil {
			return fmt.Errorf("pgstore: unmarshal critic outputs: %w", err)
		}
	}
	return nil
}

func distanceOperator(metric precedent.Metric) string {
	switch metric {
	case precedent.MetricEuclidean:
		return "<->"
	case precedent.MetricDot:
		return "<#>"
	default:
		return "<=>"
	}
}
