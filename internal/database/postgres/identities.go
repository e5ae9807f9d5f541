package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/pgvector/pgvector-go"

	"github.com/kozaktomas/rollcall/internal/database"
	"github.com/kozaktomas/rollcall/internal/facematch"
)

// IdentityRepository provides PostgreSQL-backed identity storage with optional in-memory HNSW index.
type IdentityRepository struct {
	pool          *Pool
	hnswIndex     *database.IdentityIndex
	hnswEnabled   bool
	hnswIndexPath string // Path to persist HNSW index (optional)
	hnswMu        sync.RWMutex
}

// NewIdentityRepository creates a new PostgreSQL identity repository.
func NewIdentityRepository(pool *Pool) *IdentityRepository {
	return &IdentityRepository{pool: pool}
}

const identityColumns = `id, display_name, class_id, COALESCE(embedding::text, ''), model, dim, enrolled_at, updated_at`

func scanIdentity(scanner interface{ Scan(...any) error }) (database.StoredIdentity, error) {
	var (
		s          database.StoredIdentity
		vecText    string
		enrolledAt sql.NullTime
	)
	if err := scanner.Scan(&s.ID, &s.DisplayName, &s.ClassID, &vecText, &s.Model, &s.Dim, &enrolledAt, &s.UpdatedAt); err != nil {
		return s, err
	}
	if vecText != "" {
		var vec pgvector.Vector
		if err := vec.Scan(vecText); err != nil {
			return s, fmt.Errorf("parse embedding of %s: %w", s.ID, err)
		}
		s.Embedding = vec.Slice()
	}
	if enrolledAt.Valid {
		s.EnrolledAt = enrolledAt.Time
	}
	return s, nil
}

func scanIdentities(rows *sql.Rows) ([]database.StoredIdentity, error) {
	var result []database.StoredIdentity
	for rows.Next() {
		s, err := scanIdentity(rows)
		if err != nil {
			return nil, fmt.Errorf("scan identity: %w", err)
		}
		result = append(result, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate identities: %w", err)
	}
	return result, nil
}

// Get retrieves an identity by ID, returns nil if not found.
func (r *IdentityRepository) Get(ctx context.Context, id string) (*database.StoredIdentity, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+identityColumns+` FROM identities WHERE id = $1`, id)
	s, err := scanIdentity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get identity: %w", err)
	}
	return &s, nil
}

// List returns identities matching the filter ordered by ID.
// The name query is applied in Go so it shares normalisation with the rest of the app.
func (r *IdentityRepository) List(ctx context.Context, filter database.IdentityFilter) ([]database.StoredIdentity, error) {
	var (
		conds []string
		args  []any
	)
	if filter.ClassID != "" {
		args = append(args, filter.ClassID)
		conds = append(conds, fmt.Sprintf("class_id = $%d", len(args)))
	}
	if filter.EnrolledOnly {
		conds = append(conds, "embedding IS NOT NULL")
	}

	query := `SELECT ` + identityColumns + ` FROM identities`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	query += ` ORDER BY id`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list identities: %w", err)
	}
	defer rows.Close()

	all, err := scanIdentities(rows)
	if err != nil {
		return nil, err
	}
	if filter.Query == "" {
		return all, nil
	}

	result := all[:0]
	for _, s := range all {
		if facematch.NameMatches(s.DisplayName, filter.Query) {
			result = append(result, s)
		}
	}
	return result, nil
}

// Count returns the number of identities with an enrolled embedding.
func (r *IdentityRepository) Count(ctx context.Context) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM identities WHERE embedding IS NOT NULL").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count identities: %w", err)
	}
	return count, nil
}

// enrolledGeneration reports the count and newest update of enrolled identities.
// Renames and re-enrollments bump updated_at, so an index saved before either no
// longer matches even when the count is unchanged.
func (r *IdentityRepository) enrolledGeneration(ctx context.Context) (database.IndexGeneration, error) {
	var (
		g      database.IndexGeneration
		latest sql.NullTime
	)
	err := r.pool.QueryRow(ctx,
		"SELECT COUNT(*), MAX(updated_at) FROM identities WHERE embedding IS NOT NULL").Scan(&g.Count, &latest)
	if err != nil {
		return g, fmt.Errorf("read enrollment generation: %w", err)
	}
	if latest.Valid {
		g.Latest = latest.Time
	}
	return g, nil
}

// FindNearest finds enrolled identities closer than maxDistance.
// Uses in-memory HNSW index if enabled, otherwise falls back to PostgreSQL.
func (r *IdentityRepository) FindNearest(
	ctx context.Context, embedding []float32, limit int, maxDistance float64,
) ([]database.Neighbor, error) {
	r.hnswMu.RLock()
	index := r.hnswIndex
	enabled := r.hnswEnabled && index != nil
	r.hnswMu.RUnlock()

	if enabled {
		return index.Search(embedding, limit, maxDistance), nil
	}
	return r.findNearestPostgres(ctx, embedding, limit, maxDistance)
}

func (r *IdentityRepository) findNearestPostgres(
	ctx context.Context, embedding []float32, limit int, maxDistance float64,
) ([]database.Neighbor, error) {
	query := `
		SELECT id, display_name, embedding <-> $1::vector AS distance
		FROM identities
		WHERE embedding IS NOT NULL
		ORDER BY embedding <-> $1::vector
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, pgvector.NewVector(embedding), limit)
	if err != nil {
		return nil, fmt.Errorf("query nearest identities: %w", err)
	}
	defer rows.Close()

	var result []database.Neighbor
	for rows.Next() {
		var n database.Neighbor
		if err := rows.Scan(&n.IdentityID, &n.DisplayName, &n.Distance); err != nil {
			return nil, fmt.Errorf("scan neighbor: %w", err)
		}
		if maxDistance > 0 && n.Distance >= maxDistance {
			continue
		}
		result = append(result, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate neighbors: %w", err)
	}
	return result, nil
}

// Upsert creates or updates an identity's name and class, keeping any enrolled embedding.
func (r *IdentityRepository) Upsert(ctx context.Context, identity database.StoredIdentity) error {
	query := `
		INSERT INTO identities (id, display_name, class_id, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (id) DO UPDATE SET
			display_name = EXCLUDED.display_name,
			class_id = EXCLUDED.class_id,
			updated_at = NOW()
	`
	if _, err := r.pool.Exec(ctx, query, identity.ID, identity.DisplayName, identity.ClassID); err != nil {
		return fmt.Errorf("upsert identity: %w", err)
	}

	r.updateHNSWName(identity.ID)
	return nil
}

// SaveEmbedding replaces the enrolled embedding of an existing identity.
func (r *IdentityRepository) SaveEmbedding(ctx context.Context, id string, embedding []float32, model string) error {
	query := `
		UPDATE identities
		SET embedding = $2, model = $3, dim = $4, enrolled_at = $5, updated_at = $5
		WHERE id = $1
		RETURNING display_name, class_id
	`

	// timestamptz keeps microseconds; the indexed copy must compare equal to it
	now := time.Now().UTC().Truncate(time.Microsecond)
	stored := database.StoredIdentity{
		ID: id, Embedding: embedding, Model: model, Dim: len(embedding), EnrolledAt: now, UpdatedAt: now,
	}
	err := r.pool.QueryRow(ctx, query, id, pgvector.NewVector(embedding), model, len(embedding), now).
		Scan(&stored.DisplayName, &stored.ClassID)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("identity %s not found", id)
	}
	if err != nil {
		return fmt.Errorf("save embedding: %w", err)
	}

	r.hnswMu.RLock()
	defer r.hnswMu.RUnlock()
	if r.hnswEnabled && r.hnswIndex != nil {
		if err := r.hnswIndex.Add(stored); err != nil {
			slog.Warn("failed to index enrolled identity", "identity_id", id, "error", err)
		}
	}
	return nil
}

// Delete removes an identity.
func (r *IdentityRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.pool.Exec(ctx, "DELETE FROM identities WHERE id = $1", id); err != nil {
		return fmt.Errorf("delete identity: %w", err)
	}

	r.hnswMu.RLock()
	defer r.hnswMu.RUnlock()
	if r.hnswIndex != nil {
		r.hnswIndex.Remove(id)
	}
	return nil
}

// updateHNSWName refreshes an indexed identity after a rename by re-adding it.
func (r *IdentityRepository) updateHNSWName(id string) {
	r.hnswMu.RLock()
	index := r.hnswIndex
	r.hnswMu.RUnlock()
	if index == nil {
		return
	}

	s, err := r.Get(context.Background(), id)
	if err != nil || s == nil || !s.HasEmbedding() {
		return
	}
	if err := index.Add(*s); err != nil {
		slog.Warn("failed to refresh indexed identity", "identity_id", id, "error", err)
	}
}

// EnableHNSW loads or builds an in-memory HNSW index over enrolled identities.
// If indexPath is provided, it will try to load from disk first and save after building.
// This should be called once at startup.
func (r *IdentityRepository) EnableHNSW(ctx context.Context, indexPath string) error {
	return r.enableHNSW(ctx, indexPath, true)
}

func (r *IdentityRepository) enableHNSW(ctx context.Context, indexPath string, loadSaved bool) error {
	r.hnswMu.Lock()
	defer r.hnswMu.Unlock()

	r.hnswIndexPath = indexPath
	index := database.NewIdentityIndex()

	if indexPath != "" && loadSaved {
		loaded, err := index.Load(indexPath)
		if err != nil {
			slog.Warn("failed to load identity index, rebuilding", "path", indexPath, "error", err)
		}
		if loaded && err == nil {
			current, gerr := r.enrolledGeneration(ctx)
			saved := index.Generation()
			if gerr == nil && saved.Matches(current) {
				r.hnswIndex = index
				r.hnswEnabled = true
				return nil
			}
			slog.Info("identity index is stale, rebuilding",
				"indexed", saved.Count, "enrolled", current.Count,
				"indexed_latest", saved.Latest, "enrolled_latest", current.Latest)
			index = database.NewIdentityIndex()
		}
	}

	identities, err := r.List(ctx, database.IdentityFilter{EnrolledOnly: true})
	if err != nil {
		return fmt.Errorf("failed to load identities: %w", err)
	}
	if err := index.Build(identities); err != nil {
		return fmt.Errorf("failed to build HNSW index: %w", err)
	}

	if indexPath != "" && len(identities) > 0 {
		if err := index.Save(indexPath); err != nil {
			slog.Warn("failed to save identity index to disk", "path", indexPath, "error", err)
		}
	}

	r.hnswIndex = index
	r.hnswEnabled = true
	return nil
}

// DisableHNSW disables the in-memory HNSW index, falling back to PostgreSQL queries.
func (r *IdentityRepository) DisableHNSW() {
	r.hnswMu.Lock()
	defer r.hnswMu.Unlock()
	r.hnswEnabled = false
	r.hnswIndex = nil
}

// IsHNSWEnabled returns whether the in-memory HNSW index is enabled.
func (r *IdentityRepository) IsHNSWEnabled() bool {
	r.hnswMu.RLock()
	defer r.hnswMu.RUnlock()
	return r.hnswEnabled && r.hnswIndex != nil
}

// HNSWCount returns the number of identities in the HNSW index.
func (r *IdentityRepository) HNSWCount() int {
	r.hnswMu.RLock()
	defer r.hnswMu.RUnlock()
	if r.hnswIndex == nil {
		return 0
	}
	return r.hnswIndex.Count()
}

// RebuildHNSW rebuilds the HNSW index from PostgreSQL data, ignoring any saved copy.
func (r *IdentityRepository) RebuildHNSW(ctx context.Context) error {
	r.hnswMu.RLock()
	indexPath := r.hnswIndexPath
	r.hnswMu.RUnlock()
	return r.enableHNSW(ctx, indexPath, false)
}

// SaveHNSWIndex saves the current HNSW index to disk (if path configured).
func (r *IdentityRepository) SaveHNSWIndex() error {
	r.hnswMu.RLock()
	defer r.hnswMu.RUnlock()

	if r.hnswIndexPath == "" || r.hnswIndex == nil {
		return nil
	}
	if err := r.hnswIndex.Save(r.hnswIndexPath); err != nil {
		return fmt.Errorf("save identity index: %w", err)
	}
	return nil
}
