package store

import (
	"context"
	"fmt"
	"time"

	"github.com/trailcast/orchestrator/archival"
	"github.com/trailcast/orchestrator/model"
	"github.com/trailcast/orchestrator/storagequeue"
	"github.com/trailcast/orchestrator/ttlengine"
)

type responseRow struct {
	ID                string  `db:"id"`
	Provider          string  `db:"provider"`
	Endpoint          string  `db:"endpoint"`
	RequestURL        string  `db:"request_url"`
	RequestParams     []byte  `db:"request_params"`
	Response          []byte  `db:"response"`
	ResponseSize      int64   `db:"response_size"`
	StatusCode        int     `db:"status_code"`
	ExecutionTimeMs   float64 `db:"execution_time_ms"`
	StorageMetadata   []byte  `db:"storage_metadata"`
	CreatedAt         time.Time `db:"created_at"`
}

// StoreBatch implements storagequeue.BatchStorer: one multi-row insert
// per batch (spec.md §4.5 "a single bulk-delete" mirrored here as a
// single bulk-insert).
func (s *Store) StoreBatch(ctx context.Context, recs []*model.RawAPIResponseRecord) error {
	if len(recs) == 0 {
		return nil
	}
	tx, err := s.DB.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, rec := range recs {
		var params, resp, meta []byte
		if rec.Params != nil {
			params, _ = rec.Params.MarshalJSON()
		}
		if rec.Response != nil {
			resp, _ = rec.Response.MarshalJSON()
		}
		if rec.StorageMetadata != nil {
			meta, _ = rec.StorageMetadata.MarshalJSON()
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO raw_api_responses
				(id, provider, endpoint, request_url, request_params, response,
				 response_size, status_code, execution_time_ms, storage_metadata, created_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
			ON CONFLICT (id) DO NOTHING`,
			rec.ID, rec.Provider, rec.Endpoint, rec.RequestURL, params, resp,
			rec.ResponseSizeBytes, rec.StatusCode, rec.ExecutionTimeMs, meta, rec.CreatedAt)
		if err != nil {
			return fmt.Errorf("store: insert raw response %s: %w", rec.ID, err)
		}
	}
	return tx.Commit()
}

var _ storagequeue.BatchStorer = (*Store)(nil)

// ttlCandidateQuery runs one of the TTL Engine's four candidate-class
// queries (spec.md §4.6) and scans the common candidate shape.
func (s *Store) ttlCandidateQuery(ctx context.Context, where string, args ...any) ([]ttlengine.Candidate, error) {
	type row struct {
		ID        string  `db:"id"`
		Size      int64   `db:"response_size"`
		Priority  int     `db:"priority"`
		CreatedAt time.Time `db:"created_at"`
	}
	query := fmt.Sprintf(`
		SELECT r.id, r.response_size,
		       COALESCE((r.storage_metadata->>'priority')::int, 2) AS priority,
		       r.created_at
		FROM raw_api_responses r
		LEFT JOIN storage_policy_rules p ON p.provider = r.provider AND p.endpoint = r.endpoint
		WHERE NOT r.archived AND (%s)`, where)
	var rows []row
	if err := s.DB.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	out := make([]ttlengine.Candidate, len(rows))
	for i, r := range rows {
		out[i] = ttlengine.Candidate{
			ID:        r.ID,
			SizeBytes: r.Size,
			Priority:  model.StoragePriority(r.Priority),
			CreatedAt: r.CreatedAt,
		}
	}
	return out, nil
}

// FindExpired implements ttlengine.Store: records past their resolved
// (provider, endpoint) TTL, falling back to the provider default rule.
func (s *Store) FindExpired(ctx context.Context) ([]ttlengine.Candidate, error) {
	return s.ttlCandidateQuery(ctx, `
		r.created_at < now() - (
			COALESCE(
				(SELECT ttl_days FROM storage_policy_rules WHERE provider = r.provider AND endpoint = r.endpoint),
				(SELECT ttl_days FROM storage_policy_rules WHERE provider = r.provider AND endpoint = ''),
				30
			) * interval '1 day'
		)`)
}

// FindLowPriorityAged implements ttlengine.Store.
func (s *Store) FindLowPriorityAged(ctx context.Context, minAge time.Duration) ([]ttlengine.Candidate, error) {
	return s.ttlCandidateQuery(ctx, `
		COALESCE((r.storage_metadata->>'priority')::int, 2) = 3
		AND r.created_at < now() - ($1 * interval '1 second')`, minAge.Seconds())
}

// FindOversizeAged implements ttlengine.Store.
func (s *Store) FindOversizeAged(ctx context.Context, minSize int64, minAge time.Duration) ([]ttlengine.Candidate, error) {
	return s.ttlCandidateQuery(ctx, `
		r.response_size > $1
		AND COALESCE((r.storage_metadata->>'priority')::int, 2) >= 2
		AND r.created_at < now() - ($2 * interval '1 second')`, minSize, minAge.Seconds())
}

// FindEmergency implements ttlengine.Store.
func (s *Store) FindEmergency(ctx context.Context, minAge time.Duration) ([]ttlengine.Candidate, error) {
	return s.ttlCandidateQuery(ctx, `
		COALESCE((r.storage_metadata->>'priority')::int, 2) >= 2
		AND r.created_at < now() - ($1 * interval '1 second')`, minAge.Seconds())
}

// DeleteBatch implements ttlengine.Store: one bulk delete per batch,
// returning the bytes reclaimed (spec.md §4.6 "each batch is a single
// bulk-delete").
func (s *Store) DeleteBatch(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	var reclaimed int64
	err := s.DB.GetContext(ctx, &reclaimed, `
		WITH deleted AS (
			DELETE FROM raw_api_responses WHERE id = ANY($1) RETURNING response_size
		) SELECT COALESCE(sum(response_size), 0) FROM deleted`, pqStringArray(ids))
	return reclaimed, err
}

var _ ttlengine.Store = (*Store)(nil)

// FindArchivalCandidates implements archival.Store: records past a fixed
// archival age (30 days; providers may override via a future policy
// field) that are not yet archived.
func (s *Store) FindArchivalCandidates(ctx context.Context, provider string) ([]archival.ArchivalCandidate, error) {
	where := "NOT archived AND created_at < now() - interval '30 days'"
	args := []any{}
	if provider != "" {
		where += " AND provider = $1"
		args = append(args, provider)
	}
	type row struct {
		ID       string `db:"id"`
		Provider string `db:"provider"`
		Response []byte `db:"response"`
	}
	var rows []row
	if err := s.DB.SelectContext(ctx, &rows, "SELECT id, provider, response FROM raw_api_responses WHERE "+where, args...); err != nil {
		return nil, err
	}
	out := make([]archival.ArchivalCandidate, len(rows))
	for i, r := range rows {
		out[i] = archival.ArchivalCandidate{ID: r.ID, Provider: r.Provider, Payload: r.Response}
	}
	return out, nil
}

// MarkArchived implements archival.Store.
func (s *Store) MarkArchived(ctx context.Context, id, archivePath string, deletePayload bool) error {
	query := "UPDATE raw_api_responses SET archived = TRUE, archived_at = now(), archive_path = $2"
	if deletePayload {
		query += ", response = NULL"
	}
	query += " WHERE id = $1"
	_, err := s.DB.ExecContext(ctx, query, id, archivePath)
	return err
}

var _ archival.Store = (*Store)(nil)

// pqStringArray renders a Go []string as a Postgres text[] literal; pgx's
// stdlib driver does not support []string as a bind parameter directly.
func pqStringArray(ss []string) string {
	out := "{"
	for i, s := range ss {
		if i > 0 {
			out += ","
		}
		out += `"` + s + `"`
	}
	return out + "}"
}
