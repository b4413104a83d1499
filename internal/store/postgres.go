package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	pgxvector "github.com/pgvector/pgvector-go/pgx"

	pperrors "github.com/trailblazer-io/trailblazer/internal/errors"
	"github.com/trailblazer-io/trailblazer/internal/record"
)

// PostgresStore is the production backend: pgvector for dense search,
// Postgres full-text search for the lexical path, and FOR UPDATE SKIP LOCKED
// for run claiming.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to url, registers the pgvector codec on every
// connection, and applies the schema for the given embedding dimension.
func NewPostgresStore(ctx context.Context, url string, dimension int, statementTimeout time.Duration) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, pperrors.DatabaseError("parse database url", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvector.RegisterTypes(ctx, conn)
	}
	if statementTimeout > 0 {
		cfg.ConnConfig.RuntimeParams["statement_timeout"] =
			fmt.Sprintf("%d", statementTimeout.Milliseconds())
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, pperrors.DatabaseError("connect", err)
	}
	s := &PostgresStore{pool: pool}
	if err := s.migrate(ctx, dimension); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) migrate(ctx context.Context, dimension int) error {
	if _, err := s.pool.Exec(ctx, Schema(dimension)); err != nil {
		return pperrors.DatabaseError("apply schema", err)
	}
	return nil
}

// UpsertDocument inserts or overwrites a document row. All mutable metadata
// is overwritten on conflict.
func (s *PostgresStore) UpsertDocument(ctx context.Context, doc record.Document) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO documents (doc_id, source_system, title, url, space_key, collection,
			created_at, updated_at, body_repr, content_sha256, fingerprint, meta, loaded_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12, now())
		ON CONFLICT (doc_id) DO UPDATE SET
			source_system = EXCLUDED.source_system,
			title = EXCLUDED.title,
			url = EXCLUDED.url,
			space_key = EXCLUDED.space_key,
			collection = EXCLUDED.collection,
			created_at = EXCLUDED.created_at,
			updated_at = EXCLUDED.updated_at,
			body_repr = EXCLUDED.body_repr,
			content_sha256 = EXCLUDED.content_sha256,
			fingerprint = EXCLUDED.fingerprint,
			meta = EXCLUDED.meta,
			loaded_at = now()`,
		doc.DocID, doc.SourceSystem, doc.Title, doc.URL, doc.SpaceKey, doc.Collection,
		doc.CreatedAt, doc.UpdatedAt, doc.BodyRepr, doc.ContentSHA256, doc.Fingerprint, doc.Meta)
	if err != nil {
		return pperrors.DatabaseError("upsert document "+doc.DocID, err)
	}
	return nil
}

// DocumentFingerprints returns stored fingerprints for the given doc ids.
func (s *PostgresStore) DocumentFingerprints(ctx context.Context, docIDs []string) (map[string]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT doc_id, fingerprint FROM documents WHERE doc_id = ANY($1)`, docIDs)
	if err != nil {
		return nil, pperrors.DatabaseError("select fingerprints", err)
	}
	defer rows.Close()

	out := make(map[string]string, len(docIDs))
	for rows.Next() {
		var id, fp string
		if err := rows.Scan(&id, &fp); err != nil {
			return nil, pperrors.DatabaseError("scan fingerprint", err)
		}
		if fp != "" {
			out[id] = fp
		}
	}
	return out, rows.Err()
}

// UpsertChunk inserts or overwrites a chunk row.
func (s *PostgresStore) UpsertChunk(ctx context.Context, runID string, chunk record.Chunk) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO chunks (chunk_id, doc_id, run_id, ord, text_md, char_count,
			token_count, content_hash, title, url, source_system, loaded_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11, now())
		ON CONFLICT (chunk_id) DO UPDATE SET
			doc_id = EXCLUDED.doc_id,
			run_id = EXCLUDED.run_id,
			ord = EXCLUDED.ord,
			text_md = EXCLUDED.text_md,
			char_count = EXCLUDED.char_count,
			token_count = EXCLUDED.token_count,
			content_hash = EXCLUDED.content_hash,
			title = EXCLUDED.title,
			url = EXCLUDED.url,
			source_system = EXCLUDED.source_system,
			loaded_at = now()`,
		chunk.ChunkID, chunk.DocID, runID, chunk.Ord, chunk.TextMD, chunk.CharCount,
		chunk.TokenCount, chunk.ContentHash,
		chunk.Traceability.Title, chunk.Traceability.URL, chunk.Traceability.SourceSystem)
	if err != nil {
		return pperrors.DatabaseError("upsert chunk "+chunk.ChunkID, err)
	}
	return nil
}

// UpsertEmbeddings writes vectors keyed by (chunkId, provider) in one batch.
func (s *PostgresStore) UpsertEmbeddings(ctx context.Context, provider, model string, dimension int, rows []EmbeddingRow) error {
	if len(rows) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(`
			INSERT INTO chunk_embeddings (chunk_id, provider, model, dimension, embedding, updated_at)
			VALUES ($1,$2,$3,$4,$5, now())
			ON CONFLICT (chunk_id, provider) DO UPDATE SET
				model = EXCLUDED.model,
				dimension = EXCLUDED.dimension,
				embedding = EXCLUDED.embedding,
				updated_at = now()`,
			r.ChunkID, provider, model, dimension, pgvector.NewVector(r.Vector))
	}
	results := s.pool.SendBatch(ctx, batch)
	defer func() { _ = results.Close() }()
	for range rows {
		if _, err := results.Exec(); err != nil {
			return pperrors.DatabaseError("upsert embeddings", err)
		}
	}
	return nil
}

// EmbeddingDimension returns the dimension of stored embeddings for the
// provider, or 0 when none exist.
func (s *PostgresStore) EmbeddingDimension(ctx context.Context, provider string) (int, error) {
	var dim int
	err := s.pool.QueryRow(ctx,
		`SELECT dimension FROM chunk_embeddings WHERE provider = $1 LIMIT 1`,
		provider).Scan(&dim)
	if err == pgx.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, pperrors.DatabaseError("select embedding dimension", err)
	}
	return dim, nil
}

// SearchDense returns nearest chunks by cosine similarity. Ordering is by
// distance ascending with docId/chunkId tiebreaks, so equal scores resolve
// deterministically.
func (s *PostgresStore) SearchDense(ctx context.Context, q DenseQuery) ([]Candidate, error) {
	whitelist := q.SpaceWhitelist
	if whitelist == nil {
		whitelist = []string{}
	}
	rows, err := s.pool.Query(ctx, `
		SELECT c.chunk_id, c.doc_id, c.title, c.url, c.source_system, c.text_md,
		       1 - (e.embedding <=> $1) AS score
		FROM chunk_embeddings e
		JOIN chunks c ON c.chunk_id = e.chunk_id
		JOIN documents d ON d.doc_id = c.doc_id
		WHERE e.provider = $2 AND e.dimension = $3
		  AND (cardinality($4::text[]) = 0 OR d.space_key = ANY($4))
		ORDER BY e.embedding <=> $1 ASC, c.doc_id ASC, c.chunk_id ASC
		LIMIT $5`,
		pgvector.NewVector(q.Vector), q.Provider, q.Dimension, whitelist, q.TopK)
	if err != nil {
		return nil, pperrors.DatabaseError("dense search", err)
	}
	defer rows.Close()
	return scanCandidates(rows)
}

// SearchBM25 ranks chunks with websearch_to_tsquery and ts_rank_cd over the
// generated tsvector column.
func (s *PostgresStore) SearchBM25(ctx context.Context, q BM25Query) ([]Candidate, error) {
	if strings.TrimSpace(q.Query) == "" {
		return []Candidate{}, nil
	}
	whitelist := q.SpaceWhitelist
	if whitelist == nil {
		whitelist = []string{}
	}
	rows, err := s.pool.Query(ctx, `
		SELECT c.chunk_id, c.doc_id, c.title, c.url, c.source_system, c.text_md,
		       ts_rank_cd(c.tsv, query) AS score
		FROM chunks c
		JOIN documents d ON d.doc_id = c.doc_id,
		     websearch_to_tsquery('english', $1) query
		WHERE c.tsv @@ query
		  AND (cardinality($2::text[]) = 0 OR d.space_key = ANY($2))
		  AND ($3 = '' OR d.collection = $3)
		ORDER BY score DESC, c.doc_id ASC, c.chunk_id ASC
		LIMIT $4`,
		q.Query, whitelist, q.Collection, q.TopK)
	if err != nil {
		return nil, pperrors.DatabaseError("bm25 search", err)
	}
	defer rows.Close()
	return scanCandidates(rows)
}

func scanCandidates(rows pgx.Rows) ([]Candidate, error) {
	var out []Candidate
	for rows.Next() {
		var c Candidate
		if err := rows.Scan(&c.ChunkID, &c.DocID, &c.Title, &c.URL, &c.SourceSystem, &c.TextMD, &c.Score); err != nil {
			return nil, pperrors.DatabaseError("scan candidate", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// RegisterRun inserts a processed_runs row, refreshing doc totals when the
// run already exists.
func (s *PostgresStore) RegisterRun(ctx context.Context, run record.ProcessedRun) error {
	status := run.Status
	if status == "" {
		status = record.StatusNormalized
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO processed_runs (run_id, source, normalized_at, status, total_docs, code_version, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6, now())
		ON CONFLICT (run_id) DO UPDATE SET
			total_docs = EXCLUDED.total_docs,
			code_version = EXCLUDED.code_version,
			updated_at = now()`,
		run.RunID, run.Source, run.NormalizedAt, status, run.TotalDocs, run.CodeVersion)
	if err != nil {
		return pperrors.DatabaseError("register run "+run.RunID, err)
	}
	return nil
}

// ClaimRun recovers stale claims, then claims the oldest eligible run with
// FOR UPDATE SKIP LOCKED so concurrent workers never block on each other.
func (s *PostgresStore) ClaimRun(ctx context.Context, phase ClaimPhase, workerID string, ttl time.Duration) (ClaimResult, error) {
	var result ClaimResult

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return result, pperrors.DatabaseError("begin claim", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	recovered, err := tx.Exec(ctx, `
		UPDATE processed_runs
		SET status = $1, claimed_by = NULL, claimed_at = NULL, updated_at = now()
		WHERE status = $2 AND claimed_at < now() - $3 * interval '1 second'`,
		phase.RecoveryState(), phase.ActiveState(), ttl.Seconds())
	if err != nil {
		return result, pperrors.DatabaseError("recover stale claims", err)
	}
	result.Recovered = int(recovered.RowsAffected())

	pre := make([]string, 0, 2)
	for _, st := range phase.PreStates() {
		pre = append(pre, string(st))
	}
	var runID string
	err = tx.QueryRow(ctx, `
		SELECT run_id FROM processed_runs
		WHERE status = ANY($1)
		ORDER BY normalized_at ASC
		FOR UPDATE SKIP LOCKED
		LIMIT 1`, pre).Scan(&runID)
	if err == pgx.ErrNoRows {
		if err := tx.Commit(ctx); err != nil {
			return result, pperrors.DatabaseError("commit claim", err)
		}
		return result, nil
	}
	if err != nil {
		return result, pperrors.DatabaseError("select claimable run", err)
	}

	startedColumn := "chunk_started_at"
	if phase == ClaimEmbed {
		startedColumn = "embed_started_at"
	}
	_, err = tx.Exec(ctx, fmt.Sprintf(`
		UPDATE processed_runs
		SET status = $1, claimed_by = $2, claimed_at = now(), %s = now(), updated_at = now()
		WHERE run_id = $3`, startedColumn),
		phase.ActiveState(), workerID, runID)
	if err != nil {
		return result, pperrors.DatabaseError("mark claim", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return result, pperrors.DatabaseError("commit claim", err)
	}

	run, err := s.GetRun(ctx, runID)
	if err != nil {
		return result, err
	}
	result.Run = run
	return result, nil
}

// MarkComplete transitions a run to the phase's done state.
func (s *PostgresStore) MarkComplete(ctx context.Context, runID string, phase ClaimPhase, totals Totals) error {
	completedColumn := "chunk_completed_at"
	if phase == ClaimEmbed {
		completedColumn = "embed_completed_at"
	}
	tag, err := s.pool.Exec(ctx, fmt.Sprintf(`
		UPDATE processed_runs
		SET status = $1, claimed_by = NULL, claimed_at = NULL, %s = now(),
		    total_docs = CASE WHEN $2 > 0 THEN $2 ELSE total_docs END,
		    total_chunks = CASE WHEN $3 > 0 THEN $3 ELSE total_chunks END,
		    embedded_chunks = CASE WHEN $4 > 0 THEN $4 ELSE embedded_chunks END,
		    updated_at = now()
		WHERE run_id = $5`, completedColumn),
		phase.DoneState(), totals.TotalDocs, totals.TotalChunks, totals.EmbeddedChunks, runID)
	if err != nil {
		return pperrors.DatabaseError("mark complete "+runID, err)
	}
	if tag.RowsAffected() == 0 {
		return pperrors.Newf(pperrors.ErrCodeDatabase, "run %s not found", runID)
	}
	return nil
}

// ReleaseClaim returns a claimed run to the backlog without completing it.
func (s *PostgresStore) ReleaseClaim(ctx context.Context, runID string, phase ClaimPhase) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE processed_runs
		SET status = $1, claimed_by = NULL, claimed_at = NULL, updated_at = now()
		WHERE run_id = $2 AND status = $3`,
		phase.RecoveryState(), runID, phase.ActiveState())
	if err != nil {
		return pperrors.DatabaseError("release claim "+runID, err)
	}
	return nil
}

// ResetRuns returns runs to the reset status. With purge, their chunks and
// embeddings are deleted too.
func (s *PostgresStore) ResetRuns(ctx context.Context, runIDs []string, purge bool) (int, error) {
	if len(runIDs) == 0 {
		return 0, nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, pperrors.DatabaseError("begin reset", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if purge {
		// Embeddings go with their chunks via ON DELETE CASCADE.
		if _, err := tx.Exec(ctx,
			`DELETE FROM chunks WHERE run_id = ANY($1)`, runIDs); err != nil {
			return 0, pperrors.DatabaseError("purge chunks", err)
		}
	}
	tag, err := tx.Exec(ctx, `
		UPDATE processed_runs
		SET status = $1, claimed_by = NULL, claimed_at = NULL,
		    total_chunks = NULL, embedded_chunks = NULL, updated_at = now()
		WHERE run_id = ANY($2)`,
		record.StatusReset, runIDs)
	if err != nil {
		return 0, pperrors.DatabaseError("reset runs", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, pperrors.DatabaseError("commit reset", err)
	}
	return int(tag.RowsAffected()), nil
}

const runColumns = `run_id, source, normalized_at, status, total_docs, total_chunks,
	embedded_chunks, claimed_by, claimed_at, chunk_started_at, chunk_completed_at,
	embed_started_at, embed_completed_at, code_version, updated_at`

// ListRuns returns all coordination rows ordered by normalizedAt.
func (s *PostgresStore) ListRuns(ctx context.Context) ([]record.ProcessedRun, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+runColumns+` FROM processed_runs ORDER BY normalized_at ASC`)
	if err != nil {
		return nil, pperrors.DatabaseError("list runs", err)
	}
	defer rows.Close()

	var out []record.ProcessedRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

// GetRun returns one coordination row, or nil when absent.
func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*record.ProcessedRun, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+runColumns+` FROM processed_runs WHERE run_id = $1`, runID)
	if err != nil {
		return nil, pperrors.DatabaseError("get run "+runID, err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	run, err := scanRun(rows)
	if err != nil {
		return nil, err
	}
	return &run, nil
}

func scanRun(rows pgx.Rows) (record.ProcessedRun, error) {
	var run record.ProcessedRun
	err := rows.Scan(&run.RunID, &run.Source, &run.NormalizedAt, &run.Status,
		&run.TotalDocs, &run.TotalChunks, &run.EmbeddedChunks,
		&run.ClaimedBy, &run.ClaimedAt,
		&run.ChunkStartedAt, &run.ChunkCompletedAt,
		&run.EmbedStartedAt, &run.EmbedCompletedAt,
		&run.CodeVersion, &run.UpdatedAt)
	if err != nil {
		return run, pperrors.DatabaseError("scan run", err)
	}
	return run, nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

var _ Store = (*PostgresStore)(nil)
