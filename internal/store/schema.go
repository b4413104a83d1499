package store

import "fmt"

// schemaTemplate is the Postgres DDL, parameterized by embedding dimension.
// Statements are idempotent so Migrate can run on every startup.
const schemaTemplate = `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS documents (
    doc_id         TEXT PRIMARY KEY,
    source_system  TEXT NOT NULL,
    title          TEXT NOT NULL DEFAULT '',
    url            TEXT NOT NULL DEFAULT '',
    space_key      TEXT NOT NULL DEFAULT '',
    collection     TEXT NOT NULL DEFAULT '',
    created_at     TEXT NOT NULL DEFAULT '',
    updated_at     TEXT NOT NULL DEFAULT '',
    body_repr      TEXT NOT NULL DEFAULT '',
    content_sha256 TEXT NOT NULL DEFAULT '',
    fingerprint    TEXT NOT NULL DEFAULT '',
    meta           JSONB,
    loaded_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS chunks (
    chunk_id    TEXT PRIMARY KEY,
    doc_id      TEXT NOT NULL REFERENCES documents(doc_id) ON DELETE CASCADE,
    run_id      TEXT NOT NULL,
    ord         INTEGER NOT NULL,
    text_md     TEXT NOT NULL,
    char_count  INTEGER NOT NULL,
    token_count INTEGER NOT NULL,
    content_hash TEXT NOT NULL DEFAULT '',
    title       TEXT NOT NULL DEFAULT '',
    url         TEXT NOT NULL DEFAULT '',
    source_system TEXT NOT NULL DEFAULT '',
    tsv         TSVECTOR GENERATED ALWAYS AS (to_tsvector('english', text_md)) STORED,
    loaded_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS chunks_doc_idx ON chunks (doc_id, ord);
CREATE INDEX IF NOT EXISTS chunks_run_idx ON chunks (run_id);
CREATE INDEX IF NOT EXISTS chunks_tsv_idx ON chunks USING GIN (tsv);

CREATE TABLE IF NOT EXISTS chunk_embeddings (
    chunk_id   TEXT NOT NULL REFERENCES chunks(chunk_id) ON DELETE CASCADE,
    provider   TEXT NOT NULL,
    model      TEXT NOT NULL,
    dimension  INTEGER NOT NULL,
    embedding  VECTOR(%d) NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (chunk_id, provider)
);

CREATE INDEX IF NOT EXISTS chunk_embeddings_hnsw_idx
    ON chunk_embeddings USING hnsw (embedding vector_cosine_ops);

CREATE TABLE IF NOT EXISTS processed_runs (
    run_id             TEXT PRIMARY KEY,
    source             TEXT NOT NULL DEFAULT '',
    normalized_at      TIMESTAMPTZ NOT NULL,
    status             TEXT NOT NULL,
    total_docs         INTEGER NOT NULL DEFAULT 0,
    total_chunks       INTEGER,
    embedded_chunks    INTEGER,
    claimed_by         TEXT,
    claimed_at         TIMESTAMPTZ,
    chunk_started_at   TIMESTAMPTZ,
    chunk_completed_at TIMESTAMPTZ,
    embed_started_at   TIMESTAMPTZ,
    embed_completed_at TIMESTAMPTZ,
    code_version       TEXT NOT NULL DEFAULT '',
    updated_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS processed_runs_claim_idx
    ON processed_runs (status, normalized_at);
`

// Schema renders the DDL for the given embedding dimension.
func Schema(dimension int) string {
	return fmt.Sprintf(schemaTemplate, dimension)
}
