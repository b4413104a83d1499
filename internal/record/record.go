// Package record defines the shared record shapes that flow between pipeline
// phases as NDJSON artifacts and relational rows.
package record

import "time"

// SourceSystem identifies where a document originated.
type SourceSystem string

const (
	SourceConfluence SourceSystem = "confluence"
	SourceDITA       SourceSystem = "dita"
)

// BodyRepr identifies the original body representation of a document.
type BodyRepr string

const (
	BodyStorage BodyRepr = "storage"
	BodyADF     BodyRepr = "adf"
	BodyDITA    BodyRepr = "dita"
)

// Normalized is one line of normalize/normalized.ndjson: a source document
// converted to Markdown with stable identity and content hash.
type Normalized struct {
	ID            string       `json:"id"`
	Title         string       `json:"title"`
	SpaceKey      string       `json:"spaceKey,omitempty"`
	URL           string       `json:"url"`
	CreatedAt     string       `json:"createdAt"`
	UpdatedAt     string       `json:"updatedAt"`
	BodyRepr      BodyRepr     `json:"bodyRepr"`
	TextMD        string       `json:"textMd"`
	Links         []string     `json:"links"`
	Attachments   []string     `json:"attachments"`
	SourceSystem  SourceSystem `json:"sourceSystem"`
	Labels        []string     `json:"labels"`
	ContentSHA256 string       `json:"contentSha256"`
	Breadcrumbs   []string     `json:"breadcrumbs,omitempty"`
	Collection    string       `json:"collection,omitempty"`
	PathTags      []string     `json:"pathTags,omitempty"`
	Meta          map[string]any `json:"meta,omitempty"`
}

// Readability holds the zero-guarded text statistics computed by the enricher.
type Readability struct {
	CharsPerWord      float64 `json:"charsPerWord"`
	WordsPerParagraph float64 `json:"wordsPerParagraph"`
	HeadingRatio      float64 `json:"headingRatio"`
}

// Quality flag values emitted by the enricher.
const (
	FlagEmptyBody   = "empty_body"
	FlagTooShort    = "too_short"
	FlagTooLong     = "too_long"
	FlagImageOnly   = "image_only"
	FlagNoStructure = "no_structure"
	FlagBrokenLinks = "broken_links"
)

// Enriched is one line of enrich/enriched.jsonl: a normalized record plus the
// deterministic rule-based overlay and the optional LLM overlay.
type Enriched struct {
	Normalized

	Collection   string      `json:"collection"`
	PathTags     []string    `json:"pathTags"`
	Readability  Readability `json:"readability"`
	MediaDensity float64     `json:"mediaDensity"`
	LinkDensity  float64     `json:"linkDensity"`
	QualityFlags []string    `json:"qualityFlags"`
	QualityScore float64     `json:"qualityScore"`

	// LLM overlay, present only when enrichment ran with the LLM enabled.
	LLMSummary  string   `json:"llmSummary,omitempty"`
	LLMKeywords []string `json:"llmKeywords,omitempty"`
}

// Fingerprint is one line of enrich/fingerprints.jsonl.
type Fingerprint struct {
	ID                string `json:"id"`
	EnrichmentVersion string `json:"enrichmentVersion"`
	FingerprintSHA256 string `json:"fingerprintSha256"`
}

// SuggestedEdge is one line of enrich/suggested_edges.jsonl: a heuristic
// relation between two documents.
type SuggestedEdge struct {
	FromID     string  `json:"fromId"`
	ToID       string  `json:"toId"`
	Type       string  `json:"type"`
	Confidence float64 `json:"confidence"`
}

// Traceability carries display metadata on every chunk so retrieval results
// can be rendered without a document join.
type Traceability struct {
	Title        string       `json:"title"`
	URL          string       `json:"url"`
	SourceSystem SourceSystem `json:"sourceSystem"`
}

// Chunk is one line of chunk/chunks.ndjson.
type Chunk struct {
	ChunkID      string       `json:"chunkId"`
	DocID        string       `json:"docId"`
	Ord          int          `json:"ord"`
	TextMD       string       `json:"textMd"`
	CharCount    int          `json:"charCount"`
	TokenCount   int          `json:"tokenCount"`
	ContentHash  string       `json:"contentHash,omitempty"`
	Traceability Traceability `json:"traceability"`
}

// Tokenizer identifies the token counting scheme recorded in the manifest.
type Tokenizer struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ChunkConfig is the chunker configuration recorded in the manifest.
type ChunkConfig struct {
	MaxTokens      int     `json:"maxTokens"`
	MinTokens      int     `json:"minTokens"`
	PreferHeadings bool    `json:"preferHeadings"`
	OverlapPct     float64 `json:"overlapPct"`
}

// DocFingerprint pairs a document with its enrichment fingerprint inside the
// manifest.
type DocFingerprint struct {
	DocID             string `json:"docId"`
	FingerprintSHA256 string `json:"fingerprintSha256"`
}

// Manifest is embed/manifest.json: the record of exactly what was embedded.
type Manifest struct {
	RunID           string           `json:"runId"`
	Timestamp       string           `json:"timestamp"`
	GitCommit       string           `json:"gitCommit,omitempty"`
	Provider        string           `json:"provider"`
	Model           string           `json:"model"`
	Dimension       int              `json:"dimension"`
	Tokenizer       Tokenizer        `json:"tokenizer"`
	EnricherVersion string           `json:"enricherVersion"`
	ChunkerVersion  string           `json:"chunkerVersion"`
	ChunkConfig     ChunkConfig      `json:"chunkConfig"`
	DocFingerprints []DocFingerprint `json:"docFingerprints"`
	ChunkSetHash    string           `json:"chunkSetHash"`
	ChunksEmbedded  int              `json:"chunksEmbedded"`
	TotalChunks     int              `json:"totalChunks"`
}

// RunStatus is the lifecycle state of a processed_runs row.
type RunStatus string

const (
	StatusNormalized RunStatus = "normalized"
	StatusReset      RunStatus = "reset"
	StatusChunking   RunStatus = "chunking"
	StatusChunked    RunStatus = "chunked"
	StatusEmbedding  RunStatus = "embedding"
	StatusEmbedded   RunStatus = "embedded"
)

// ProcessedRun is a coordination row in processed_runs.
type ProcessedRun struct {
	RunID            string
	Source           string
	NormalizedAt     time.Time
	Status           RunStatus
	TotalDocs        int
	TotalChunks      *int
	EmbeddedChunks   *int
	ClaimedBy        *string
	ClaimedAt        *time.Time
	ChunkStartedAt   *time.Time
	ChunkCompletedAt *time.Time
	EmbedStartedAt   *time.Time
	EmbedCompletedAt *time.Time
	CodeVersion      string
	UpdatedAt        time.Time
}

// Document is a row of the documents table.
type Document struct {
	DocID         string
	SourceSystem  SourceSystem
	Title         string
	URL           string
	SpaceKey      string
	Collection    string
	CreatedAt     string
	UpdatedAt     string
	BodyRepr      BodyRepr
	ContentSHA256 string
	Fingerprint   string
	Meta          map[string]any
}

// Hit is a single retrieval result.
type Hit struct {
	ChunkID      string       `json:"chunkId"`
	DocID        string       `json:"docId"`
	Title        string       `json:"title"`
	URL          string       `json:"url"`
	SourceSystem SourceSystem `json:"sourceSystem"`
	TextMD       string       `json:"textMd"`
	Score        float64      `json:"score"`
	BoostApplied float64      `json:"boostApplied,omitempty"`
	DenseRank    int          `json:"denseRank,omitempty"`
	BM25Rank     int          `json:"bm25Rank,omitempty"`
	RRFScore     float64      `json:"rrfScore,omitempty"`
}

// ScoreStats summarizes hit scores in a retrieval response.
type ScoreStats struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
	Avg float64 `json:"avg"`
}

// RetrievalSummary is the summary block of a retrieval response.
type RetrievalSummary struct {
	UniqueDocuments int        `json:"uniqueDocuments"`
	TotalCharacters int        `json:"totalCharacters"`
	ScoreStats      ScoreStats `json:"scoreStats"`
	TimingMS        int64      `json:"timing"`
}
