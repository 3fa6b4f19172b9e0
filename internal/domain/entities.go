package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// CachedPage is one scraped source page as stored in the content store.
type CachedPage struct {
	SourceID    string    `json:"source_id"`
	RawHTML     string    `json:"raw_html"`
	ContentHash string    `json:"content_hash"`
	FetchedAt   time.Time `json:"fetched_at"`
}

// HashContent returns the hex-encoded SHA-256 digest of raw page content.
func HashContent(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// TeaRecord is one catalog entry, the unit of retrieval.
type TeaRecord struct {
	ID          string    `json:"id"`
	URL         string    `json:"url"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Series      string    `json:"series,omitempty"`
	Price       string    `json:"price,omitempty"`
	Composition []string  `json:"composition,omitempty"`
	Tags        []string  `json:"tags,omitempty"`
	Images      []string  `json:"images,omitempty"`
	IsSample    bool      `json:"is_sample"`
	IsSet       bool      `json:"is_set"`
	InStock     bool      `json:"in_stock"`
	SampleURL   string    `json:"sample_url,omitempty"`
	SourceHash  string    `json:"source_hash"`
	Embedding   []float32 `json:"embedding,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// EmbeddingText builds the text fed to the embedding model.
func (t TeaRecord) EmbeddingText() string {
	var parts []string
	if t.Name != "" {
		parts = append(parts, "Name: "+t.Name)
	}
	if t.Description != "" {
		parts = append(parts, "Description: "+t.Description)
	}
	if len(t.Composition) > 0 {
		parts = append(parts, "Composition: "+strings.Join(t.Composition, ", "))
	}
	if t.Series != "" {
		parts = append(parts, "Series: "+t.Series)
	}
	if len(t.Tags) > 0 {
		parts = append(parts, "Tags: "+strings.Join(t.Tags, ", "))
	}
	return strings.Join(parts, "\n")
}

// Filter is the deterministic predicate extracted from a query.
// The zero value matches every record.
type Filter struct {
	Series         string `json:"series,omitempty"`
	ExcludeSamples bool   `json:"exclude_samples,omitempty"`
	ExcludeSets    bool   `json:"exclude_sets,omitempty"`
	RequireInStock bool   `json:"require_in_stock,omitempty"`
}

// IsZero reports whether the filter constrains nothing.
func (f Filter) IsZero() bool {
	return f == Filter{}
}

// Matches reports whether the record satisfies every constraint of the filter.
func (f Filter) Matches(t TeaRecord) bool {
	if f.ExcludeSamples && t.IsSample {
		return false
	}
	if f.ExcludeSets && t.IsSet {
		return false
	}
	if f.RequireInStock && !t.InStock {
		return false
	}
	if f.Series != "" && !SameSeries(f.Series, t.Series) {
		return false
	}
	return true
}

// SameSeries compares series labels ignoring case and surrounding space.
func SameSeries(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

// QueryIntent is the structured intent extracted from free text.
type QueryIntent struct {
	UserText       string `json:"user_text"`
	SearchPhrase   string `json:"search_phrase"`
	RequestedCount int    `json:"requested_count"`
	Filter         Filter `json:"filter"`
}

// Candidate is one entry of a candidate pool.
type Candidate struct {
	Tea   TeaRecord
	Score float64
}

// Recommendation is one item of the final result.
type Recommendation struct {
	Tea           TeaRecord `json:"tea"`
	Rank          int       `json:"rank"`
	Score         float64   `json:"score"`
	Description   string    `json:"description"`
	Tags          []string  `json:"tags,omitempty"`
	SampleInStock bool      `json:"sample_in_stock"`
}

// SearchResult is what the recommend pipeline returns to its caller.
type SearchResult struct {
	Answer          string           `json:"answer,omitempty"`
	Intent          QueryIntent      `json:"intent"`
	Recommendations []Recommendation `json:"recommendations"`
	CandidateCount  int              `json:"candidate_count"`
	Shortfall       bool             `json:"shortfall"`
}

// SyncFailure records why one page could not be synced.
type SyncFailure struct {
	SourceID string `json:"source_id"`
	Reason   string `json:"reason"`
}

// SyncReport tallies the outcome of a sync run.
type SyncReport struct {
	Created  int           `json:"created"`
	Updated  int           `json:"updated"`
	Skipped  int           `json:"skipped"`
	Failed   int           `json:"failed"`
	Pruned   int           `json:"pruned"`
	Linked   int           `json:"linked"`
	Relinked int           `json:"relinked"`
	Forced   string        `json:"forced,omitempty"`
	Failures []SyncFailure `json:"failures,omitempty"`
}

// IndexStats summarizes the vector index.
type IndexStats struct {
	Total          int      `json:"total"`
	InStock        int      `json:"in_stock"`
	OutOfStock     int      `json:"out_of_stock"`
	Samples        int      `json:"samples"`
	Sets           int      `json:"sets"`
	Series         []string `json:"series"`
	Dimension      int      `json:"dimension"`
	EmbeddingModel string   `json:"embedding_model,omitempty"`
}

// ContentStats summarizes the content store.
type ContentStats struct {
	Pages      int       `json:"pages"`
	TotalBytes int64     `json:"total_bytes"`
	Oldest     time.Time `json:"oldest,omitempty"`
	Newest     time.Time `json:"newest,omitempty"`
}

// SchemaCheck compares the embedding schema an index was built with against
// the configured one.
type SchemaCheck struct {
	StoredModel     string
	StoredDimension int
	Reembed         bool // every record must be embedded again
	Reset           bool // the index must be emptied first
	Reason          string
}
