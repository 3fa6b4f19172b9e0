// Package qdrant is a minimal REST client implementing port.VectorIndex on a
// Qdrant collection with cosine distance.
package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"chai/internal/domain"
)

const scrollPage = 256

// Index stores one point per tea. The full record travels in the tea_data
// payload field; in_stock, is_sample, is_set and series_key are duplicated as
// top-level payload fields so filters can be pushed down.
type Index struct {
	url        string
	apiKey     string
	collection string
	dimension  int
	client     *http.Client
}

type Config struct {
	URL        string
	APIKey     string
	Collection string
	Dimension  int
	Timeout    time.Duration
	HTTPClient *http.Client
}

func NewIndex(cfg Config) *Index {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	return &Index{
		url:        strings.TrimRight(cfg.URL, "/"),
		apiKey:     cfg.APIKey,
		collection: cfg.Collection,
		dimension:  cfg.Dimension,
		client:     client,
	}
}

// Init creates the collection if it does not exist yet.
func (s *Index) Init(ctx context.Context) error {
	status, err := s.do(ctx, http.MethodGet, s.collectionURL(), nil, nil)
	if err == nil {
		return nil
	}
	if status != http.StatusNotFound {
		return &domain.IndexError{Op: "init", Err: err}
	}
	if err := s.createCollection(ctx); err != nil {
		return &domain.IndexError{Op: "init", Err: err}
	}
	zap.L().Info("qdrant: created collection", zap.String("collection", s.collection), zap.Int("dimension", s.dimension))
	return nil
}

func (s *Index) createCollection(ctx context.Context) error {
	if s.dimension <= 0 {
		return eris.Errorf("invalid dimension %d", s.dimension)
	}
	body := map[string]any{
		"vectors": map[string]any{
			"size":     s.dimension,
			"distance": "Cosine",
		},
	}
	if _, err := s.do(ctx, http.MethodPut, s.collectionURL(), body, nil); err != nil {
		return err
	}
	for _, field := range []string{"in_stock", "is_sample", "is_set"} {
		if err := s.createFieldIndex(ctx, field, "bool"); err != nil {
			return err
		}
	}
	return s.createFieldIndex(ctx, "series_key", "keyword")
}

func (s *Index) createFieldIndex(ctx context.Context, field, schema string) error {
	body := map[string]any{"field_name": field, "field_schema": schema}
	_, err := s.do(ctx, http.MethodPut, s.collectionURL()+"/index?wait=true", body, nil)
	return err
}

type point struct {
	ID      string         `json:"id"`
	Vector  []float32      `json:"vector,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
}

func seriesKey(series string) string {
	return strings.ToLower(strings.TrimSpace(series))
}

func toPoint(rec domain.TeaRecord) (point, error) {
	vector := rec.Embedding
	rec.Embedding = nil
	data, err := json.Marshal(rec)
	if err != nil {
		return point{}, eris.Wrap(err, "encode record")
	}
	return point{
		ID:     rec.ID,
		Vector: vector,
		Payload: map[string]any{
			"tea_data":   string(data),
			"url":        rec.URL,
			"in_stock":   rec.InStock,
			"is_sample":  rec.IsSample,
			"is_set":     rec.IsSet,
			"series_key": seriesKey(rec.Series),
		},
	}, nil
}

func fromPayload(payload map[string]any, vector []float32) (domain.TeaRecord, error) {
	var rec domain.TeaRecord
	raw, ok := payload["tea_data"].(string)
	if !ok {
		return rec, eris.New("tea_data field not found or not a string in payload")
	}
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return rec, eris.Wrap(err, "decode tea_data")
	}
	rec.Embedding = vector
	return rec, nil
}

// Upsert writes one point and waits for it to be applied.
func (s *Index) Upsert(ctx context.Context, rec domain.TeaRecord) error {
	if rec.ID == "" {
		return &domain.IndexError{Op: "upsert", Err: eris.New("record has no id")}
	}
	if len(rec.Embedding) != s.dimension {
		return &domain.IndexError{Op: "upsert", Err: eris.Errorf("vector dimension mismatch: expected %d, got %d", s.dimension, len(rec.Embedding))}
	}
	p, err := toPoint(rec)
	if err != nil {
		return &domain.IndexError{Op: "upsert", Err: err}
	}
	body := map[string]any{"points": []point{p}}
	if _, err := s.do(ctx, http.MethodPut, s.collectionURL()+"/points?wait=true", body, nil); err != nil {
		return &domain.IndexError{Op: "upsert", Err: err}
	}
	return nil
}

func (s *Index) Get(ctx context.Context, id string) (domain.TeaRecord, error) {
	var resp struct {
		Result struct {
			Payload map[string]any `json:"payload"`
			Vector  []float32      `json:"vector"`
		} `json:"result"`
	}
	status, err := s.do(ctx, http.MethodGet, s.collectionURL()+"/points/"+id, nil, &resp)
	if status == http.StatusNotFound {
		return domain.TeaRecord{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.TeaRecord{}, &domain.IndexError{Op: "get", Err: err}
	}
	rec, err := fromPayload(resp.Result.Payload, resp.Result.Vector)
	if err != nil {
		return domain.TeaRecord{}, &domain.IndexError{Op: "get", Err: err}
	}
	return rec, nil
}

// buildFilter translates a domain filter to Qdrant must/must_not conditions.
// It returns nil when the filter constrains nothing.
func buildFilter(f *domain.Filter) map[string]any {
	if f == nil || f.IsZero() {
		return nil
	}
	match := func(key string, value any) map[string]any {
		return map[string]any{"key": key, "match": map[string]any{"value": value}}
	}
	var must, mustNot []map[string]any
	if f.ExcludeSamples {
		mustNot = append(mustNot, match("is_sample", true))
	}
	if f.ExcludeSets {
		mustNot = append(mustNot, match("is_set", true))
	}
	if f.RequireInStock {
		must = append(must, match("in_stock", true))
	}
	if f.Series != "" {
		must = append(must, match("series_key", seriesKey(f.Series)))
	}
	out := map[string]any{}
	if len(must) > 0 {
		out["must"] = must
	}
	if len(mustNot) > 0 {
		out["must_not"] = mustNot
	}
	return out
}

func (s *Index) QueryNearest(ctx context.Context, vector []float32, k int, filter *domain.Filter) ([]domain.Candidate, error) {
	if len(vector) != s.dimension {
		return nil, &domain.IndexError{Op: "query", Err: eris.Errorf("query dimension mismatch: expected %d, got %d", s.dimension, len(vector))}
	}
	if k <= 0 {
		return nil, nil
	}
	req := map[string]any{
		"vector":       vector,
		"limit":        k,
		"with_payload": true,
		"with_vector":  true,
	}
	if f := buildFilter(filter); f != nil {
		req["filter"] = f
	}

	var resp struct {
		Result []struct {
			Score   float64        `json:"score"`
			Payload map[string]any `json:"payload"`
			Vector  []float32      `json:"vector"`
		} `json:"result"`
	}
	if _, err := s.do(ctx, http.MethodPost, s.collectionURL()+"/points/search", req, &resp); err != nil {
		return nil, &domain.IndexError{Op: "query", Err: err}
	}

	out := make([]domain.Candidate, 0, len(resp.Result))
	for _, r := range resp.Result {
		rec, err := fromPayload(r.Payload, r.Vector)
		if err != nil {
			zap.L().Warn("qdrant: skipping point with bad payload", zap.Error(err))
			continue
		}
		out = append(out, domain.Candidate{Tea: rec, Score: r.Score})
	}
	domain.SortCandidates(out)
	return out, nil
}

func (s *Index) SupportsPushdown() bool {
	return true
}

func (s *Index) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	body := map[string]any{"points": ids}
	if _, err := s.do(ctx, http.MethodPost, s.collectionURL()+"/points/delete?wait=true", body, nil); err != nil {
		return &domain.IndexError{Op: "delete", Err: err}
	}
	return nil
}

// scroll pages through every point, handing each record to fn.
func (s *Index) scroll(ctx context.Context, withPayload bool, fn func(id string, payload map[string]any) error) error {
	var offset any
	for {
		req := map[string]any{
			"limit":        scrollPage,
			"with_payload": withPayload,
			"with_vector":  false,
		}
		if offset != nil {
			req["offset"] = offset
		}
		var resp struct {
			Result struct {
				Points []struct {
					ID      any            `json:"id"`
					Payload map[string]any `json:"payload"`
				} `json:"points"`
				NextPageOffset any `json:"next_page_offset"`
			} `json:"result"`
		}
		if _, err := s.do(ctx, http.MethodPost, s.collectionURL()+"/points/scroll", req, &resp); err != nil {
			return err
		}
		for _, p := range resp.Result.Points {
			if err := fn(fmt.Sprint(p.ID), p.Payload); err != nil {
				return err
			}
		}
		if resp.Result.NextPageOffset == nil {
			return nil
		}
		offset = resp.Result.NextPageOffset
	}
}

func (s *Index) IDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.scroll(ctx, false, func(id string, _ map[string]any) error {
		ids = append(ids, id)
		return nil
	})
	if err != nil {
		return nil, &domain.IndexError{Op: "ids", Err: err}
	}
	return ids, nil
}

func (s *Index) Stats(ctx context.Context) (domain.IndexStats, error) {
	var recs []domain.TeaRecord
	err := s.scroll(ctx, true, func(id string, payload map[string]any) error {
		rec, err := fromPayload(payload, nil)
		if err != nil {
			zap.L().Warn("qdrant: skipping point with bad payload", zap.String("id", id), zap.Error(err))
			return nil
		}
		recs = append(recs, rec)
		return nil
	})
	if err != nil {
		return domain.IndexStats{}, &domain.IndexError{Op: "stats", Err: err}
	}
	stats := domain.SummarizeRecords(recs)
	stats.Dimension = s.dimension
	return stats, nil
}

// Reset drops and recreates the collection.
func (s *Index) Reset(ctx context.Context, dimension int) error {
	status, err := s.do(ctx, http.MethodDelete, s.collectionURL(), nil, nil)
	if err != nil && status != http.StatusNotFound {
		return &domain.IndexError{Op: "reset", Err: err}
	}
	s.dimension = dimension
	if err := s.createCollection(ctx); err != nil {
		return &domain.IndexError{Op: "reset", Err: err}
	}
	return nil
}

func (s *Index) collectionURL() string {
	return fmt.Sprintf("%s/collections/%s", s.url, s.collection)
}

// do sends a JSON request and decodes a JSON response into out when given.
// The HTTP status is returned even on failure so callers can detect 404.
func (s *Index) do(ctx context.Context, method, url string, body, out any) (int, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, eris.Wrap(err, "qdrant: marshal request")
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return 0, eris.Wrap(err, "qdrant: create request")
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("api-key", s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, eris.Wrapf(err, "qdrant %s %s", method, url)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return resp.StatusCode, eris.Errorf("qdrant %s %s failed: %s %s", method, url, resp.Status, strings.TrimSpace(string(msg)))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, eris.Wrap(err, "qdrant: decode response")
		}
	}
	return resp.StatusCode, nil
}
