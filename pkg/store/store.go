// Package store implements the element similarity store: persisted
// element records retrievable by natural-language description, ranked by
// embedding similarity through a vecgo vector index.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/hupe1980/vecgo"

	"github.com/menta2k/element-locator/pkg/client"
	"github.com/menta2k/element-locator/pkg/types"
)

// Embedder turns text into a vector for similarity ranking.
type Embedder interface {
	EmbedText(ctx context.Context, text string) ([]float32, error)
}

// ModelEmbedder binds an EmbeddingClient to a fixed model name.
type ModelEmbedder struct {
	Client client.EmbeddingClient
	Model  string
}

// EmbedText embeds the text with the configured model.
func (m ModelEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	return m.Client.EmbedText(ctx, m.Model, text)
}

// record is one stored element with its embeddings.
type record struct {
	Element       types.StoredElement `json:"element"`
	Vector        []float32           `json:"vector"`
	ContextVector []float32           `json:"context_vector,omitempty"`

	rowID uint64
}

// ElementStore persists element records and retrieves ranked candidates
// for a text query. Name-similarity ranking goes through a vecgo cosine
// index; page-context relevance is an independent cosine score against
// the element's context summary embedding.
type ElementStore struct {
	mu       sync.RWMutex
	embedder Embedder
	db       *vecgo.Vecgo[string] // payload is the element ID
	dim      int
	byID     map[string]*record
}

// New creates an empty store backed by the given embedder.
func New(embedder Embedder) *ElementStore {
	return &ElementStore{
		embedder: embedder,
		byID:     make(map[string]*record),
	}
}

// ensureDB lazily builds the vector index once the embedding dimension
// is known.
func (s *ElementStore) ensureDB(dim int) error {
	if s.db != nil {
		if dim != s.dim {
			return fmt.Errorf("store: embedding dimension changed from %d to %d", s.dim, dim)
		}
		return nil
	}
	db, err := vecgo.Flat[string](dim).Cosine().Build()
	if err != nil {
		return fmt.Errorf("store: build index: %w", err)
	}
	s.db = db
	s.dim = dim
	return nil
}

// embedElement computes the description and context embeddings for an
// element.
func (s *ElementStore) embedElement(ctx context.Context, e types.StoredElement) (vec, ctxVec []float32, err error) {
	text := e.Name
	if e.Description != "" {
		text += " " + e.Description
	}
	if e.AnchorDescription != "" {
		text += " " + e.AnchorDescription
	}
	vec, err = s.embedder.EmbedText(ctx, text)
	if err != nil {
		return nil, nil, fmt.Errorf("store: embed element %q: %w", e.ID, err)
	}
	normalize(vec)

	if e.ContextSummary != "" {
		ctxVec, err = s.embedder.EmbedText(ctx, e.ContextSummary)
		if err != nil {
			return nil, nil, fmt.Errorf("store: embed context of %q: %w", e.ID, err)
		}
		normalize(ctxVec)
	}
	return vec, ctxVec, nil
}

// Store inserts a new element record. The element ID must be unique.
func (s *ElementStore) Store(ctx context.Context, e types.StoredElement) error {
	if e.ID == "" {
		return fmt.Errorf("store: element ID is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byID[e.ID]; exists {
		return fmt.Errorf("store: element %q already exists", e.ID)
	}

	vec, ctxVec, err := s.embedElement(ctx, e)
	if err != nil {
		return err
	}
	if err := s.ensureDB(len(vec)); err != nil {
		return err
	}

	rowID, err := s.db.Insert(ctx, vecgo.VectorWithData[string]{Vector: vec, Data: e.ID})
	if err != nil {
		return fmt.Errorf("store: insert %q: %w", e.ID, err)
	}

	s.byID[e.ID] = &record{Element: e, Vector: vec, ContextVector: ctxVec, rowID: rowID}
	return nil
}

// Update replaces an existing element record and re-embeds it.
func (s *ElementStore) Update(ctx context.Context, e types.StoredElement) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, exists := s.byID[e.ID]
	if !exists {
		return fmt.Errorf("store: element %q not found", e.ID)
	}

	vec, ctxVec, err := s.embedElement(ctx, e)
	if err != nil {
		return err
	}

	if err := s.db.Update(ctx, rec.rowID, vecgo.VectorWithData[string]{Vector: vec, Data: e.ID}); err != nil {
		return fmt.Errorf("store: update %q: %w", e.ID, err)
	}

	rec.Element = e
	rec.Vector = vec
	rec.ContextVector = ctxVec
	return nil
}

// Remove deletes an element record.
func (s *ElementStore) Remove(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, exists := s.byID[id]
	if !exists {
		return fmt.Errorf("store: element %q not found", id)
	}
	if err := s.db.Delete(ctx, rec.rowID); err != nil {
		return fmt.Errorf("store: delete %q: %w", id, err)
	}
	delete(s.byID, id)
	return nil
}

// Get returns the element with the given ID.
func (s *ElementStore) Get(id string) (types.StoredElement, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.byID[id]
	if !ok {
		return types.StoredElement{}, false
	}
	return rec.Element, true
}

// Len returns the number of stored elements.
func (s *ElementStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

// Retrieve returns up to topN candidates for the query whose similarity
// score is at least minScore, best first.
func (s *ElementStore) Retrieve(ctx context.Context, query string, topN int, minScore float64) ([]types.RetrievedCandidate, error) {
	return s.retrieve(ctx, query, "", topN, minScore)
}

// RetrieveWithContext additionally scores every candidate's relevance to
// a page/context description, independent of the primary ranking.
func (s *ElementStore) RetrieveWithContext(ctx context.Context, query, contextText string, topN int, minScore float64) ([]types.RetrievedCandidate, error) {
	return s.retrieve(ctx, query, contextText, topN, minScore)
}

func (s *ElementStore) retrieve(ctx context.Context, query, contextText string, topN int, minScore float64) ([]types.RetrievedCandidate, error) {
	if topN <= 0 {
		topN = 5
	}

	s.mu.RLock()
	empty := len(s.byID) == 0
	s.mu.RUnlock()
	if empty {
		return nil, nil
	}

	queryVec, err := s.embedder.EmbedText(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("store: embed query: %w", err)
	}
	normalize(queryVec)

	var ctxVec []float32
	if contextText != "" {
		ctxVec, err = s.embedder.EmbedText(ctx, contextText)
		if err != nil {
			return nil, fmt.Errorf("store: embed context: %w", err)
		}
		normalize(ctxVec)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	results, err := s.db.KNNSearch(ctx, queryVec, topN)
	if err != nil {
		return nil, fmt.Errorf("store: search: %w", err)
	}

	out := make([]types.RetrievedCandidate, 0, len(results))
	for _, r := range results {
		rec, ok := s.byID[r.Data]
		if !ok {
			continue
		}

		// Score from the stored vectors directly; index distance
		// semantics stay an implementation detail of vecgo.
		score := clampScore(dot(queryVec, rec.Vector))
		if score < minScore {
			continue
		}

		cand := types.RetrievedCandidate{Element: rec.Element, Score: score}
		if ctxVec != nil && rec.ContextVector != nil {
			rel := clampScore(dot(ctxVec, rec.ContextVector))
			cand.ContextRelevance = &rel
		}
		out = append(out, cand)
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out, nil
}

// snapshot is the on-disk form of the store.
type snapshot struct {
	Records []record `json:"records"`
}

// Save writes all records, including their embeddings, to a JSON file.
func (s *ElementStore) Save(path string) error {
	s.mu.RLock()
	snap := snapshot{Records: make([]record, 0, len(s.byID))}
	for _, rec := range s.byID {
		snap.Records = append(snap.Records, *rec)
	}
	s.mu.RUnlock()

	sort.Slice(snap.Records, func(i, j int) bool {
		return snap.Records[i].Element.ID < snap.Records[j].Element.ID
	})

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("store: marshal snapshot: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("store: create snapshot directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("store: write snapshot: %w", err)
	}
	return os.Rename(tmp, path)
}

// Load replaces the store contents with the records in a snapshot file.
// Stored embeddings are reused; nothing is re-embedded.
func (s *ElementStore) Load(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("store: read snapshot: %w", err)
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("store: parse snapshot: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.db = nil
	s.dim = 0
	s.byID = make(map[string]*record, len(snap.Records))

	for i := range snap.Records {
		rec := snap.Records[i]
		if err := s.ensureDB(len(rec.Vector)); err != nil {
			return err
		}
		rowID, err := s.db.Insert(ctx, vecgo.VectorWithData[string]{Vector: rec.Vector, Data: rec.Element.ID})
		if err != nil {
			return fmt.Errorf("store: reinsert %q: %w", rec.Element.ID, err)
		}
		rec.rowID = rowID
		s.byID[rec.Element.ID] = &rec
	}
	return nil
}

func normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	n := math.Sqrt(sum)
	if n == 0 {
		return
	}
	for i := range v {
		v[i] = float32(float64(v[i]) / n)
	}
}

func dot(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

func clampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
