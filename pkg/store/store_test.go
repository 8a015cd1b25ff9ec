package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/menta2k/element-locator/pkg/types"
)

// fakeEmbedder returns fixed vectors per text so similarity scores are
// deterministic. Unknown texts map to the fallback vector.
type fakeEmbedder struct {
	vectors  map[string][]float32
	fallback []float32
}

func (f *fakeEmbedder) EmbedText(_ context.Context, text string) ([]float32, error) {
	if v, ok := f.vectors[text]; ok {
		out := make([]float32, len(v))
		copy(out, v)
		return out, nil
	}
	out := make([]float32, len(f.fallback))
	copy(out, f.fallback)
	return out, nil
}

func newTestStore(t *testing.T) (*ElementStore, *fakeEmbedder) {
	t.Helper()
	emb := &fakeEmbedder{
		vectors: map[string][]float32{
			"Submit button":       {1, 0, 0, 0},
			"Cancel button":       {0, 1, 0, 0},
			"Search field":        {0, 0, 1, 0},
			"checkout page":       {0, 0, 0, 1},
			"login page":          {0, 0.6, 0, 0.8},
			"the submit control":  {0.9, 0.1, 0, 0},
			"something unrelated": {0, 0, 0.1, 0.9},
		},
		fallback: []float32{0.5, 0.5, 0.5, 0.5},
	}
	return New(emb), emb
}

func elem(id, name string) types.StoredElement {
	return types.StoredElement{ID: id, Name: name}
}

func TestStoreAndRetrieveRanksBySimilarity(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Store(ctx, elem("submit", "Submit button")))
	require.NoError(t, s.Store(ctx, elem("cancel", "Cancel button")))
	require.NoError(t, s.Store(ctx, elem("search", "Search field")))

	got, err := s.Retrieve(ctx, "the submit control", 5, 0.0)
	require.NoError(t, err)
	require.NotEmpty(t, got)

	assert.Equal(t, "submit", got[0].Element.ID)
	for i := 1; i < len(got); i++ {
		assert.LessOrEqual(t, got[i].Score, got[i-1].Score)
	}
	assert.InDelta(t, 0.99, got[0].Score, 0.02)
	assert.Nil(t, got[0].ContextRelevance)
}

func TestRetrieveAppliesScoreFloor(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Store(ctx, elem("submit", "Submit button")))
	require.NoError(t, s.Store(ctx, elem("cancel", "Cancel button")))

	got, err := s.Retrieve(ctx, "the submit control", 5, 0.5)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "submit", got[0].Element.ID)
}

func TestRetrieveWithContextScoresRelevanceIndependently(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	onCheckout := elem("submit", "Submit button")
	onCheckout.ContextSummary = "checkout page"
	require.NoError(t, s.Store(ctx, onCheckout))

	noContext := elem("cancel", "Cancel button")
	require.NoError(t, s.Store(ctx, noContext))

	got, err := s.RetrieveWithContext(ctx, "the submit control", "checkout page", 5, 0.0)
	require.NoError(t, err)
	require.NotEmpty(t, got)

	require.Equal(t, "submit", got[0].Element.ID)
	require.NotNil(t, got[0].ContextRelevance)
	assert.InDelta(t, 1.0, *got[0].ContextRelevance, 0.01)

	for _, c := range got {
		if c.Element.ID == "cancel" {
			assert.Nil(t, c.ContextRelevance)
		}
	}
}

func TestRetrieveEmptyStore(t *testing.T) {
	s, _ := newTestStore(t)
	got, err := s.Retrieve(context.Background(), "anything", 5, 0.0)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestStoreRejectsDuplicateID(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Store(ctx, elem("submit", "Submit button")))
	err := s.Store(ctx, elem("submit", "Submit button"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")
}

func TestUpdateReembedsElement(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Store(ctx, elem("btn", "Cancel button")))

	updated := elem("btn", "Submit button")
	require.NoError(t, s.Update(ctx, updated))

	got, err := s.Retrieve(ctx, "the submit control", 5, 0.5)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "btn", got[0].Element.ID)
	assert.Equal(t, "Submit button", got[0].Element.Name)
}

func TestUpdateUnknownElement(t *testing.T) {
	s, _ := newTestStore(t)
	err := s.Update(context.Background(), elem("ghost", "Submit button"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestRemove(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Store(ctx, elem("submit", "Submit button")))
	require.Equal(t, 1, s.Len())

	require.NoError(t, s.Remove(ctx, "submit"))
	assert.Equal(t, 0, s.Len())

	_, ok := s.Get("submit")
	assert.False(t, ok)

	require.Error(t, s.Remove(ctx, "submit"))
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	withCtx := elem("submit", "Submit button")
	withCtx.ContextSummary = "checkout page"
	withCtx.DataAttributes = []string{"test-id"}
	require.NoError(t, s.Store(ctx, withCtx))
	require.NoError(t, s.Store(ctx, elem("cancel", "Cancel button")))

	path := filepath.Join(t.TempDir(), "elements.json")
	require.NoError(t, s.Save(path))

	// Loading must not re-embed, so the second store gets an embedder
	// with no known vectors.
	loaded := New(&fakeEmbedder{
		vectors:  map[string][]float32{"the submit control": {0.9, 0.1, 0, 0}},
		fallback: []float32{0.5, 0.5, 0.5, 0.5},
	})
	require.NoError(t, loaded.Load(ctx, path))
	assert.Equal(t, 2, loaded.Len())

	got, err := loaded.Retrieve(ctx, "the submit control", 5, 0.5)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "submit", got[0].Element.ID)
	assert.Equal(t, []string{"test-id"}, got[0].Element.DataAttributes)
}
