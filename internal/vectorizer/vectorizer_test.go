package vectorizer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/tranvh/contextgate/internal/observability"
	"github.com/tranvh/contextgate/internal/vectorstore"
	"github.com/tranvh/contextgate/pkg/models"
)

// failingEmbedder always errors, forcing the fallback path.
type failingEmbedder struct{}

func (failingEmbedder) Embed(context.Context, string) ([]float32, error) {
	return nil, errors.New("embedder down")
}
func (failingEmbedder) EmbedBatch(context.Context, []string) ([][]float32, error) {
	return nil, errors.New("embedder down")
}
func (failingEmbedder) Name() string   { return "failing" }
func (failingEmbedder) Dimension() int { return 8 }

func newTestVectorizer() (*Vectorizer, *vectorstore.Memory) {
	store := vectorstore.NewMemory()
	v := New(NewFallbackEmbedder(8), store, nil, Config{CacheSize: 4})
	return v, store
}

func TestVectorizeMessageIndexesAndRecordsMetadata(t *testing.T) {
	ctx := context.Background()
	v, store := newTestVectorizer()

	msg := &models.Message{
		ID:         1,
		ChatID:     "chat-1",
		Role:       models.RoleUser,
		Content:    "ask John Smith about machine learning",
		Timestamp:  time.Now(),
		Importance: 0.7,
	}
	meta, err := v.VectorizeMessage(ctx, msg)
	if err != nil {
		t.Fatalf("VectorizeMessage: %v", err)
	}

	if len(meta.Entities) != 1 || meta.Entities[0] != "John Smith" {
		t.Errorf("Entities = %v, want [John Smith]", meta.Entities)
	}
	if len(meta.Topics) != 1 || meta.Topics[0] != "machine_learning" {
		t.Errorf("Topics = %v, want [machine_learning]", meta.Topics)
	}
	if meta.Fingerprint == "" {
		t.Error("Fingerprint should be set")
	}
	if meta.CurrentImportance != 0.7 {
		t.Errorf("CurrentImportance = %v, want 0.7", meta.CurrentImportance)
	}

	if n, _ := store.Count(ctx, "chat-1"); n != 1 {
		t.Errorf("store count = %d, want 1", n)
	}
	if got := v.MetadataFor("chat-1", 1); got != meta {
		t.Error("MetadataFor should return the recorded metadata")
	}
}

func TestVectorizeMessagePreservesCounters(t *testing.T) {
	ctx := context.Background()
	v, _ := newTestVectorizer()

	msg := &models.Message{ID: 1, ChatID: "c", Content: "hello"}
	if _, err := v.VectorizeMessage(ctx, msg); err != nil {
		t.Fatal(err)
	}
	v.MarkReferenced("c", 1)
	v.SetUserMarked("c", 1, true)

	// Re-vectorizing the same message must not reset selection state.
	if _, err := v.VectorizeMessage(ctx, msg); err != nil {
		t.Fatal(err)
	}
	meta := v.MetadataFor("c", 1)
	if meta.TimesReferenced != 1 {
		t.Errorf("TimesReferenced = %d, want 1", meta.TimesReferenced)
	}
	if !meta.UserMarked {
		t.Error("UserMarked should survive re-vectorization")
	}
}

func TestVectorizeMessageFallsBackOnEmbedError(t *testing.T) {
	ctx := context.Background()
	store := vectorstore.NewMemory()
	v := New(failingEmbedder{}, store, nil, Config{})

	msg := &models.Message{ID: 1, ChatID: "c", Content: "hello"}
	if _, err := v.VectorizeMessage(ctx, msg); err != nil {
		t.Fatalf("VectorizeMessage should degrade, got %v", err)
	}
	if n, _ := store.Count(ctx, "c"); n != 1 {
		t.Error("message should still be indexed with the fallback vector")
	}
}

func TestAnalyzeQuery(t *testing.T) {
	ctx := context.Background()
	v, _ := newTestVectorizer()

	analysis, err := v.AnalyzeQuery(ctx, "What did we discuss about machine learning yesterday?")
	if err != nil {
		t.Fatalf("AnalyzeQuery: %v", err)
	}
	if analysis.Intent != IntentQuestion {
		t.Errorf("Intent = %q, want question", analysis.Intent)
	}
	if len(analysis.Topics) != 1 || analysis.Topics[0] != "machine_learning" {
		t.Errorf("Topics = %v, want [machine_learning]", analysis.Topics)
	}
	if analysis.Temporal == nil || analysis.Temporal.Phrase != "yesterday" {
		t.Errorf("Temporal = %+v, want yesterday", analysis.Temporal)
	}
	if len(analysis.Embedding) != 8 {
		t.Errorf("embedding dimension = %d, want 8", len(analysis.Embedding))
	}
}

func TestFindSimilarMessages(t *testing.T) {
	ctx := context.Background()
	v, _ := newTestVectorizer()

	msgs := []*models.Message{
		{ID: 1, ChatID: "c", Content: "I want to learn machine learning"},
		{ID: 2, ChatID: "c", Content: "What's for lunch?"},
		{ID: 3, ChatID: "other", Content: "I want to learn machine learning"},
	}
	for _, m := range msgs {
		if _, err := v.VectorizeMessage(ctx, m); err != nil {
			t.Fatal(err)
		}
	}

	analysis, _ := v.AnalyzeQuery(ctx, "I want to learn machine learning")
	matches, err := v.FindSimilarMessages(ctx, "c", analysis, 5)
	if err != nil {
		t.Fatalf("FindSimilarMessages: %v", err)
	}
	if len(matches) == 0 || len(matches) > 2 {
		t.Fatalf("len(matches) = %d, want 1 or 2 (scoped to chat)", len(matches))
	}
	if matches[0].MessageID != 1 {
		t.Errorf("top match = %d, want 1", matches[0].MessageID)
	}
	if matches[0].Score < 0.99 {
		t.Errorf("identical text score = %v, want ~1", matches[0].Score)
	}
	for _, m := range matches {
		if m.ChatID != "c" {
			t.Errorf("match from chat %q leaked past the scope filter", m.ChatID)
		}
		if m.Score < 0 || m.Score > 1 {
			t.Errorf("score %v outside [0,1]", m.Score)
		}
		if m.Metadata == nil {
			t.Error("metadata should be reattached")
		}
	}
}

func TestIndexSummaryAndKeyFact(t *testing.T) {
	ctx := context.Background()
	v, store := newTestVectorizer()

	if _, err := v.VectorizeMessage(ctx, &models.Message{ID: 1, ChatID: "c", Content: "we settled on the metric system"}); err != nil {
		t.Fatal(err)
	}

	summary := &models.Summary{
		ID:           "11111111-1111-1111-1111-111111111111",
		ChatID:       "c",
		Text:         "Earlier in this conversation (20 messages): unit preferences were settled.",
		FromID:       1,
		ToID:         20,
		MessageCount: 20,
	}
	if err := v.IndexSummary(ctx, summary); err != nil {
		t.Fatalf("IndexSummary: %v", err)
	}

	fact := &models.KeyFact{
		ID:     "22222222-2222-2222-2222-222222222222",
		ChatID: "c",
		Text:   "User prefers metric units",
		Kind:   models.FactPreference,
	}
	if err := v.IndexKeyFact(ctx, fact); err != nil {
		t.Fatalf("IndexKeyFact: %v", err)
	}

	got, err := store.Get(ctx, summary.ID)
	if err != nil {
		t.Fatalf("Get(summary): %v", err)
	}
	if got.Kind != vectorstore.KindSummary || got.RefID != summary.ID {
		t.Errorf("summary entry = kind %q ref %q, want summary/%s", got.Kind, got.RefID, summary.ID)
	}

	got, err = store.Get(ctx, fact.ID)
	if err != nil {
		t.Fatalf("Get(fact): %v", err)
	}
	if got.Kind != vectorstore.KindFact || got.RefID != fact.ID {
		t.Errorf("fact entry = kind %q ref %q, want fact/%s", got.Kind, got.RefID, fact.ID)
	}

	// Message similarity search must not surface summary or fact entries.
	analysis, _ := v.AnalyzeQuery(ctx, "we settled on the metric system")
	matches, err := v.FindSimilarMessages(ctx, "c", analysis, 10)
	if err != nil {
		t.Fatalf("FindSimilarMessages: %v", err)
	}
	if len(matches) != 1 || matches[0].MessageID != 1 {
		t.Errorf("matches = %+v, want only message 1", matches)
	}
}

func TestFindSimilarMessagesRecordsSearchDuration(t *testing.T) {
	ctx := context.Background()

	// Unregistered collector keeps the default registry clean across tests.
	hist := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "test_vector_search_duration_seconds",
			Help:    "Test vector search duration",
			Buckets: []float64{0.001, 0.01, 0.1, 1},
		},
		[]string{"backend"},
	)
	metrics := &observability.Metrics{VectorSearchDuration: hist}

	store := vectorstore.NewMemory()
	v := New(NewFallbackEmbedder(8), store, nil, Config{Metrics: metrics})

	if _, err := v.VectorizeMessage(ctx, &models.Message{ID: 1, ChatID: "c", Content: "hello"}); err != nil {
		t.Fatal(err)
	}
	analysis, _ := v.AnalyzeQuery(ctx, "hello")
	if _, err := v.FindSimilarMessages(ctx, "c", analysis, 5); err != nil {
		t.Fatal(err)
	}

	if got := testutil.CollectAndCount(hist); got != 1 {
		t.Fatalf("observed %d label combinations, want 1", got)
	}
	if got := testutil.CollectAndCount(hist.MustCurryWith(prometheus.Labels{"backend": "memory"})); got != 1 {
		t.Errorf("observation missing backend=memory label")
	}
}

func TestDeleteChat(t *testing.T) {
	ctx := context.Background()
	v, store := newTestVectorizer()

	_, _ = v.VectorizeMessage(ctx, &models.Message{ID: 1, ChatID: "c", Content: "hello"})
	if err := v.DeleteChat(ctx, "c"); err != nil {
		t.Fatalf("DeleteChat: %v", err)
	}
	if n, _ := store.Count(ctx, "c"); n != 0 {
		t.Error("vectors should be deleted")
	}
	if v.MetadataFor("c", 1) != nil {
		t.Error("metadata should be deleted")
	}
}

func TestFallbackEmbedderDeterministic(t *testing.T) {
	e := NewFallbackEmbedder(16)
	a, _ := e.Embed(context.Background(), "same text")
	b, _ := e.Embed(context.Background(), "same text")
	c, _ := e.Embed(context.Background(), "other text")

	for i := range a {
		if a[i] != b[i] {
			t.Fatal("identical texts must produce identical vectors")
		}
	}
	same := true
	for i := range a {
		if a[i] != c[i] {
			same = false
			break
		}
	}
	if same {
		t.Error("different texts should produce different vectors")
	}

	var norm float64
	for _, x := range a {
		norm += float64(x) * float64(x)
	}
	if norm < 0.99 || norm > 1.01 {
		t.Errorf("vector norm = %v, want ~1", norm)
	}
}

func TestEmbeddingCacheLRU(t *testing.T) {
	c := newEmbeddingCache(2)
	c.set("a", []float32{1})
	c.set("b", []float32{2})
	if _, ok := c.get("a"); !ok {
		t.Fatal("a should be cached")
	}
	c.set("c", []float32{3}) // evicts b, the least recently used

	if _, ok := c.get("b"); ok {
		t.Error("b should have been evicted")
	}
	if _, ok := c.get("a"); !ok {
		t.Error("a should survive")
	}
	if _, ok := c.get("c"); !ok {
		t.Error("c should survive")
	}
	if c.len() != 2 {
		t.Errorf("len = %d, want 2", c.len())
	}
}
