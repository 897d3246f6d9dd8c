package knowledge

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"marketing-rag/internal/chunker"
	"marketing-rag/internal/docstore"
	"marketing-rag/internal/domain"
	"marketing-rag/internal/embedding/tfidf"
	"marketing-rag/internal/outputs"
	"marketing-rag/internal/vectorindex"
	"marketing-rag/internal/vectorindex/memory"
)

type stubGenerator struct {
	reply       string
	err         error
	calls       int
	lastPrompt  string
	lastContext []string
}

func (g *stubGenerator) Generate(_ context.Context, prompt string, contextTexts []string) (string, error) {
	g.calls++
	g.lastPrompt = prompt
	g.lastContext = contextTexts
	if g.err != nil {
		return "", g.err
	}
	return g.reply, nil
}

type fixture struct {
	coord *Coordinator
	store *docstore.Store
	sink  *outputs.Sink
	index *vectorindex.Index
	gen   *stubGenerator
}

func newFixtureWith(t *testing.T, storeDir string, emb domain.Embedder, snapshotPath string) *fixture {
	t.Helper()
	log := zaptest.NewLogger(t)

	store := docstore.New(storeDir, log)
	sink := outputs.New(t.TempDir(), log)
	index := vectorindex.New(memory.NewEngine(), emb,
		vectorindex.Options{BackupsDir: t.TempDir()}, log)
	ch, err := chunker.NewWordChunker(50, 5)
	require.NoError(t, err)
	gen := &stubGenerator{reply: "a helpful answer"}

	coord := New(store, ch, index, gen, sink, Options{SnapshotPath: snapshotPath}, log)
	return &fixture{coord: coord, store: store, sink: sink, index: index, gen: gen}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWith(t, t.TempDir(), tfidf.NewEmbedder(), "")
}

func (f *fixture) seed(t *testing.T) {
	t.Helper()
	require.NoError(t, f.store.Add("pricing.txt",
		"Our premium subscription costs twenty dollars per month and includes priority support for every customer."))
	require.NoError(t, f.store.Add("launch.txt",
		"The spring launch campaign targets small retail businesses looking for affordable analytics tools."))
}

func TestRebuildEmptyDirectoryWarns(t *testing.T) {
	f := newFixture(t)

	summary := f.coord.Rebuild()

	assert.Equal(t, "warning", summary.Status)
	assert.Zero(t, summary.DocumentCount)
	assert.Zero(t, summary.ChunkCount)
}

func TestRebuildIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.seed(t)

	first := f.coord.Rebuild()
	require.Equal(t, "success", first.Status)
	require.Equal(t, 2, first.DocumentCount)
	require.Positive(t, first.ChunkCount)
	countAfterFirst := f.index.Count()

	second := f.coord.Rebuild()
	assert.Equal(t, "success", second.Status)
	assert.Equal(t, first.ChunkCount, second.ChunkCount)
	assert.Equal(t, countAfterFirst, f.index.Count())
}

func TestAnswerWithEmptyIndexStillGenerates(t *testing.T) {
	f := newFixture(t)

	res := f.coord.Answer(context.Background(), "what is the pricing?", nil)

	assert.Equal(t, 1, f.gen.calls)
	assert.Empty(t, f.gen.lastContext)
	assert.Zero(t, res.ContextUsed)
	assert.Zero(t, res.AvgRelevance)
	assert.Equal(t, "a helpful answer", res.Answer)
	assert.NotEmpty(t, res.Answer)
}

func TestAnswerIncludesProvenance(t *testing.T) {
	f := newFixture(t)
	f.seed(t)
	require.Equal(t, "success", f.coord.Rebuild().Status)

	res := f.coord.Answer(context.Background(), "premium subscription pricing support", nil)

	assert.Positive(t, res.ContextUsed)
	assert.NotEmpty(t, res.Sources)
	assert.Len(t, res.RelevanceScores, res.ContextUsed)
	assert.Positive(t, res.AvgRelevance)
	assert.Equal(t, len(f.gen.lastContext), res.ContextUsed)
	// The answer artifact is persisted through the sink.
	assert.Positive(t, f.sink.Count())
}

func TestAnswerGenerationFailureReturnsApology(t *testing.T) {
	f := newFixture(t)
	f.gen.err = errors.New("upstream is down")

	res := f.coord.Answer(context.Background(), "anything", nil)

	assert.Equal(t, generationApology, res.Answer)
	assert.Equal(t, "anything", res.Question)
}

func TestGenerateContentSavesArtifact(t *testing.T) {
	f := newFixture(t)
	f.seed(t)
	require.Equal(t, "success", f.coord.Rebuild().Status)
	f.gen.reply = "Introducing our spring campaign!"

	res := f.coord.GenerateContent(context.Background(), ContentRequest{
		Type:     "Blog Post",
		Topic:    "spring launch campaign",
		Audience: "small retail businesses",
	})

	assert.Equal(t, "Introducing our spring campaign!", res.Content)
	assert.NotEmpty(t, res.Sources)
	require.NotEmpty(t, res.OutputFile)
	assert.True(t, strings.HasPrefix(res.OutputFile, "blog_post_"))
	// Content text plus its metadata record.
	assert.Equal(t, 2, f.sink.Count())
	assert.Contains(t, f.gen.lastPrompt, "spring launch campaign")
}

func TestGenerateContentFailureReturnsApology(t *testing.T) {
	f := newFixture(t)
	f.gen.err = errors.New("quota exceeded")

	res := f.coord.GenerateContent(context.Background(), ContentRequest{Type: "email", Topic: "sale"})

	assert.Equal(t, generationApology, res.Content)
	assert.Empty(t, res.OutputFile)
	assert.Zero(t, f.sink.Count())
}

func TestAddDocumentStoresAndReindexes(t *testing.T) {
	f := newFixture(t)

	summary, err := f.coord.AddDocument("faq.txt",
		"Refunds are available within thirty days of purchase for annual subscription customers.")
	require.NoError(t, err)

	assert.Equal(t, "success", summary.Status)
	assert.Equal(t, 1, summary.DocumentCount)
	assert.Equal(t, 1, f.store.Count())
	assert.Positive(t, f.index.Count())
}

func TestUpdateDocumentReplacesChunks(t *testing.T) {
	f := newFixture(t)
	f.seed(t)
	require.Equal(t, "success", f.coord.Rebuild().Status)

	err := f.coord.UpdateDocument("pricing.txt",
		"The premium subscription now costs twentyfive dollars per month after the annual adjustment.")
	require.NoError(t, err)

	results := f.index.Search("premium subscription dollars month", 10,
		map[string]any{"source": "pricing.txt"})
	require.NotEmpty(t, results)
	for _, r := range results {
		assert.Contains(t, r.Chunk.Text, "twentyfive")
	}
}

func TestRemoveDocumentDeletesEverywhere(t *testing.T) {
	f := newFixture(t)
	f.seed(t)
	require.Equal(t, "success", f.coord.Rebuild().Status)

	removed, err := f.coord.RemoveDocument("pricing.txt")
	require.NoError(t, err)
	assert.Positive(t, removed)
	assert.Equal(t, 1, f.store.Count())
	assert.Empty(t, f.index.Search("premium subscription", 10,
		map[string]any{"source": "pricing.txt"}))
}

func TestAddStructuredData(t *testing.T) {
	f := newFixture(t)

	n, err := f.coord.AddStructuredData("crm_record_42", map[string]any{
		"customer_segment": "enterprise retail",
		"annual_budget":    120000,
		"renewal_due":      true,
		"nested":           map[string]any{"ignored": "yes"},
	})
	require.NoError(t, err)
	assert.Positive(t, n)

	results := f.index.Search("enterprise retail budget", 5,
		map[string]any{"content_type": "structured_data"})
	require.NotEmpty(t, results)
	assert.Equal(t, "crm_record_42", results[0].Chunk.Metadata.Source)
}

func TestAddStructuredDataRejectsEmptyRecord(t *testing.T) {
	f := newFixture(t)

	_, err := f.coord.AddStructuredData("rec", map[string]any{"nested": []string{"x"}})
	require.Error(t, err)
	assert.Equal(t, domain.KindIngestion, domain.KindOf(err))
}

func TestAddCompanyProfileReplacesPrevious(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.coord.AddCompanyProfile(CompanyProfile{
		Name:           "Acme Analytics",
		Industry:       "retail software",
		TargetAudience: "small retail businesses",
		BrandVoice:     "friendly and direct",
	}))
	require.NoError(t, f.coord.AddCompanyProfile(CompanyProfile{
		Name:     "Acme Analytics",
		Industry: "retail intelligence software",
	}))

	results := f.index.Search("retail intelligence software company", 10,
		map[string]any{"source": "company_profile"})
	require.NotEmpty(t, results)
	for _, r := range results {
		assert.Equal(t, domain.ContentTypeCompanyInfo, r.Chunk.Metadata.ContentType)
	}
	// No stale chunk from the first profile survives.
	for _, r := range results {
		assert.NotContains(t, r.Chunk.Text, "friendly and direct")
	}
}

func TestStatusReportShape(t *testing.T) {
	f := newFixture(t)
	f.seed(t)
	require.Equal(t, "success", f.coord.Rebuild().Status)

	report := f.coord.Status()

	assert.Equal(t, "operational", report.Status)
	assert.Equal(t, 2, report.KnowledgeBase.SourceDocuments)
	assert.Positive(t, report.KnowledgeBase.IndexedChunks)
	assert.Equal(t, 2, report.KnowledgeBase.UniqueSources)
	assert.Positive(t, report.KnowledgeBase.ContentTypes["text_file"])
	assert.False(t, report.Timestamp.IsZero())
}

// pickyEmbedder fails on texts containing the banned marker, simulating a
// document the embedding engine cannot process.
type pickyEmbedder struct{ banned string }

func (e *pickyEmbedder) Name() string                  { return "picky" }
func (e *pickyEmbedder) Prepare(corpus []string) error { return nil }
func (e *pickyEmbedder) Dimension() int                { return 3 }

func (e *pickyEmbedder) Embed(text string) ([]float64, error) {
	if strings.Contains(text, e.banned) {
		return nil, errors.New("cannot embed this text")
	}
	return []float64{float64(len(text)), 1, 0}, nil
}

func TestRebuildSkipsFailingDocuments(t *testing.T) {
	f := newFixtureWith(t, t.TempDir(), &pickyEmbedder{banned: "xqzgarbled"}, "")
	require.NoError(t, f.store.Add("good.txt",
		"A wholesome document about campaign planning and budgets."))
	require.NoError(t, f.store.Add("bad.txt",
		"This xqzgarbled document cannot be embedded at all."))

	summary := f.coord.Rebuild()

	assert.Equal(t, "warning", summary.Status)
	assert.Equal(t, 2, summary.DocumentCount)
	assert.Equal(t, 1, summary.ChunkCount)
	assert.Contains(t, summary.Message, "1 of 2 documents skipped")
	assert.Equal(t, 1, f.index.Count())
}

func TestRebuildErrorsWhenEveryDocumentFails(t *testing.T) {
	f := newFixtureWith(t, t.TempDir(), &pickyEmbedder{banned: "xqzgarbled"}, "")
	require.NoError(t, f.store.Add("one.txt", "First xqzgarbled document."))
	require.NoError(t, f.store.Add("two.txt", "Second xqzgarbled document."))

	summary := f.coord.Rebuild()

	assert.Equal(t, "error", summary.Status)
	assert.Equal(t, 2, summary.DocumentCount)
	assert.Zero(t, summary.ChunkCount)
	assert.Zero(t, f.index.Count())
}

func TestCompanyProfileSurvivesRestart(t *testing.T) {
	storeDir := t.TempDir()
	snapshotPath := filepath.Join(t.TempDir(), "index_snapshot.json")

	a := newFixtureWith(t, storeDir, tfidf.NewEmbedder(), snapshotPath)
	require.NoError(t, a.coord.AddCompanyProfile(CompanyProfile{
		Name:     "Acme Analytics",
		Industry: "retail intelligence software",
	}))

	// A fresh fixture over the same directories stands in for the next
	// process invocation.
	b := newFixtureWith(t, storeDir, tfidf.NewEmbedder(), snapshotPath)
	assert.Equal(t, "warning", b.coord.Rebuild().Status)
	require.NoError(t, b.coord.Restore())

	results := b.index.Search("retail intelligence software company", 5,
		map[string]any{"source": "company_profile"})
	require.NotEmpty(t, results)
	assert.Equal(t, domain.ContentTypeCompanyInfo, results[0].Chunk.Metadata.ContentType)
}

func TestRestoreDoesNotShadowEditedDocuments(t *testing.T) {
	storeDir := t.TempDir()
	snapshotPath := filepath.Join(t.TempDir(), "index_snapshot.json")

	a := newFixtureWith(t, storeDir, tfidf.NewEmbedder(), snapshotPath)
	require.NoError(t, a.store.Add("pricing.txt",
		"Our premium subscription costs twenty dollars per month for retail customers."))
	require.Equal(t, "success", a.coord.Rebuild().Status)
	// Persists the full snapshot, including the pricing chunks.
	_, err := a.coord.AddStructuredData("crm_1", map[string]any{"segment": "enterprise retail"})
	require.NoError(t, err)

	// The document changes on disk between invocations.
	require.NoError(t, a.store.Add("pricing.txt",
		"The premium subscription now costs twentyfive dollars per month for retail customers."))

	b := newFixtureWith(t, storeDir, tfidf.NewEmbedder(), snapshotPath)
	require.Equal(t, "success", b.coord.Rebuild().Status)
	require.NoError(t, b.coord.Restore())

	results := b.index.Search("premium subscription dollars month", 10,
		map[string]any{"source": "pricing.txt"})
	require.NotEmpty(t, results)
	for _, r := range results {
		assert.Contains(t, r.Chunk.Text, "twentyfive")
	}
	assert.NotEmpty(t, b.index.Search("enterprise retail segment", 5,
		map[string]any{"content_type": "structured_data"}))
}

func TestImportedSnapshotSurvivesRestart(t *testing.T) {
	// An external snapshot, produced by a different knowledge base.
	src := newFixtureWith(t, t.TempDir(), tfidf.NewEmbedder(), "")
	require.NoError(t, src.store.Add("partners.txt",
		"Our partner program offers wholesale integrations for hardware distributors."))
	require.Equal(t, "success", src.coord.Rebuild().Status)
	exportPath := filepath.Join(t.TempDir(), "export.json")
	require.NoError(t, src.coord.Export(exportPath))

	storeDir := t.TempDir()
	snapshotPath := filepath.Join(t.TempDir(), "index_snapshot.json")

	a := newFixtureWith(t, storeDir, tfidf.NewEmbedder(), snapshotPath)
	a.coord.Rebuild()
	require.NoError(t, a.coord.Import(exportPath))

	b := newFixtureWith(t, storeDir, tfidf.NewEmbedder(), snapshotPath)
	b.coord.Rebuild()
	require.NoError(t, b.coord.Restore())

	results := b.index.Search("partner program wholesale distributors", 5, nil)
	require.NotEmpty(t, results)
	assert.Equal(t, "partners.txt", results[0].Chunk.Metadata.Source)
}

func TestOverview(t *testing.T) {
	f := newFixture(t)
	assert.Contains(t, f.coord.Overview(), "empty")

	f.seed(t)
	overview := f.coord.Overview()
	assert.NotEmpty(t, overview)
	assert.NotContains(t, overview, "empty. Add documents")
}
