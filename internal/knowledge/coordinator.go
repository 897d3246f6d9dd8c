// Package knowledge orchestrates the document store, chunker, vector index,
// generation client and output sink behind a single agent-facing API.
// No raw engine error crosses this boundary: every public method returns a
// well-formed result, degrading to warnings or apologetic text instead of
// propagating failures to callers.
package knowledge

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"marketing-rag/internal/docstore"
	"marketing-rag/internal/domain"
	"marketing-rag/internal/outputs"
	"marketing-rag/internal/summarizer"
	"marketing-rag/internal/vectorindex"
)

const (
	// Fallback text when the generation client fails. Callers always get a
	// readable answer, never a stack trace.
	generationApology = "I'm sorry, I couldn't produce a response right now. Please try again in a moment."

	defaultAnswerResults  = 5
	defaultContentResults = 3
	overviewSentences     = 5
)

// Options tunes retrieval depth per operation. SnapshotPath, when set, is
// the durable home of the index: onboarded profiles, structured records and
// imported snapshots are written there and merged back in by Restore, since
// the index itself holds everything in process memory.
type Options struct {
	AnswerResults  int
	ContentResults int
	SnapshotPath   string
}

// Coordinator wires the pipeline together. All dependencies are passed in
// explicitly; it holds no global state.
type Coordinator struct {
	store      *docstore.Store
	chunker    domain.Chunker
	index      *vectorindex.Index
	generator  domain.Generator
	outputs    *outputs.Sink
	summarizer *summarizer.FrequencySummarizer
	log        *zap.Logger

	answerResults  int
	contentResults int
	snapshotPath   string
}

func New(store *docstore.Store, chunker domain.Chunker, index *vectorindex.Index,
	generator domain.Generator, sink *outputs.Sink, opts Options, log *zap.Logger) *Coordinator {
	if opts.AnswerResults <= 0 {
		opts.AnswerResults = defaultAnswerResults
	}
	if opts.ContentResults <= 0 {
		opts.ContentResults = defaultContentResults
	}
	return &Coordinator{
		store:          store,
		chunker:        chunker,
		index:          index,
		generator:      generator,
		outputs:        sink,
		summarizer:     summarizer.NewFrequencySummarizer(),
		log:            log,
		answerResults:  opts.AnswerResults,
		contentResults: opts.ContentResults,
		snapshotPath:   opts.SnapshotPath,
	}
}

// RebuildSummary reports the outcome of a full reindex.
type RebuildSummary struct {
	Status        string `json:"status"` // success | warning | error
	DocumentCount int    `json:"document_count"`
	ChunkCount    int    `json:"chunk_count"`
	Message       string `json:"message"`
}

// Rebuild loads every source document, chunks it and adds it to the index.
// Deterministic chunk ids make a repeat run on an unchanged directory a
// no-op for the index. A per-document failure skips that document and the
// rebuild continues; zero documents is a valid empty state, not an error.
func (c *Coordinator) Rebuild() RebuildSummary {
	docs := c.store.LoadAll()
	if len(docs) == 0 {
		return RebuildSummary{
			Status:  "warning",
			Message: "no documents found in the knowledge directory",
		}
	}

	if err := c.index.Prepare(c.corpus()); err != nil {
		c.log.Error("embedder preparation failed", zap.Error(err))
		return RebuildSummary{
			Status:        "error",
			DocumentCount: len(docs),
			Message:       fmt.Sprintf("embedder preparation failed: %v", err),
		}
	}

	var chunkCount, failed int
	for _, d := range docs {
		n, err := c.indexDocument(d.Filename, d.Content, d.Type)
		if err != nil {
			failed++
			c.log.Warn("skipping document",
				zap.String("filename", d.Filename), zap.Error(err))
			continue
		}
		chunkCount += n
	}

	summary := RebuildSummary{
		Status:        "success",
		DocumentCount: len(docs),
		ChunkCount:    chunkCount,
		Message:       fmt.Sprintf("indexed %d chunks from %d documents", chunkCount, len(docs)),
	}
	switch {
	case failed == len(docs):
		summary.Status = "error"
		summary.Message = "every document failed to index"
	case failed > 0:
		summary.Status = "warning"
		summary.Message = fmt.Sprintf("indexed %d chunks; %d of %d documents skipped",
			chunkCount, failed, len(docs))
	}
	return summary
}

// corpus collects the text the embedder should be fitted over: every stored
// document plus every indexed entry that did not come from a stored file
// (onboarded records, imported snapshots), plus any extra texts about to be
// indexed. Keeping onboarded text in the corpus stops a refit from pushing
// its vocabulary to zero weight.
func (c *Coordinator) corpus(extra ...string) []string {
	docs := c.store.LoadAll()
	corpus := make([]string, 0, len(docs)+len(extra))
	for _, d := range docs {
		corpus = append(corpus, d.Content)
	}
	snap := c.index.Snapshot()
	for n, m := range snap.Metadatas {
		if m.ContentType != domain.ContentTypeTextFile {
			corpus = append(corpus, snap.Documents[n])
		}
	}
	for _, e := range extra {
		if e != "" {
			corpus = append(corpus, e)
		}
	}
	return corpus
}

// prepareWith refits the embedder over the working corpus plus extra text.
// For vocabulary-based embedders this changes the dimension, and the index
// re-embeds existing entries on the next add; remote embedders treat
// preparation as a no-op.
func (c *Coordinator) prepareWith(extra string) error {
	return c.index.Prepare(c.corpus(extra))
}

// indexDocument chunks one source and adds it under deterministic ids.
func (c *Coordinator) indexDocument(filename, content string, ct domain.ContentType) (int, error) {
	pieces := c.chunker.Chunk(content)
	if len(pieces) == 0 {
		return 0, nil
	}
	ids := make([]string, len(pieces))
	metas := make([]domain.ChunkMetadata, len(pieces))
	for i := range pieces {
		ids[i] = domain.ChunkID(filename, i)
		metas[i] = domain.ChunkMetadata{
			Source:      filename,
			Filename:    filename,
			ChunkIndex:  i,
			ContentType: ct,
		}
	}
	if err := c.index.Add(pieces, metas, ids); err != nil {
		return 0, err
	}
	return len(pieces), nil
}

// AnswerResult packages an answer with its provenance. ContextUsed exposes
// how many retrieved chunks grounded the answer; zero means the generator
// ran without any knowledge-base context.
type AnswerResult struct {
	Question        string    `json:"question"`
	Answer          string    `json:"answer"`
	Sources         []string  `json:"sources"`
	RelevanceScores []float64 `json:"relevance_scores"`
	AvgRelevance    float64   `json:"avg_relevance"`
	ContextUsed     int       `json:"context_used"`
	Timestamp       time.Time `json:"timestamp"`
}

// Answer retrieves context for the question and delegates to the generation
// client. The generator is invoked even when retrieval finds nothing, so the
// system degrades to an un-grounded answer rather than refusing.
func (c *Coordinator) Answer(ctx context.Context, question string, filters map[string]any) AnswerResult {
	results := c.index.Search(question, c.answerResults, filters)

	texts := make([]string, 0, len(results))
	sources := make([]string, 0, len(results))
	scores := make([]float64, 0, len(results))
	seen := make(map[string]bool)
	var total float64
	for _, r := range results {
		texts = append(texts, r.Chunk.Text)
		scores = append(scores, r.Relevance)
		total += r.Relevance
		if !seen[r.Chunk.Metadata.Source] {
			seen[r.Chunk.Metadata.Source] = true
			sources = append(sources, r.Chunk.Metadata.Source)
		}
	}

	res := AnswerResult{
		Question:        question,
		Sources:         sources,
		RelevanceScores: scores,
		ContextUsed:     len(results),
		Timestamp:       time.Now().UTC(),
	}
	if len(scores) > 0 {
		res.AvgRelevance = total / float64(len(scores))
	}

	answer, err := c.generator.Generate(ctx, question, texts)
	if err != nil {
		c.log.Error("generation failed", zap.String("question", question), zap.Error(err))
		res.Answer = generationApology
		return res
	}
	res.Answer = answer

	name := fmt.Sprintf("answer_%s.json", res.Timestamp.Format("20060102_150405"))
	if err := c.outputs.SaveJSON(name, res); err != nil {
		c.log.Warn("could not persist answer", zap.String("name", name), zap.Error(err))
	}
	return res
}

// ContentRequest describes a content-generation job.
type ContentRequest struct {
	Type     string `json:"content_type"` // e.g. blog_post, social_media, email
	Topic    string `json:"topic"`
	Audience string `json:"audience"`
	Params   string `json:"params,omitempty"` // free-form extra instructions
}

// ContentResult is the generated artifact plus its provenance.
type ContentResult struct {
	Content    string    `json:"content"`
	Sources    []string  `json:"sources"`
	OutputFile string    `json:"output_file"`
	Timestamp  time.Time `json:"timestamp"`
}

// GenerateContent is the retrieval-then-generate pipeline specialised for
// marketing content instead of Q&A. The retrieval query mixes topic,
// audience and content type so brand and audience material both surface.
func (c *Coordinator) GenerateContent(ctx context.Context, req ContentRequest) ContentResult {
	query := strings.TrimSpace(fmt.Sprintf("%s %s %s", req.Topic, req.Audience, req.Type))
	results := c.index.Search(query, c.contentResults, nil)

	texts := make([]string, 0, len(results))
	sources := make([]string, 0, len(results))
	seen := make(map[string]bool)
	for _, r := range results {
		texts = append(texts, r.Chunk.Text)
		if !seen[r.Chunk.Metadata.Source] {
			seen[r.Chunk.Metadata.Source] = true
			sources = append(sources, r.Chunk.Metadata.Source)
		}
	}

	res := ContentResult{
		Sources:   sources,
		Timestamp: time.Now().UTC(),
	}

	prompt := contentPrompt(req)
	content, err := c.generator.Generate(ctx, prompt, texts)
	if err != nil {
		c.log.Error("content generation failed",
			zap.String("type", req.Type), zap.String("topic", req.Topic), zap.Error(err))
		res.Content = generationApology
		return res
	}
	res.Content = content

	stamp := res.Timestamp.Format("20060102_150405")
	name := fmt.Sprintf("%s_%s.txt", sanitizeName(req.Type), stamp)
	if err := c.outputs.SaveText(name, content); err != nil {
		c.log.Warn("could not persist content", zap.String("name", name), zap.Error(err))
	} else {
		res.OutputFile = name
	}
	meta := map[string]any{
		"content_type": req.Type,
		"topic":        req.Topic,
		"audience":     req.Audience,
		"sources":      sources,
		"generated_at": res.Timestamp,
	}
	metaName := fmt.Sprintf("%s_%s_meta.json", sanitizeName(req.Type), stamp)
	if err := c.outputs.SaveJSON(metaName, meta); err != nil {
		c.log.Warn("could not persist content metadata", zap.String("name", metaName), zap.Error(err))
	}
	return res
}

func contentPrompt(req ContentRequest) string {
	var b strings.Builder
	switch req.Type {
	case "blog_post":
		b.WriteString("Write a blog post")
	case "social_media":
		b.WriteString("Write a short social media post")
	case "email":
		b.WriteString("Write a marketing email")
	default:
		fmt.Fprintf(&b, "Write %s content", req.Type)
	}
	if req.Topic != "" {
		fmt.Fprintf(&b, " about %q", req.Topic)
	}
	if req.Audience != "" {
		fmt.Fprintf(&b, " for the audience %q", req.Audience)
	}
	b.WriteString(". Stay consistent with the brand voice and facts in the provided context.")
	if req.Params != "" {
		b.WriteString(" ")
		b.WriteString(req.Params)
	}
	return b.String()
}

func sanitizeName(s string) string {
	if s == "" {
		return "content"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		default:
			return '_'
		}
	}, s)
}

// AddDocument stores the document and runs a full rebuild, the chosen
// consistency strategy for additions.
func (c *Coordinator) AddDocument(filename, content string) (RebuildSummary, error) {
	if err := c.store.Add(filename, content); err != nil {
		return RebuildSummary{}, err
	}
	return c.Rebuild(), nil
}

// UpdateDocument reindexes a single source: its stale chunks are removed
// first so a shorter replacement leaves no orphans behind.
func (c *Coordinator) UpdateDocument(filename, content string) error {
	if err := c.store.Add(filename, content); err != nil {
		return err
	}
	if _, err := c.index.DeleteBySource(filename); err != nil {
		return err
	}
	if err := c.prepareWith(""); err != nil {
		return err
	}
	if _, err := c.indexDocument(filename, content, domain.ContentTypeTextFile); err != nil {
		return err
	}
	return c.Persist()
}

// RemoveDocument deletes the source's chunks from the index and the file
// from the store, in that order, so a failed file removal never leaves
// chunks pointing at a document the store still serves.
func (c *Coordinator) RemoveDocument(filename string) (int, error) {
	removed, err := c.index.DeleteBySource(filename)
	if err != nil {
		return 0, err
	}
	if err := c.store.Remove(filename); err != nil {
		return removed, err
	}
	return removed, c.Persist()
}

// AddStructuredData flattens scalar fields of a record into "key: value"
// lines and indexes them as one document under the given source. Keys are
// sorted so repeated onboarding of the same record is idempotent.
func (c *Coordinator) AddStructuredData(source string, data map[string]any) (int, error) {
	if source == "" {
		return 0, domain.Errf(domain.KindIngestion, "knowledge.structured", "empty source")
	}
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		switch data[k].(type) {
		case string, bool, int, int64, float64:
			fmt.Fprintf(&b, "%s: %v\n", k, data[k])
		default:
			// Nested values are out of scope for flat onboarding.
		}
	}
	text := strings.TrimSpace(b.String())
	if text == "" {
		return 0, domain.Errf(domain.KindIngestion, "knowledge.structured",
			"no scalar fields in record %q", source)
	}
	if err := c.prepareWith(text); err != nil {
		return 0, err
	}
	n, err := c.indexDocument(source, text, domain.ContentTypeStructuredData)
	if err != nil {
		return 0, err
	}
	return n, c.Persist()
}

// CompanyProfile is the structured onboarding form for a company's
// marketing identity.
type CompanyProfile struct {
	Name             string   `json:"name" yaml:"name"`
	Industry         string   `json:"industry" yaml:"industry"`
	TargetAudience   string   `json:"target_audience" yaml:"target_audience"`
	ValueProposition string   `json:"value_proposition" yaml:"value_proposition"`
	ProductsServices []string `json:"products_services" yaml:"products_services"`
	BrandVoice       string   `json:"brand_voice" yaml:"brand_voice"`
	Competitors      []string `json:"competitors" yaml:"competitors"`
}

// AddCompanyProfile renders the profile to prose and indexes it under the
// fixed source "company_profile", replacing any previous profile.
func (c *Coordinator) AddCompanyProfile(profile CompanyProfile) error {
	if profile.Name == "" {
		return domain.Errf(domain.KindIngestion, "knowledge.profile", "company name is required")
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Company: %s\n", profile.Name)
	if profile.Industry != "" {
		fmt.Fprintf(&b, "Industry: %s\n", profile.Industry)
	}
	if profile.TargetAudience != "" {
		fmt.Fprintf(&b, "Target audience: %s\n", profile.TargetAudience)
	}
	if profile.ValueProposition != "" {
		fmt.Fprintf(&b, "Value proposition: %s\n", profile.ValueProposition)
	}
	if len(profile.ProductsServices) > 0 {
		fmt.Fprintf(&b, "Products and services: %s\n", strings.Join(profile.ProductsServices, ", "))
	}
	if profile.BrandVoice != "" {
		fmt.Fprintf(&b, "Brand voice: %s\n", profile.BrandVoice)
	}
	if len(profile.Competitors) > 0 {
		fmt.Fprintf(&b, "Competitors: %s\n", strings.Join(profile.Competitors, ", "))
	}

	if _, err := c.index.DeleteBySource("company_profile"); err != nil {
		return err
	}
	if err := c.prepareWith(b.String()); err != nil {
		return err
	}
	if _, err := c.indexDocument("company_profile", b.String(), domain.ContentTypeCompanyInfo); err != nil {
		return err
	}
	return c.Persist()
}

// StatusReport is the agent-facing health snapshot.
type StatusReport struct {
	KnowledgeBase KnowledgeStatus `json:"knowledge_base"`
	Outputs       OutputsStatus   `json:"outputs"`
	Status        string          `json:"status"` // operational | error
	Timestamp     time.Time       `json:"timestamp"`
}

type KnowledgeStatus struct {
	SourceDocuments int            `json:"source_documents"`
	IndexedChunks   int            `json:"indexed_chunks"`
	UniqueSources   int            `json:"unique_sources"`
	ContentTypes    map[string]int `json:"content_types"`
	BackupCount     int            `json:"backup_count"`
}

type OutputsStatus struct {
	Count  int      `json:"count"`
	Recent []string `json:"recent"`
}

// Status reports the state of the knowledge base and output sink.
func (c *Coordinator) Status() StatusReport {
	info := c.index.Info()
	return StatusReport{
		KnowledgeBase: KnowledgeStatus{
			SourceDocuments: c.store.Count(),
			IndexedChunks:   info.DocumentCount,
			UniqueSources:   info.UniqueSources,
			ContentTypes:    info.ContentTypes,
			BackupCount:     info.BackupCount,
		},
		Outputs: OutputsStatus{
			Count:  c.outputs.Count(),
			Recent: c.outputs.Recent(5),
		},
		Status:    "operational",
		Timestamp: time.Now().UTC(),
	}
}

// Overview summarizes the loaded corpus into a few sentences for display.
func (c *Coordinator) Overview() string {
	docs := c.store.LoadAll()
	if len(docs) == 0 {
		return "The knowledge base is empty. Add documents to get started."
	}
	parts := make([]string, 0, len(docs))
	for _, d := range docs {
		parts = append(parts, d.Content)
	}
	return c.summarizer.Summarize(strings.Join(parts, "\n\n"), overviewSentences)
}

// Export writes a snapshot of the index to path.
func (c *Coordinator) Export(path string) error { return c.index.Export(path) }

// Import merges a snapshot into the index, deduplicating against existing
// ids, and persists the merged collection so it survives the process.
func (c *Coordinator) Import(path string) error {
	snap, err := vectorindex.ReadSnapshot(path)
	if err != nil {
		return err
	}
	if len(snap.IDs) == 0 {
		return nil
	}
	if err := c.index.Prepare(c.corpus(snap.Documents...)); err != nil {
		return err
	}
	if err := c.index.Add(snap.Documents, snap.Metadatas, snap.IDs); err != nil {
		return err
	}
	return c.Persist()
}

// Restore merges the persisted snapshot back into the index. Entries whose
// source document is still in the store are skipped: Rebuild regenerates
// those from current file contents, so a stale snapshot never shadows an
// edited document. A missing snapshot is the normal first-run state.
func (c *Coordinator) Restore() error {
	if c.snapshotPath == "" {
		return nil
	}
	if _, err := os.Stat(c.snapshotPath); err != nil {
		return nil
	}
	snap, err := vectorindex.ReadSnapshot(c.snapshotPath)
	if err != nil {
		return err
	}
	stored := make(map[string]bool)
	for _, d := range c.store.LoadAll() {
		stored[d.Filename] = true
	}
	var texts []string
	var metas []domain.ChunkMetadata
	var ids []string
	for n := range snap.IDs {
		m := snap.Metadatas[n]
		if m.ContentType == domain.ContentTypeTextFile && stored[m.Filename] {
			continue
		}
		texts = append(texts, snap.Documents[n])
		metas = append(metas, m)
		ids = append(ids, snap.IDs[n])
	}
	if len(texts) == 0 {
		return nil
	}
	if err := c.index.Prepare(c.corpus(texts...)); err != nil {
		return err
	}
	return c.index.Add(texts, metas, ids)
}

// Persist writes the index to the snapshot path. Called after every
// operation that creates or removes state not reconstructible from the
// knowledge directory.
func (c *Coordinator) Persist() error {
	if c.snapshotPath == "" {
		return nil
	}
	return c.index.Export(c.snapshotPath)
}

// Backup writes a timestamped snapshot into the backups directory and
// returns its path.
func (c *Coordinator) Backup() (string, error) { return c.index.CreateBackup() }
