package chunker

import (
	"regexp"
	"strings"

	"marketing-rag/internal/domain"
)

// WordChunker splits text into overlapping chunks bounded by a word budget.
// Paragraphs are accumulated greedily; the last overlap words of an emitted
// chunk are carried into the next one so local context survives the boundary.
type WordChunker struct {
	chunkSize int
	overlap   int
	sentences *regexp.Regexp
}

var paragraphSplit = regexp.MustCompile(`\n[ \t]*\n`)

// NewWordChunker creates a chunker with the given word budget and overlap.
// An overlap at or above the budget cannot make progress and is rejected.
func NewWordChunker(chunkSize, overlap int) (*WordChunker, error) {
	if chunkSize <= 0 {
		chunkSize = 1000
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= chunkSize {
		return nil, domain.Errf(domain.KindConfig, "chunker",
			"overlap %d must be smaller than chunk size %d", overlap, chunkSize)
	}
	return &WordChunker{
		chunkSize: chunkSize,
		overlap:   overlap,
		sentences: regexp.MustCompile(`(?m)(?U)([^.!?]+[.!?])`),
	}, nil
}

// Chunk splits text into ordered chunk strings. Empty input yields no chunks.
// Only the oversized-paragraph sliding window can emit a chunk at the full
// budget; the accumulation path always stays under it.
func (c *WordChunker) Chunk(text string) []string {
	var chunks []string
	var buf []string
	carry := 0 // words at the head of buf repeated from the previous chunk

	flush := func() {
		if len(buf) > carry {
			chunks = append(chunks, strings.Join(buf, " "))
			buf = tailWords(buf, c.overlap)
			carry = len(buf)
		}
	}

	for _, para := range c.paragraphs(text) {
		words := strings.Fields(para)
		if len(words) == 0 {
			continue
		}
		if len(words) > c.chunkSize {
			flush()
			// The window provides its own overlap, so the carry is dropped
			// rather than duplicated into the first window.
			stride := c.chunkSize - c.overlap
			for start := 0; ; start += stride {
				end := start + c.chunkSize
				if end >= len(words) {
					chunks = append(chunks, strings.Join(words[start:], " "))
					break
				}
				chunks = append(chunks, strings.Join(words[start:end], " "))
			}
			buf = tailWords(words, c.overlap)
			carry = len(buf)
			continue
		}
		if len(buf)+len(words) > c.chunkSize && len(buf) > carry {
			flush()
		}
		if len(buf)+len(words) > c.chunkSize {
			// Only carry-over words remain; trim them so the buffer cannot
			// exceed the budget on its own.
			drop := len(buf) + len(words) - c.chunkSize
			if drop > len(buf) {
				drop = len(buf)
			}
			buf = buf[drop:]
			if carry > len(buf) {
				carry = len(buf)
			}
		}
		buf = append(buf, words...)
	}
	flush()
	return chunks
}

// paragraphs splits on blank lines, falling back to sentence boundaries when
// the text has no blank-line structure at all.
func (c *WordChunker) paragraphs(text string) []string {
	var paras []string
	for _, p := range paragraphSplit.Split(text, -1) {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			paras = append(paras, trimmed)
		}
	}
	if len(paras) > 1 {
		return paras
	}
	sentences := c.sentences.FindAllString(text, -1)
	if len(sentences) > 0 {
		out := make([]string, 0, len(sentences))
		for _, s := range sentences {
			if trimmed := strings.TrimSpace(s); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return paras
}

func tailWords(words []string, n int) []string {
	if n <= 0 || len(words) == 0 {
		return nil
	}
	if n > len(words) {
		n = len(words)
	}
	tail := make([]string, n)
	copy(tail, words[len(words)-n:])
	return tail
}
