package ingestion_engine

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/markdave123-py/coursebot/internal/core"
)

const chunkingPrompt = "OCR the following page into Markdown. Tables should be formatted as HTML. " +
	"Do not surround your output with triple backticks.\n\n" +
	"Chunk the document into sections of roughly 250 - 1000 words. Our goal is " +
	"to identify parts of the page with same semantic theme. These chunks will " +
	"be embedded and used in a RAG pipeline.\n\n" +
	"Surround the chunks with <chunk> </chunk> html tags."

var chunkPattern = regexp.MustCompile(`(?s)<chunk>(.*?)</chunk>`)

// Segmenter turns document text into semantically coherent chunks with one LLM call per token window.
type Segmenter struct {
	llm          core.LLMProvider
	tok          Tokenizer
	windowTokens int
}

func NewSegmenter(llm core.LLMProvider, tok Tokenizer, windowTokens int) *Segmenter {
	return &Segmenter{llm: llm, tok: tok, windowTokens: windowTokens}
}

// Windows splits text into contiguous, non-overlapping windows of at most windowTokens tokens.
// Edges are not aligned to sentences; a window may end mid-word but never mid-rune, so the windows
// concatenate back to the text.
func (s *Segmenter) Windows(text string) []string {
	toks := s.tok.Encode(text)
	if len(toks) == 0 {
		return nil
	}

	size := s.windowTokens
	if size <= 0 || size >= len(toks) {
		return []string{s.tok.Decode(toks)}
	}

	windows := make([]string, 0, (len(toks)+size-1)/size)
	for start := 0; start < len(toks); {
		end := min(start+size, len(toks))
		w := s.tok.Decode(toks[start:end])
		// byte-level tokens can split a rune: pull the cut back to a rune boundary, or push it
		// forward when the window's first token already holds a partial rune.
		for !utf8.ValidString(w) && end-1 > start {
			end--
			w = s.tok.Decode(toks[start:end])
		}
		for !utf8.ValidString(w) && end < len(toks) {
			end++
			w = s.tok.Decode(toks[start:end])
		}
		windows = append(windows, w)
		start = end
	}
	return windows
}

// Segment returns chunks from every window, in window order, plus the number of windows sent.
// A reply without chunk tags contributes nothing and is not an error.
func (s *Segmenter) Segment(ctx context.Context, text string) ([]string, int, error) {
	windows := s.Windows(text)

	var chunks []string
	for i, w := range windows {
		resp, err := s.llm.Generate(ctx, chunkingPrompt, w)
		if err != nil {
			return nil, len(windows), fmt.Errorf("segment window %d/%d: %w", i+1, len(windows), err)
		}
		chunks = append(chunks, parseChunks(resp)...)
	}
	return chunks, len(windows), nil
}

// parseChunks extracts every <chunk>...</chunk> region, trimmed, dropping empty ones.
func parseChunks(resp string) []string {
	var out []string
	for _, m := range chunkPattern.FindAllStringSubmatch(resp, -1) {
		if c := strings.TrimSpace(m[1]); c != "" {
			out = append(out, c)
		}
	}
	return out
}
