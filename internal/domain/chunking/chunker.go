// Package chunking splits an extracted decision into section-labelled,
// sentence-safe chunks.
//
// A Document moves received -> sectioned -> chunked -> done, or to failed from
// any non-terminal state. Stage 1 asks a SectionClassifier for page ranges,
// which may open and close mid-page at a heading line;
// stage 2 packs paragraphs, and sentences of oversized paragraphs, into chunks
// of at most MaxChunkSize runes. Chunk text is always a verbatim substring of
// a page, so joining chunks in sequence order reproduces the document up to
// whitespace at chunk boundaries.
package chunking

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/turtacn/Opposition-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/Opposition-Intelligence/pkg/types/trademark"
)

// DefaultMaxChunkSize is the default chunk size limit in runes.
const DefaultMaxChunkSize = 1500

// Chunker runs both chunking stages.
type Chunker struct {
	classifier   SectionClassifier
	maxChunkSize int
	logger       logging.Logger
}

// NewChunker returns a Chunker. maxChunkSize <= 0 selects DefaultMaxChunkSize.
func NewChunker(classifier SectionClassifier, maxChunkSize int, logger logging.Logger) *Chunker {
	if maxChunkSize <= 0 {
		maxChunkSize = DefaultMaxChunkSize
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if classifier == nil {
		classifier = NewHeadingClassifier(nil)
	}
	return &Chunker{classifier: classifier, maxChunkSize: maxChunkSize, logger: logger}
}

// Run executes stage 1 and stage 2 on doc and returns the chunks. On error the
// document is left in the failed state.
func (c *Chunker) Run(ctx context.Context, doc *Document) ([]trademark.Chunk, error) {
	if err := c.Section(ctx, doc); err != nil {
		return nil, err
	}
	return c.Chunk(doc)
}

// Section runs stage 1.
func (c *Chunker) Section(ctx context.Context, doc *Document) error {
	if doc.State() != trademark.StateReceived {
		return fmt.Errorf("%w: section from %s", ErrInvalidTransition, doc.State())
	}
	raw, err := c.classifier.Classify(ctx, doc.Pages)
	if err != nil {
		_ = doc.Fail(err)
		return fmt.Errorf("chunking: classify sections of %s: %w", doc.CaseReference, err)
	}
	sections := NormalizeSections(raw, doc.Pages)
	if len(raw) == 0 {
		c.logger.Info("no sections detected, chunking whole document",
			logging.String("case_reference", doc.CaseReference))
	}
	return doc.setSections(sections)
}

// Chunk runs stage 2 on a sectioned document.
func (c *Chunker) Chunk(doc *Document) ([]trademark.Chunk, error) {
	if doc.State() != trademark.StateSectioned {
		return nil, fmt.Errorf("%w: chunk from %s", ErrInvalidTransition, doc.State())
	}
	var out []trademark.Chunk
	for _, sec := range doc.Sections() {
		for _, piece := range c.splitSection(doc.Pages, sec) {
			out = append(out, trademark.Chunk{
				CaseReference:   doc.CaseReference,
				SourceSection:   sec.Label,
				PageNumber:      piece.page,
				ChunkSequenceID: len(out),
				Text:            piece.text,
			})
		}
	}
	if err := doc.setChunks(out); err != nil {
		return nil, err
	}
	return out, nil
}

type piece struct {
	page int
	text string
}

type paragraph struct {
	page int
	text string
}

// splitSection packs a section's paragraphs greedily. Paragraphs over the
// limit are split into sentence runs first.
func (c *Chunker) splitSection(pages []trademark.Page, sec trademark.Section) []piece {
	var paras []paragraph
	for _, p := range pages {
		if p.Number < sec.StartPage || p.Number > sec.EndPage {
			continue
		}
		for _, text := range Paragraphs(SectionText(p, sec)) {
			if runeLen(text) <= c.maxChunkSize {
				paras = append(paras, paragraph{page: p.Number, text: text})
				continue
			}
			for _, s := range PackSentences(text, c.maxChunkSize) {
				paras = append(paras, paragraph{page: p.Number, text: s})
			}
		}
	}

	var out []piece
	var cur []string
	curPage, curLen := 0, 0
	flush := func() {
		if len(cur) > 0 {
			out = append(out, piece{page: curPage, text: strings.Join(cur, "\n\n")})
		}
		cur, curLen = nil, 0
	}
	for _, p := range paras {
		n := runeLen(p.text)
		if len(cur) > 0 && curLen+2+n > c.maxChunkSize {
			flush()
		}
		if len(cur) == 0 {
			curPage = p.page
		} else {
			curLen += 2
		}
		cur = append(cur, p.text)
		curLen += n
	}
	flush()
	return out
}

// Paragraphs splits text on blank lines and trims each paragraph.
func Paragraphs(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	var out []string
	var buf []string
	emit := func() {
		if p := strings.TrimSpace(strings.Join(buf, "\n")); p != "" {
			out = append(out, p)
		}
		buf = buf[:0]
	}
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) == "" {
			emit()
			continue
		}
		buf = append(buf, line)
	}
	emit()
	return out
}

// PackSentences groups whole sentences of text into runs of at most max
// runes. A sentence longer than max forms its own run.
func PackSentences(text string, max int) []string {
	spans := SentenceSpans(text)
	var out []string
	start, end := -1, -1
	for _, sp := range spans {
		if start < 0 {
			start, end = sp[0], sp[1]
			continue
		}
		if runeLen(text[start:sp[1]]) > max {
			out = append(out, text[start:end])
			start = sp[0]
		}
		end = sp[1]
	}
	if start >= 0 {
		out = append(out, text[start:end])
	}
	return out
}

var abbreviations = map[string]bool{
	"mr": true, "mrs": true, "ms": true, "dr": true, "v": true, "vs": true,
	"no": true, "nos": true, "para": true, "paras": true, "ltd": true, "co": true,
	"inc": true, "plc": true, "e.g": true, "i.e": true, "cf": true, "etc": true,
	"st": true, "art": true, "s": true, "ss": true, "reg": true, "p": true, "pp": true,
}

// SentenceSpans returns byte ranges of the trimmed sentences of text. A
// sentence ends at '.', '!' or '?' (plus closing quotes or brackets) followed
// by whitespace and an upper-case letter, digit, quote or bracket, unless the
// word before the stop is a known abbreviation.
func SentenceSpans(text string) [][2]int {
	var spans [][2]int
	start := skipSpace(text, 0)
	i := start
	for i < len(text) {
		r, w := utf8.DecodeRuneInString(text[i:])
		if r != '.' && r != '!' && r != '?' {
			i += w
			continue
		}
		end := i + w
		for end < len(text) {
			cr, cw := utf8.DecodeRuneInString(text[end:])
			if !strings.ContainsRune(`"')]’”`, cr) {
				break
			}
			end += cw
		}
		next := skipSpace(text, end)
		if next == end || next >= len(text) {
			i = end
			continue
		}
		nr, _ := utf8.DecodeRuneInString(text[next:])
		if !startsSentence(nr) || (r == '.' && isAbbreviation(text[start:i])) {
			i = end
			continue
		}
		spans = append(spans, [2]int{start, end})
		start = next
		i = next
	}
	if tail := strings.TrimRight(text[start:], " \t\r\n"); tail != "" {
		spans = append(spans, [2]int{start, start + len(tail)})
	}
	return spans
}

func startsSentence(r rune) bool {
	return (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || strings.ContainsRune(`"'(“‘[`, r) ||
		(r > utf8.RuneSelf && strings.ToUpper(string(r)) == string(r) && strings.ToLower(string(r)) != string(r))
}

func isAbbreviation(before string) bool {
	idx := strings.LastIndexAny(before, " \t\n(")
	word := strings.ToLower(before[idx+1:])
	return abbreviations[word] || (utf8.RuneCountInString(word) == 1 && word != "")
}

func skipSpace(s string, i int) int {
	for i < len(s) && (s[i] == ' ' || s[i] == '\t' || s[i] == '\n' || s[i] == '\r') {
		i++
	}
	return i
}

func runeLen(s string) int { return utf8.RuneCountInString(s) }

// NormalizeWhitespace collapses whitespace runs to one space and trims.
func NormalizeWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
