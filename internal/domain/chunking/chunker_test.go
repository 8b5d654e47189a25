package chunking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/Opposition-Intelligence/pkg/types/trademark"
)

type staticClassifier struct {
	sections []trademark.Section
	err      error
	calls    int
}

func (s *staticClassifier) Classify(context.Context, []trademark.Page) ([]trademark.Section, error) {
	s.calls++
	return s.sections, s.err
}

func sentence(page, n int) string {
	return fmt.Sprintf("On page %d the hearing officer made finding number %d about the marks.", page, n)
}

// tenPageDecision builds a decision whose headings open pages 1, 4 and 8.
func tenPageDecision() []trademark.Page {
	headings := map[int]string{1: "BACKGROUND AND PLEADINGS", 4: "Comparison of goods and services", 8: "Likelihood of confusion"}
	pages := make([]trademark.Page, 0, 10)
	for i := 1; i <= 10; i++ {
		var b strings.Builder
		if h, ok := headings[i]; ok {
			b.WriteString(h + "\n\n")
		}
		for p := 0; p < 3; p++ {
			for s := 0; s < 4; s++ {
				b.WriteString(sentence(i, p*4+s) + " ")
			}
			b.WriteString("\n\n")
		}
		pages = append(pages, trademark.Page{Number: i, Text: b.String()})
	}
	return pages
}

func joinPages(pages []trademark.Page) string {
	parts := make([]string, len(pages))
	for i, p := range pages {
		parts[i] = p.Text
	}
	return strings.Join(parts, "\n")
}

func joinChunks(chunks []trademark.Chunk) string {
	parts := make([]string, len(chunks))
	for i, c := range chunks {
		parts[i] = c.Text
	}
	return strings.Join(parts, " ")
}

func TestChunker_ThreeSectionsTenPages(t *testing.T) {
	cls := &staticClassifier{sections: []trademark.Section{
		{Label: "Background", StartPage: 1, EndPage: 3},
		{Label: "Goods and services", StartPage: 4, EndPage: 7},
		{Label: "Likelihood of confusion", StartPage: 8, EndPage: 10},
	}}
	doc := NewDocument("O/0123/24", tenPageDecision())
	chunks, err := NewChunker(cls, 400, nil).Run(context.Background(), doc)
	require.NoError(t, err)
	require.NotEmpty(t, chunks)

	labels := map[string]bool{}
	for i, c := range chunks {
		assert.Equal(t, i, c.ChunkSequenceID)
		assert.Equal(t, "O/0123/24", c.CaseReference)
		labels[c.SourceSection] = true
	}
	assert.Len(t, labels, 3)
	assert.Equal(t, trademark.StateChunked, doc.State())
	require.NoError(t, doc.MarkDone())
	assert.Equal(t, trademark.StateDone, doc.State())
}

func TestChunker_RoundTrip(t *testing.T) {
	for _, size := range []int{60, 200, 400, 5000} {
		pages := tenPageDecision()
		doc := NewDocument("O/1/24", pages)
		chunks, err := NewChunker(NewHeadingClassifier(nil), size, nil).Run(context.Background(), doc)
		require.NoError(t, err)
		assert.Equal(t, NormalizeWhitespace(joinPages(pages)), NormalizeWhitespace(joinChunks(chunks)), "size %d", size)
	}
}

func TestChunker_HeadingClassifierLabels(t *testing.T) {
	doc := NewDocument("O/1/24", tenPageDecision())
	chunks, err := NewChunker(NewHeadingClassifier(nil), 400, nil).Run(context.Background(), doc)
	require.NoError(t, err)

	assert.Equal(t, []trademark.Section{
		{Label: "Background and pleadings", StartPage: 1, EndPage: 3},
		{Label: "Comparison of goods and services", StartPage: 4, EndPage: 7},
		{Label: "Likelihood of confusion", StartPage: 8, EndPage: 10},
	}, doc.Sections())
	assert.Equal(t, "Likelihood of confusion", chunks[len(chunks)-1].SourceSection)
	assert.Equal(t, 1, chunks[0].PageNumber)
}

func TestChunker_ChunksRespectSizeAndSentences(t *testing.T) {
	long := strings.Repeat("The marks share the dominant element. ", 40)
	doc := NewDocument("O/2/24", []trademark.Page{{Number: 1, Text: long}})
	chunks, err := NewChunker(&staticClassifier{}, 120, nil).Run(context.Background(), doc)
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)
	for _, c := range chunks {
		assert.LessOrEqual(t, len([]rune(c.Text)), 120)
		assert.True(t, strings.HasSuffix(c.Text, "."), c.Text)
		assert.True(t, strings.HasPrefix(c.Text, "The"), c.Text)
	}
}

func TestChunker_OversizedSentenceKeptWhole(t *testing.T) {
	s := strings.Repeat("word ", 50) + "end."
	doc := NewDocument("O/3/24", []trademark.Page{{Number: 1, Text: "Short one. " + s + " Tail here."}})
	chunks, err := NewChunker(&staticClassifier{}, 40, nil).Run(context.Background(), doc)
	require.NoError(t, err)
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	assert.Contains(t, texts, s)
}

func TestChunker_ZeroSectionsFallsBackToWholeDocument(t *testing.T) {
	doc := NewDocument("O/4/24", []trademark.Page{{Number: 1, Text: "Alpha."}, {Number: 2, Text: "Beta."}})
	chunks, err := NewChunker(&staticClassifier{}, 100, nil).Run(context.Background(), doc)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, WholeDocumentLabel, chunks[0].SourceSection)
	assert.Equal(t, []trademark.Section{{Label: WholeDocumentLabel, StartPage: 1, EndPage: 2}}, doc.Sections())
}

func TestChunker_ClassifierErrorFailsDocument(t *testing.T) {
	boom := errors.New("oracle down")
	doc := NewDocument("O/5/24", []trademark.Page{{Number: 1, Text: "x."}})
	_, err := NewChunker(&staticClassifier{err: boom}, 100, nil).Run(context.Background(), doc)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, trademark.StateFailed, doc.State())
	assert.ErrorIs(t, doc.Failure(), boom)

	require.NoError(t, doc.Reset())
	assert.Equal(t, trademark.StateReceived, doc.State())
	_, err = NewChunker(&staticClassifier{}, 100, nil).Run(context.Background(), doc)
	assert.NoError(t, err)
}

func TestChunker_RejectsWrongState(t *testing.T) {
	doc := NewDocument("O/6/24", []trademark.Page{{Number: 1, Text: "x."}})
	c := NewChunker(&staticClassifier{}, 100, nil)
	_, err := c.Chunk(doc)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = c.Run(context.Background(), doc)
	require.NoError(t, err)
	assert.ErrorIs(t, c.Section(context.Background(), doc), ErrInvalidTransition)
}

func TestDocument_Transitions(t *testing.T) {
	assert.True(t, CanTransition(trademark.StateReceived, trademark.StateSectioned))
	assert.True(t, CanTransition(trademark.StateChunked, trademark.StateFailed))
	assert.False(t, CanTransition(trademark.StateReceived, trademark.StateDone))
	assert.False(t, CanTransition(trademark.StateDone, trademark.StateFailed))
	assert.False(t, CanTransition(trademark.StateFailed, trademark.StateSectioned))

	doc := NewDocument("O/7/24", nil)
	assert.ErrorIs(t, doc.Reset(), ErrInvalidTransition)
	assert.ErrorIs(t, doc.MarkDone(), ErrInvalidTransition)
	require.NoError(t, doc.Fail(errors.New("x")))
	assert.ErrorIs(t, doc.Fail(errors.New("y")), ErrInvalidTransition)
}

func TestFallbackClassifier(t *testing.T) {
	pages := tenPageDecision()
	primary := &staticClassifier{err: errors.New("unavailable")}
	fc := NewFallbackClassifier(primary, NewHeadingClassifier(nil), nil)
	got, err := fc.Classify(context.Background(), pages)
	require.NoError(t, err)
	assert.Len(t, got, 3)
	assert.Equal(t, 1, primary.calls)

	ok := &staticClassifier{sections: []trademark.Section{{Label: "Decision", StartPage: 1, EndPage: 10}}}
	got, err = NewFallbackClassifier(ok, NewHeadingClassifier(nil), nil).Classify(context.Background(), pages)
	require.NoError(t, err)
	assert.Equal(t, "Decision", got[0].Label)
}

func TestNormalizeSections(t *testing.T) {
	pages := make([]trademark.Page, 6)
	for i := range pages {
		pages[i] = trademark.Page{Number: i + 1}
	}
	got := NormalizeSections([]trademark.Section{
		{Label: "Decision", StartPage: 5, EndPage: 9},
		{Label: "Background", StartPage: 2, EndPage: 4},
		{Label: "Duplicate", StartPage: 2, EndPage: 2},
		{Label: " ", StartPage: 3, EndPage: 3},
		{Label: "Beyond", StartPage: 12, EndPage: 14},
	}, pages)
	assert.Equal(t, []trademark.Section{
		{Label: "Background", StartPage: 1, EndPage: 4},
		{Label: "Decision", StartPage: 5, EndPage: 6},
	}, got)

	assert.Nil(t, NormalizeSections(nil, nil))
}

func TestSentenceSpans(t *testing.T) {
	text := `Mr. Smith relied on Sabel v. Puma. The opponent disagreed! "Why?" asked nobody. Section 5(2)(b) applies.`
	var got []string
	for _, sp := range SentenceSpans(text) {
		got = append(got, text[sp[0]:sp[1]])
	}
	assert.Equal(t, []string{
		"Mr. Smith relied on Sabel v. Puma.",
		"The opponent disagreed!",
		`"Why?" asked nobody.`,
		"Section 5(2)(b) applies.",
	}, got)
}

func TestParagraphs(t *testing.T) {
	got := Paragraphs("  first line\nsecond line\n\n\n   \nnext para  \r\n\r\nlast")
	assert.Equal(t, []string{"first line\nsecond line", "next para", "last"}, got)
}

func TestHeadingClassifier_Variants(t *testing.T) {
	c := NewHeadingClassifier(nil)
	pages := []trademark.Page{
		{Number: 1, Text: "DECISION\nsome text"},
		{Number: 2, Text: "Comparison of the marks\n"},
		{Number: 3, Text: "Section 5(2)(b) of the Act\n"},
		{Number: 4, Text: "12. The average consumer and the purchasing act\n"},
		{Number: 5, Text: "COSTS:"},
	}
	got, err := c.Classify(context.Background(), pages)
	require.NoError(t, err)
	labels := make([]string, len(got))
	for i, s := range got {
		labels[i] = s.Label
	}
	assert.Equal(t, []string{"Decision", "Comparison of marks", "Section 5", "Average consumer", "Costs"}, labels)
}

func TestChunker_TwoHeadingsOnOnePage(t *testing.T) {
	pages := []trademark.Page{
		{Number: 1, Text: "Background and pleadings\n\nThe opponent relies on one earlier mark.\n\n" +
			"Comparison of goods and services\n\nThe goods in class 9 are identical."},
		{Number: 2, Text: "Likelihood of confusion\n\nThere is a likelihood of confusion."},
	}
	doc := NewDocument("O/8/24", pages)
	chunks, err := NewChunker(NewHeadingClassifier(nil), 40, nil).Run(context.Background(), doc)
	require.NoError(t, err)

	assert.Equal(t, []trademark.Section{
		{Label: "Background and pleadings", StartPage: 1, EndPage: 1, EndLine: 4},
		{Label: "Comparison of goods and services", StartPage: 1, EndPage: 1, StartLine: 4},
		{Label: "Likelihood of confusion", StartPage: 2, EndPage: 2},
	}, doc.Sections())

	bySection := map[string][]string{}
	for _, c := range chunks {
		bySection[c.SourceSection] = append(bySection[c.SourceSection], c.Text)
	}
	assert.Contains(t, bySection["Comparison of goods and services"], "The goods in class 9 are identical.")
	assert.Contains(t, bySection["Background and pleadings"], "The opponent relies on one earlier mark.")
	assert.NotContains(t, bySection["Background and pleadings"], "The goods in class 9 are identical.")
	assert.Equal(t, NormalizeWhitespace(joinPages(pages)), NormalizeWhitespace(joinChunks(chunks)))
}

func TestNormalizeSections_MidPageBoundaries(t *testing.T) {
	pages := []trademark.Page{{Number: 1}, {Number: 2}, {Number: 3}}
	got := NormalizeSections([]trademark.Section{
		{Label: "Decision", StartPage: 3, StartLine: 6},
		{Label: "Comparison of marks", StartPage: 2, StartLine: 3},
		{Label: "Background", StartPage: 1, StartLine: 2},
		{Label: "Same spot", StartPage: 2, StartLine: 3},
	}, pages)
	assert.Equal(t, []trademark.Section{
		{Label: "Background", StartPage: 1, EndPage: 2, EndLine: 3},
		{Label: "Comparison of marks", StartPage: 2, StartLine: 3, EndPage: 3, EndLine: 6},
		{Label: "Decision", StartPage: 3, StartLine: 6, EndPage: 3},
	}, got)
}

func TestSectionText(t *testing.T) {
	p := trademark.Page{Number: 2, Text: "a\nb\nc\nd"}
	assert.Equal(t, "a\nb\nc\nd", SectionText(p, trademark.Section{StartPage: 1, EndPage: 3}))
	assert.Equal(t, "c\nd", SectionText(p, trademark.Section{StartPage: 2, StartLine: 2, EndPage: 2}))
	assert.Equal(t, "a\nb", SectionText(p, trademark.Section{StartPage: 1, EndPage: 2, EndLine: 2}))
	assert.Equal(t, "b", SectionText(p, trademark.Section{StartPage: 2, StartLine: 1, EndPage: 2, EndLine: 2}))
	assert.Empty(t, SectionText(p, trademark.Section{StartPage: 2, StartLine: 9, EndPage: 2}))
	assert.Empty(t, SectionText(p, trademark.Section{StartPage: 3, EndPage: 4}))
}
