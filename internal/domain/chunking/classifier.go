package chunking

import (
	"context"
	"regexp"
	"sort"
	"strings"

	"github.com/turtacn/Opposition-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/Opposition-Intelligence/pkg/types/trademark"
)

// WholeDocumentLabel labels the single section used when no structure is found.
const WholeDocumentLabel = "document"

// SectionClassifier identifies the major sections of a decision.
type SectionClassifier interface {
	Classify(ctx context.Context, pages []trademark.Page) ([]trademark.Section, error)
}

// SectionOracle is the slice of the oracle used for layout classification.
type SectionOracle interface {
	ClassifySections(ctx context.Context, pages []trademark.Page) ([]trademark.Section, error)
}

// OracleClassifier delegates classification to the oracle.
type OracleClassifier struct {
	oracle SectionOracle
}

// NewOracleClassifier returns a classifier backed by o.
func NewOracleClassifier(o SectionOracle) *OracleClassifier {
	return &OracleClassifier{oracle: o}
}

func (c *OracleClassifier) Classify(ctx context.Context, pages []trademark.Page) ([]trademark.Section, error) {
	return c.oracle.ClassifySections(ctx, pages)
}

// Heading is a recognised decision heading.
type Heading struct {
	Label   string
	Pattern *regexp.Regexp
}

func heading(label, pattern string) Heading {
	return Heading{Label: label, Pattern: regexp.MustCompile(`(?i)^\s*(?:\d+[.)]?\s+|[A-Z][.)]\s+)?` + pattern + `\s*:?\s*$`)}
}

// DefaultHeadings are the headings of UK IPO opposition decisions.
var DefaultHeadings = []Heading{
	heading("Background and pleadings", `background(?:\s+(?:and|&)\s+pleadings)?`),
	heading("Opponent's evidence", `(?:the\s+)?opponent['’]?s\s+evidence`),
	heading("Applicant's evidence", `(?:the\s+)?applicant['’]?s\s+evidence`),
	heading("Evidence", `evidence(?:\s+summary)?`),
	heading("Relevant statutory provision", `(?:the\s+)?relevant\s+statutory\s+provisions?`),
	heading("Proof of use", `proof\s+of\s+use`),
	heading("Comparison of goods and services", `comparison\s+of\s+(?:the\s+)?goods(?:\s+(?:and|&|/)\s+services)?`),
	heading("Average consumer", `(?:the\s+)?average\s+consumer(?:\s+and\s+the\s+purchasing\s+(?:process|act))?`),
	heading("Comparison of marks", `comparison\s+of\s+(?:the\s+)?(?:trade\s+)?marks`),
	heading("Distinctive character of the earlier mark", `distinctive(?:ness|\s+character)\s+of\s+the\s+earlier\s+marks?`),
	heading("Likelihood of confusion", `likelihood\s+of\s+confusion`),
	heading("Section 5", `section\s+5\s*\(\s*\d\s*\)(?:\s*\(\s*[a-z]\s*\))?.*`),
	heading("Conclusion", `(?:overall\s+)?conclusions?`),
	heading("Decision", `decision`),
	heading("Costs", `costs`),
}

// HeadingClassifier finds sections by matching heading lines.
type HeadingClassifier struct {
	headings []Heading
}

// NewHeadingClassifier returns a classifier over headings, or the defaults when nil.
func NewHeadingClassifier(headings []Heading) *HeadingClassifier {
	if headings == nil {
		headings = DefaultHeadings
	}
	return &HeadingClassifier{headings: headings}
}

func (c *HeadingClassifier) Classify(_ context.Context, pages []trademark.Page) ([]trademark.Section, error) {
	var out []trademark.Section
	for _, p := range pages {
		for i, line := range strings.Split(p.Text, "\n") {
			if len(line) > 120 {
				continue
			}
			for _, h := range c.headings {
				if h.Pattern.MatchString(line) {
					out = append(out, trademark.Section{Label: h.Label, StartPage: p.Number, EndPage: p.Number, StartLine: i})
					break
				}
			}
		}
	}
	return out, nil
}

// FallbackClassifier tries primary and falls back to secondary when primary
// errors or finds nothing.
type FallbackClassifier struct {
	primary   SectionClassifier
	secondary SectionClassifier
	logger    logging.Logger
}

// NewFallbackClassifier composes two classifiers.
func NewFallbackClassifier(primary, secondary SectionClassifier, logger logging.Logger) *FallbackClassifier {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &FallbackClassifier{primary: primary, secondary: secondary, logger: logger}
}

func (c *FallbackClassifier) Classify(ctx context.Context, pages []trademark.Page) ([]trademark.Section, error) {
	sections, err := c.primary.Classify(ctx, pages)
	if err == nil && len(sections) > 0 {
		return sections, nil
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		c.logger.Warn("section classifier failed, using fallback", logging.Err(err))
	}
	return c.secondary.Classify(ctx, pages)
}

// NormalizeSections turns raw classifier output into an ordered partition of
// the document's lines. Sections are sorted by start page and start line; the
// first section is extended back to the top of the first page; each section
// ends where the next one starts, mid-page when the next one opens below the
// first line; later sections starting at an already claimed position are
// dropped. Zero usable sections yields one WholeDocumentLabel section.
func NormalizeSections(raw []trademark.Section, pages []trademark.Page) []trademark.Section {
	if len(pages) == 0 {
		return nil
	}
	first, last := pages[0].Number, pages[len(pages)-1].Number

	valid := make([]trademark.Section, 0, len(raw))
	for _, s := range raw {
		label := strings.TrimSpace(s.Label)
		if label == "" || s.StartPage > last || (s.EndPage != 0 && s.EndPage < first) {
			continue
		}
		if s.StartPage < first || s.StartLine < 0 {
			s.StartLine = 0
		}
		if s.StartPage < first {
			s.StartPage = first
		}
		s.Label = label
		s.EndLine = 0
		valid = append(valid, s)
	}
	if len(valid) == 0 {
		return []trademark.Section{{Label: WholeDocumentLabel, StartPage: first, EndPage: last}}
	}
	sort.SliceStable(valid, func(i, j int) bool {
		if valid[i].StartPage != valid[j].StartPage {
			return valid[i].StartPage < valid[j].StartPage
		}
		return valid[i].StartLine < valid[j].StartLine
	})

	out := make([]trademark.Section, 0, len(valid))
	for _, s := range valid {
		if n := len(out); n > 0 && out[n-1].StartPage == s.StartPage && out[n-1].StartLine == s.StartLine {
			continue
		}
		out = append(out, s)
	}
	out[0].StartPage, out[0].StartLine = first, 0
	for i := range out {
		switch {
		case i+1 == len(out):
			out[i].EndPage, out[i].EndLine = last, 0
		case out[i+1].StartLine > 0:
			out[i].EndPage, out[i].EndLine = out[i+1].StartPage, out[i+1].StartLine
		default:
			out[i].EndPage, out[i].EndLine = out[i+1].StartPage-1, 0
		}
	}
	return out
}

// SectionText returns the part of page p that belongs to sec. Line numbers
// index strings.Split(p.Text, "\n").
func SectionText(p trademark.Page, sec trademark.Section) string {
	if p.Number < sec.StartPage || p.Number > sec.EndPage {
		return ""
	}
	if (p.Number != sec.StartPage || sec.StartLine <= 0) && (p.Number != sec.EndPage || sec.EndLine <= 0) {
		return p.Text
	}
	lines := strings.Split(p.Text, "\n")
	lo, hi := 0, len(lines)
	if p.Number == sec.StartPage && sec.StartLine > 0 {
		lo = min(sec.StartLine, len(lines))
	}
	if p.Number == sec.EndPage && sec.EndLine > 0 {
		hi = min(sec.EndLine, len(lines))
	}
	if lo >= hi {
		return ""
	}
	return strings.Join(lines[lo:hi], "\n")
}
