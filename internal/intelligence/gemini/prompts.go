package gemini

import (
	"bytes"
	"fmt"
	"strings"
	"sync"
	"text/template"

	"github.com/turtacn/Opposition-Intelligence/pkg/errors"
)

// Template names.
const (
	TmplSystem     = "system"
	TmplConceptual = "conceptual"
	TmplOverall    = "overall"
	TmplGoods      = "goods_services"
	TmplOutcome    = "outcome"
	TmplSections   = "sections"
	TmplExtract    = "extract"
)

// Prompts renders the prompt templates. Templates may be overridden at
// runtime through Register.
type Prompts struct {
	mu        sync.RWMutex
	templates map[string]*template.Template
	funcMap   template.FuncMap
}

// NewPrompts parses the built-in templates.
func NewPrompts() (*Prompts, error) {
	p := &Prompts{templates: make(map[string]*template.Template), funcMap: defaultFuncMap()}
	for name, raw := range builtinTemplates {
		if err := p.Register(name, raw); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// Register parses tmpl under name, replacing any previous template.
func (p *Prompts) Register(name, tmpl string) error {
	if name == "" {
		return errors.InvalidInput("template name is required")
	}
	if strings.TrimSpace(tmpl) == "" {
		return errors.InvalidInput("template body is required")
	}
	parsed, err := template.New(name).Funcs(p.funcMap).Option("missingkey=error").Parse(tmpl)
	if err != nil {
		return fmt.Errorf("parsing template %q: %w", name, err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.templates[name] = parsed
	return nil
}

// Render executes the named template with data.
func (p *Prompts) Render(name string, data interface{}) (string, error) {
	p.mu.RLock()
	t, ok := p.templates[name]
	p.mu.RUnlock()
	if !ok {
		return "", errors.InvalidInput(fmt.Sprintf("template %q not found", name))
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("rendering template %q: %w", name, err)
	}
	return strings.TrimSpace(buf.String()), nil
}

var builtinTemplates = map[string]string{
	TmplSystem: `You are an expert in UK and EU trademark opposition law. You assess marks and goods
and services the way a hearing officer of the UK IPO or an EUIPO Opposition Division would.
Answer only with JSON matching the requested schema. Use objective legal language.`,

	TmplConceptual: `Analyse the conceptual similarity between two trademarks.
1. "{{.ApplicantMark}}"
2. "{{.OpponentMark}}"
{{- if .ImageRef}}
The applicant's mark is figurative; the attached image shows it.
{{- end}}

Consider meanings, connotations and the overall ideas the marks evoke for the average consumer.
If neither mark conveys any concept, answer with degree "neutral".
Return a score between 0 and 1, a degree (one of {{join .Degrees ", "}}) and a brief reasoning.`,

	TmplOverall: `Give a global assessment of the similarity of two trademarks.
Applicant's mark: "{{.ApplicantMark}}"
Opponent's mark: "{{.OpponentMark}}"

Sub-assessments:
- Visual: {{.Visual}} (score {{printf "%.2f" .VisualScore}})
- Aural: {{.Aural}} (score {{printf "%.2f" .AuralScore}})
- Conceptual: {{.Conceptual}} (score {{printf "%.2f" .ConceptualScore}})
{{- if .ConceptualNotes}}
Conceptual notes: {{truncate 800 .ConceptualNotes}}
{{- end}}

Weigh the dominant and distinctive elements and the imperfect recollection of the average consumer.
Return a score between 0 and 1, a degree (one of {{join .Degrees ", "}}) and a brief reasoning.`,

	TmplGoods: `Assess the similarity of a pair of goods or services terms.
{{- if .Examples}}

Relevant comparisons from decided cases:
{{formatList .Examples}}
{{- end}}

Applicant's term: "{{.ApplicantTerm.Term}}" (Class {{.ApplicantTerm.NiceClass}})
{{- if .ApplicantTerm.Description}} {{.ApplicantTerm.Description}}{{end}}
Opponent's term: "{{.OpponentTerm.Term}}" (Class {{.OpponentTerm.NiceClass}})
{{- if .OpponentTerm.Description}} {{.OpponentTerm.Description}}{{end}}

The marks were found to be of {{.MarkSimilarity.Overall}} overall similarity (score {{printf "%.2f" .MarkSimilarity.OverallScore}}).

Consider nature, purpose, method of use, trade channels, competition and complementarity.
Decide whether there is a likelihood of confusion for this pair. When there is, set confusion_type
to "direct", "indirect" or "both"; otherwise set it to null.`,

	TmplOutcome: `Predict the outcome of a trademark opposition.

Mark similarity: {{.MarkSimilarity.Overall}} (score {{printf "%.2f" .MarkSimilarity.OverallScore}})
Reasoning: {{truncate 1200 .MarkSimilarity.Reasoning}}
{{- if .Distinctiveness}}
Distinctive character of the earlier mark: {{.Distinctiveness}}
{{- end}}

Goods and services comparisons:
{{- range .GsSimilarity}}
- "{{.ApplicantTerm}}" vs "{{.OpponentTerm}}": {{.Similarity}} (score {{printf "%.2f" .SimilarityScore}}), confusion: {{.LikelihoodOfConfusion}}
{{- end}}

Statistics: {{.Statistics.ConfusedPairs}} of {{.Statistics.TotalPairs}} pairs confused ({{printf "%.1f" .Statistics.ConfusionPercent}}%).

Return result as one of {{join .Results ", "}} with a reasoning.`,

	TmplSections: `Below is the page-indexed text of a trademark opposition decision. Identify its sections
(for example Background and pleadings, Comparison of goods and services, Comparison of marks,
Likelihood of confusion, Conclusion, Costs). For each section give its label and its first and last
page. Sections must not overlap.
{{range .Pages}}
<page number="{{.Number}}">
{{truncate 4000 .Text}}
</page>
{{- end}}`,

	TmplExtract: `Extract the structured record of the trademark opposition decision below.
Use the exact wording of the decision for names and terms. Similarity degrees must be one of
{{join .Degrees ", "}}. Leave a field empty when the decision does not state it.
{{range .Pages}}
<page number="{{.Number}}">
{{.Text}}
</page>
{{- end}}`,
}

func defaultFuncMap() template.FuncMap {
	return template.FuncMap{
		"join":       strings.Join,
		"upper":      strings.ToUpper,
		"truncate":   templateTruncate,
		"formatList": templateFormatList,
	}
}

func templateTruncate(maxLen int, s string) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}

func templateFormatList(items []string) string {
	var b strings.Builder
	for i, item := range items {
		fmt.Fprintf(&b, "  %d. %s\n", i+1, item)
	}
	return b.String()
}
