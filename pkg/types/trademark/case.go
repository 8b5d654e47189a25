package trademark

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ProcessingState is the lifecycle state of a CaseDocument.
type ProcessingState string

const (
	StateReceived  ProcessingState = "received"
	StateSectioned ProcessingState = "sectioned"
	StateChunked   ProcessingState = "chunked"
	StateDone      ProcessingState = "done"
	StateFailed    ProcessingState = "failed"
)

// Jurisdiction of a decision.
type Jurisdiction string

const (
	JurisdictionUKIPO Jurisdiction = "UKIPO"
	JurisdictionEUIPO Jurisdiction = "EUIPO"
)

// GoodsServicesClass groups terms under one NICE class.
type GoodsServicesClass struct {
	Class int      `json:"class"`
	Terms []string `json:"terms"`
}

// PartyMark is a mark relied upon or applied for in a decision.
type PartyMark struct {
	Mark          string               `json:"mark"`
	MarkType      string               `json:"mark_type,omitempty"`
	GoodsServices []GoodsServicesClass `json:"goods_services,omitempty"`
}

// CitedPrecedent is a case cited in a decision.
type CitedPrecedent struct {
	CaseName      string `json:"case_name"`
	CaseReference string `json:"case_reference"`
}

// CaseExtraction is one structured-extraction pass over a decision.
type CaseExtraction struct {
	CaseReference            string           `json:"case_reference"`
	DecisionDate             string           `json:"decision_date"`
	DecisionMaker            string           `json:"decision_maker"`
	Jurisdiction             string           `json:"jurisdiction"`
	ApplicationNumber        string           `json:"application_number"`
	ApplicantName            string           `json:"applicant_name"`
	OpponentName             string           `json:"opponent_name"`
	ApplicantMarks           []PartyMark      `json:"applicant_marks"`
	OpponentMarks            []PartyMark      `json:"opponent_marks"`
	GroundsForOpposition     []string         `json:"grounds_for_opposition"`
	ProofOfUseRequested      *bool            `json:"proof_of_use_requested"`
	VisualSimilarity         string           `json:"visual_similarity"`
	AuralSimilarity          string           `json:"aural_similarity"`
	ConceptualSimilarity     string           `json:"conceptual_similarity"`
	DistinctiveCharacter     string           `json:"distinctive_character"`
	AverageConsumerAttention string           `json:"average_consumer_attention"`
	LikelihoodOfConfusion    *bool            `json:"likelihood_of_confusion"`
	ConfusionType            string           `json:"confusion_type"`
	OppositionOutcome        string           `json:"opposition_outcome"`
	PrecedentsCited          []CitedPrecedent `json:"precedents_cited"`
}

// Field names produced by CaseExtraction.Fields, in a stable order.
var CaseFieldNames = []string{
	"case_reference", "decision_date", "decision_maker", "jurisdiction",
	"application_number", "applicant_name", "opponent_name",
	"applicant_marks", "opponent_marks", "grounds_for_opposition",
	"proof_of_use_requested", "visual_similarity", "aural_similarity",
	"conceptual_similarity", "distinctive_character", "average_consumer_attention",
	"likelihood_of_confusion", "confusion_type", "opposition_outcome", "precedents_cited",
}

// Fields flattens the extraction into canonical strings so that passes can
// be compared field by field. Empty values are omitted; lists are sorted so
// that ordering differences between passes do not split the vote.
func (c *CaseExtraction) Fields() map[string]string {
	out := make(map[string]string, len(CaseFieldNames))
	put := func(k, v string) {
		v = strings.TrimSpace(v)
		if v != "" {
			out[k] = v
		}
	}
	putBool := func(k string, b *bool) {
		if b != nil {
			out[k] = strconv.FormatBool(*b)
		}
	}
	putJSON := func(k string, v interface{}, n int) {
		if n == 0 {
			return
		}
		if b, err := json.Marshal(v); err == nil {
			out[k] = string(b)
		}
	}

	put("case_reference", c.CaseReference)
	put("decision_date", c.DecisionDate)
	put("decision_maker", c.DecisionMaker)
	put("jurisdiction", strings.ToUpper(c.Jurisdiction))
	put("application_number", c.ApplicationNumber)
	put("applicant_name", c.ApplicantName)
	put("opponent_name", c.OpponentName)
	putJSON("applicant_marks", c.ApplicantMarks, len(c.ApplicantMarks))
	putJSON("opponent_marks", c.OpponentMarks, len(c.OpponentMarks))

	grounds := append([]string(nil), c.GroundsForOpposition...)
	sort.Strings(grounds)
	putJSON("grounds_for_opposition", grounds, len(grounds))

	putBool("proof_of_use_requested", c.ProofOfUseRequested)
	put("visual_similarity", strings.ToLower(c.VisualSimilarity))
	put("aural_similarity", strings.ToLower(c.AuralSimilarity))
	put("conceptual_similarity", strings.ToLower(c.ConceptualSimilarity))
	put("distinctive_character", strings.ToLower(c.DistinctiveCharacter))
	put("average_consumer_attention", strings.ToLower(c.AverageConsumerAttention))
	putBool("likelihood_of_confusion", c.LikelihoodOfConfusion)
	put("confusion_type", strings.ToLower(c.ConfusionType))
	put("opposition_outcome", strings.ToLower(c.OppositionOutcome))

	precedents := append([]CitedPrecedent(nil), c.PrecedentsCited...)
	sort.Slice(precedents, func(i, j int) bool {
		return precedents[i].CaseReference < precedents[j].CaseReference
	})
	putJSON("precedents_cited", precedents, len(precedents))
	return out
}

// FieldValue is a consolidated field. Unresolved fields carry no value.
type FieldValue struct {
	Value      string `json:"value,omitempty"`
	Votes      int    `json:"votes"`
	Passes     int    `json:"passes"`
	Unresolved bool   `json:"unresolved,omitempty"`
}

// CaseRecord is the persisted structured record of a decision.
type CaseRecord struct {
	CaseReference   string                `json:"case_reference"`
	DocumentID      string                `json:"document_id"`
	SourceBucket    string                `json:"source_bucket"`
	SourceObject    string                `json:"source_object"`
	ProcessedObject string                `json:"processed_object"`
	State           ProcessingState       `json:"processing_state"`
	Generation      int64                 `json:"generation"`
	PageCount       int                   `json:"page_count"`
	ChunkCount      int                   `json:"chunk_count"`
	Fields          map[string]FieldValue `json:"fields"`
	CreatedAt       time.Time             `json:"created_at"`
	UpdatedAt       time.Time             `json:"updated_at"`
}

// Field returns the resolved value of name, or "" when absent or unresolved.
func (r *CaseRecord) Field(name string) string {
	if r == nil {
		return ""
	}
	fv, ok := r.Fields[name]
	if !ok || fv.Unresolved {
		return ""
	}
	return fv.Value
}

// UnresolvedFields lists field names that could not be consolidated.
func (r *CaseRecord) UnresolvedFields() []string {
	var out []string
	for k, v := range r.Fields {
		if v.Unresolved {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

// CitedReferences decodes the consolidated precedents_cited field.
func (r *CaseRecord) CitedReferences() []CitedPrecedent {
	raw := r.Field("precedents_cited")
	if raw == "" {
		return nil
	}
	var out []CitedPrecedent
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil
	}
	return out
}
