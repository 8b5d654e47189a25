package gemini

import (
	"github.com/google/generative-ai-go/genai"

	"github.com/turtacn/Opposition-Intelligence/pkg/types/trademark"
)

func degreeNames(withNeutral bool) []string {
	out := make([]string, 0, len(trademark.Degrees)+1)
	for _, d := range trademark.Degrees {
		out = append(out, string(d))
	}
	if withNeutral {
		out = append(out, string(trademark.DegreeNeutral))
	}
	return out
}

func outcomeNames() []string {
	return []string{
		string(trademark.OutcomeLikelySucceed),
		string(trademark.OutcomeMayPartiallySucceed),
		string(trademark.OutcomeLikelyFail),
	}
}

func str() *genai.Schema { return &genai.Schema{Type: genai.TypeString} }

func enum(values []string) *genai.Schema {
	return &genai.Schema{Type: genai.TypeString, Enum: values}
}

func object(props map[string]*genai.Schema, required ...string) *genai.Schema {
	return &genai.Schema{Type: genai.TypeObject, Properties: props, Required: required}
}

func array(items *genai.Schema) *genai.Schema {
	return &genai.Schema{Type: genai.TypeArray, Items: items}
}

var (
	scoreSchema = &genai.Schema{Type: genai.TypeNumber, Description: "between 0 and 1"}

	conceptualSchema = object(map[string]*genai.Schema{
		"score":     scoreSchema,
		"degree":    enum(degreeNames(true)),
		"reasoning": str(),
	}, "score", "degree", "reasoning")

	overallSchema = object(map[string]*genai.Schema{
		"score":     scoreSchema,
		"degree":    enum(degreeNames(false)),
		"reasoning": str(),
	}, "score", "degree", "reasoning")

	goodsSchema = object(map[string]*genai.Schema{
		"similarity_score":        scoreSchema,
		"similarity":              enum(degreeNames(false)),
		"is_competitive":          {Type: genai.TypeBoolean},
		"is_complementary":        {Type: genai.TypeBoolean},
		"likelihood_of_confusion": {Type: genai.TypeBoolean},
		"confusion_type": {
			Type:     genai.TypeString,
			Enum:     []string{string(trademark.ConfusionDirect), string(trademark.ConfusionIndirect), string(trademark.ConfusionBoth)},
			Nullable: true,
		},
		"reasoning": str(),
	}, "similarity_score", "similarity", "is_competitive", "is_complementary", "likelihood_of_confusion", "reasoning")

	outcomeSchema = object(map[string]*genai.Schema{
		"result":    enum(outcomeNames()),
		"reasoning": str(),
	}, "result", "reasoning")

	sectionsSchema = object(map[string]*genai.Schema{
		"sections": array(object(map[string]*genai.Schema{
			"label":      str(),
			"start_page": {Type: genai.TypeInteger},
			"end_page":   {Type: genai.TypeInteger},
		}, "label", "start_page", "end_page")),
	}, "sections")

	partyMarkSchema = object(map[string]*genai.Schema{
		"mark":      str(),
		"mark_type": str(),
		"goods_services": array(object(map[string]*genai.Schema{
			"class": {Type: genai.TypeInteger},
			"terms": array(str()),
		})),
	}, "mark")

	nullableBool = &genai.Schema{Type: genai.TypeBoolean, Nullable: true}

	extractionSchema = object(map[string]*genai.Schema{
		"case_reference":             str(),
		"decision_date":              str(),
		"decision_maker":             str(),
		"jurisdiction":               enum([]string{string(trademark.JurisdictionUKIPO), string(trademark.JurisdictionEUIPO)}),
		"application_number":         str(),
		"applicant_name":             str(),
		"opponent_name":              str(),
		"applicant_marks":            array(partyMarkSchema),
		"opponent_marks":             array(partyMarkSchema),
		"grounds_for_opposition":     array(str()),
		"proof_of_use_requested":     nullableBool,
		"visual_similarity":          str(),
		"aural_similarity":           str(),
		"conceptual_similarity":      str(),
		"distinctive_character":      str(),
		"average_consumer_attention": str(),
		"likelihood_of_confusion":    nullableBool,
		"confusion_type":             str(),
		"opposition_outcome":         str(),
		"precedents_cited": array(object(map[string]*genai.Schema{
			"case_name":      str(),
			"case_reference": str(),
		})),
	}, "case_reference", "jurisdiction", "opposition_outcome")
)
