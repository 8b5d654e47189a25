package consolidation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/Opposition-Intelligence/pkg/types/trademark"
)

func TestMajorityVote(t *testing.T) {
	tests := []struct {
		name       string
		passes     []map[string]string
		want       string
		unresolved bool
		votes      int
	}{
		{
			name:   "unanimous",
			passes: []map[string]string{{"f": "a"}, {"f": "a"}, {"f": "a"}},
			want:   "a", votes: 3,
		},
		{
			name:   "simple majority",
			passes: []map[string]string{{"f": "a"}, {"f": "b"}, {"f": "a"}, {"f": "c"}, {"f": "a"}},
			want:   "a", votes: 3,
		},
		{
			name:   "plurality without absolute majority",
			passes: []map[string]string{{"f": "a"}, {"f": "a"}, {"f": "b"}, {"f": "c"}, {"f": "d"}},
			want:   "a", votes: 2,
		},
		{
			name:       "two-way tie",
			passes:     []map[string]string{{"f": "a"}, {"f": "b"}, {"f": "a"}, {"f": "b"}},
			unresolved: true, votes: 2,
		},
		{
			name:       "all distinct",
			passes:     []map[string]string{{"f": "a"}, {"f": "b"}, {"f": "c"}},
			unresolved: true, votes: 1,
		},
		{
			name:       "all empty",
			passes:     []map[string]string{{}, {"f": ""}, {}},
			unresolved: true,
		},
		{
			name:   "empty values do not vote",
			passes: []map[string]string{{"f": "a"}, {}, {"f": ""}},
			want:   "a", votes: 1,
		},
		{
			name:       "no passes",
			passes:     nil,
			unresolved: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MajorityVote(tt.passes, []string{"f"})
			require.Contains(t, got, "f")
			fv := got["f"]
			assert.Equal(t, tt.unresolved, fv.Unresolved)
			assert.Equal(t, tt.want, fv.Value)
			assert.Equal(t, tt.votes, fv.Votes)
			assert.Equal(t, len(tt.passes), fv.Passes)
		})
	}
}

func TestMajorityVote_OrderIndependent(t *testing.T) {
	a := []map[string]string{
		{"outcome": "successful", "jurisdiction": "UKIPO"},
		{"outcome": "unsuccessful", "jurisdiction": "UKIPO"},
		{"outcome": "successful", "jurisdiction": "EUIPO"},
	}
	b := []map[string]string{a[2], a[0], a[1]}
	fields := []string{"outcome", "jurisdiction"}
	assert.Equal(t, MajorityVote(a, fields), MajorityVote(b, fields))
}

func TestMajorityVote_UsesCaseExtractionFields(t *testing.T) {
	yes := true
	passes := make([]map[string]string, 0, 5)
	for i := 0; i < 5; i++ {
		ex := trademark.CaseExtraction{
			CaseReference:         "O/0123/24",
			LikelihoodOfConfusion: &yes,
			GroundsForOpposition:  []string{"5(2)(b)", "5(3)"},
		}
		if i%2 == 0 {
			ex.GroundsForOpposition = []string{"5(3)", "5(2)(b)"}
		}
		if i < 2 {
			ex.OppositionOutcome = "successful"
		} else if i < 4 {
			ex.OppositionOutcome = "unsuccessful"
		}
		passes = append(passes, ex.Fields())
	}

	got := MajorityVote(passes, trademark.CaseFieldNames)
	assert.Equal(t, "O/0123/24", got["case_reference"].Value)
	assert.Equal(t, "true", got["likelihood_of_confusion"].Value)
	assert.Equal(t, 5, got["grounds_for_opposition"].Votes)
	assert.True(t, got["opposition_outcome"].Unresolved)
	assert.True(t, got["decision_date"].Unresolved)
	assert.Len(t, got, len(trademark.CaseFieldNames))
	assert.Equal(t, len(trademark.CaseFieldNames)-3, UnresolvedCount(got))
}
