package scoring

import (
	"strings"
	"testing"

	"github.com/antzucaro/matchr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/Opposition-Intelligence/pkg/types/trademark"
)

var markPairs = [][2]string{
	{"COCACOLA", "COCACOLA"},
	{"COCACOLA", "PEPSI"},
	{"COCACOLA", "cocacola"},
	{"KRISPY", "CRISPY"},
	{"PHONE", "FONE"},
	{"", ""},
	{"", "ACME"},
	{"Ächtung", "Achtung"},
	{"BLUE SKY", "BLUESKY"},
	{"123", "124"},
	{"ZARA", "SARA"},
}

func TestVisualScore_Identity(t *testing.T) {
	for _, p := range markPairs {
		assert.Equal(t, 1.0, VisualScore(p[0], p[0]), p[0])
		assert.Equal(t, 1.0, VisualScore(p[1], p[1]), p[1])
	}
}

func TestAuralScore_Identity(t *testing.T) {
	for _, p := range markPairs {
		assert.Equal(t, 1.0, AuralScore(p[0], p[0]), p[0])
		assert.Equal(t, 1.0, AuralScore(p[1], p[1]), p[1])
	}
}

func TestScores_Symmetric(t *testing.T) {
	for _, p := range markPairs {
		assert.Equal(t, VisualScore(p[0], p[1]), VisualScore(p[1], p[0]), "visual %v", p)
		assert.Equal(t, AuralScore(p[0], p[1]), AuralScore(p[1], p[0]), "aural %v", p)
	}
}

func TestScores_InRange(t *testing.T) {
	for _, p := range markPairs {
		for _, s := range []float64{VisualScore(p[0], p[1]), AuralScore(p[0], p[1])} {
			assert.GreaterOrEqual(t, s, 0.0)
			assert.LessOrEqual(t, s, 1.0)
		}
	}
}

func TestVisualScore_EmptyInputs(t *testing.T) {
	assert.Equal(t, 1.0, VisualScore("", ""))
	assert.Equal(t, 0.0, VisualScore("", "ACME"))
	assert.Equal(t, 0.0, VisualScore("ACME", ""))
}

func TestVisualScore_CaseSensitive(t *testing.T) {
	assert.Equal(t, 0.0, VisualScore("COCACOLA", "cocacola"))
	assert.Less(t, VisualScore("Acme", "ACME"), 1.0)
}

func TestVisualScore_CountsRunes(t *testing.T) {
	// one substitution over seven runes
	assert.InDelta(t, 1-1.0/7.0, VisualScore("Ächtung", "Achtung"), 1e-9)
}

func TestScenario_CocaCola(t *testing.T) {
	th := DefaultThresholds()

	same := VisualScore("COCACOLA", "COCACOLA")
	assert.Equal(t, 1.0, same)
	assert.Equal(t, trademark.DegreeIdentical, th.Degree(same))

	diff := VisualScore("COCACOLA", "PEPSI")
	assert.Less(t, diff, DefaultLowThreshold)
	assert.Contains(t,
		[]trademark.SimilarityDegree{trademark.DegreeDissimilar, trademark.DegreeLow},
		th.Degree(diff))
}

func TestAuralScore_SoundAlikes(t *testing.T) {
	assert.Equal(t, 1.0, AuralScore("PHONE", "FONE"))
	assert.Greater(t, AuralScore("PHONE", "FONE"), VisualScore("PHONE", "FONE"))
}

func TestAuralScore_DigitsFallBackToVisual(t *testing.T) {
	assert.Empty(t, PhoneticCodes("123"))
	assert.Equal(t, VisualScore("123", "124"), AuralScore("123", "124"))
	assert.Equal(t, 0.0, AuralScore("123", "ACME"))
}

func TestPhoneticCodes_MultiWord(t *testing.T) {
	codes := PhoneticCodes("BLUE SKY")
	require.NotEmpty(t, codes)
	for _, c := range codes {
		assert.Contains(t, c, " ")
	}
}

func TestPhoneticCodes_MixesCodesAcrossWords(t *testing.T) {
	p1, a1 := matchr.DoubleMetaphone("Smith")
	p2, a2 := matchr.DoubleMetaphone("Schmidt")
	require.NotEqual(t, p1, a1)
	require.NotEqual(t, p2, a2)

	codes := PhoneticCodes("Smith Schmidt")
	assert.ElementsMatch(t, []string{
		p1 + " " + p2, p1 + " " + a2, a1 + " " + p2, a1 + " " + a2,
	}, codes)
	assert.Equal(t, p1+" "+p2, codes[0])
}

func TestAuralScore_PerWordCodeMix(t *testing.T) {
	// Smith encodes to SM0/XMT and Schmidt to XMT/SMT, so "SM0 XMT" is
	// reachable from both marks only by mixing primary and alternate codes.
	assert.Equal(t, 1.0, AuralScore("Smith Schmidt", "Smith Smith"))
	assert.Equal(t, 1.0, AuralScore("Smith Smith", "Smith Schmidt"))
}

func TestPhoneticCodes_CombinationCap(t *testing.T) {
	mark := strings.TrimSpace(strings.Repeat("Smith ", 12))
	codes := PhoneticCodes(mark)
	assert.LessOrEqual(t, len(codes), MaxCodeCombinations+1)

	p, a := matchr.DoubleMetaphone("Smith")
	assert.Equal(t, strings.TrimSpace(strings.Repeat(p+" ", 12)), codes[0])
	assert.Contains(t, codes, strings.TrimSpace(strings.Repeat(a+" ", 12)))
}
