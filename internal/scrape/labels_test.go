package scrape

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScanText_InlineValue(t *testing.T) {
	t.Parallel()

	lines := []string{
		"Objet : Construction d'une école",
		"Lieu d'exécution : Rabat",
	}
	assert.Equal(t, "Construction d'une école", scanText(lines, titleLabelRe))
	assert.Equal(t, "Rabat", scanText(lines, locationLabelRe))
}

func TestScanText_ValueOnFollowingLines(t *testing.T) {
	t.Parallel()

	lines := []string{
		"Objet",
		"Construction",
		"d'une école",
		"Lieu d’exécution : Rabat",
	}
	assert.Equal(t, "Construction d'une école", scanText(lines, titleLabelRe))
}

func TestScanText_ColonOnOwnLine(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "34/BP/2025", scanText([]string{"Référence", ":", "34/BP/2025"}, referenceLabelRe))
	assert.Equal(t, "34/BP/2025", scanText([]string{"Référence", ": 34/BP/2025"}, referenceLabelRe))
}

func TestScanText_LabelAccentAndCaseInsensitive(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "Travaux", scanText([]string{"CATÉGORIE : Travaux"}, categoryLabelRe))
	assert.Equal(t, "Travaux", scanText([]string{"Categorie : Travaux"}, categoryLabelRe))
}

func TestScanText_StopsAtGenericLabel(t *testing.T) {
	t.Parallel()

	lines := []string{
		"Objet",
		"Fourniture de bureau",
		"Qualification requise : oui",
	}
	assert.Equal(t, "Fourniture de bureau", scanText(lines, titleLabelRe))
}

func TestScanText_StopsAtBlankLine(t *testing.T) {
	t.Parallel()

	lines := []string{"Objet", "Achat de matériel", "", "Mentions légales"}
	assert.Equal(t, "Achat de matériel", scanText(lines, titleLabelRe))
}

func TestScanText_MissingLabel(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "", scanText([]string{"Rien à voir"}, titleLabelRe))
	assert.Equal(t, "", scanText(nil, titleLabelRe))
}

func TestScanMoney_SkipsNonAmounts(t *testing.T) {
	t.Parallel()

	lines := []string{"Estimation :", "voir ci-dessous", "12 000,00"}
	assert.Equal(t, "12 000,00", scanMoney(lines, lotEstimationRe, false))
}

func TestScanMoney_ParentheticalAndAssumedCurrency(t *testing.T) {
	t.Parallel()

	lines := []string{"Estimation (en Dhs TTC) : 400 200,00"}
	assert.Equal(t, "400 200,00 DH", scanMoney(lines, estimationLabelRe, true))

	bare := []string{"Caution provisoire", "5000"}
	assert.Equal(t, "5000 DH", scanMoney(bare, cautionLabelRe, true))
	assert.Equal(t, "", scanMoney(bare, cautionLabelRe, false))
}

func TestScanMoney_DoesNotStealNextLabel(t *testing.T) {
	t.Parallel()

	lines := []string{
		"Estimation",
		"Caution provisoire : 500,00",
		"Estimation : 1 000,00",
	}
	assert.Equal(t, "1 000,00", scanMoney(lines, lotEstimationRe, false))
	assert.Equal(t, "500,00", scanMoney(lines, lotCautionRe, false))
}

func TestScanMoney_StopsAtLotHeader(t *testing.T) {
	t.Parallel()

	lines := []string{"Estimation", "Lot 2", "100,00"}
	assert.Equal(t, "", scanMoney(lines, lotEstimationRe, false))
}

func TestScanMoney_Window(t *testing.T) {
	t.Parallel()

	lines := []string{"Estimation"}
	for range maxValueLines {
		lines = append(lines, "texte")
	}
	lines = append(lines, "1 000,00")
	assert.Equal(t, "", scanMoney(lines, lotEstimationRe, false))
}

func TestInlineValue(t *testing.T) {
	t.Parallel()

	tests := []struct {
		rest string
		want string
		ok   bool
	}{
		{" : 12", "12", true},
		{"(en Dhs TTC) : 400 200,00", "400 200,00", true},
		{" de la consultation : 34/BP/2025", "34/BP/2025", true},
		{" 20/01/2025 10:00", "20/01/2025 10:00", true},
		{" :", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := inlineValue(tt.rest)
		assert.Equal(t, tt.ok, ok, tt.rest)
		assert.Equal(t, tt.want, got, tt.rest)
	}
}
