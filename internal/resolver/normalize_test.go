package resolver

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeName_Empty(t *testing.T) {
	assert.Equal(t, "", NormalizeName(""))
	assert.Equal(t, "", NormalizeName("   "))
}

func TestNormalizeName_Lowercase(t *testing.T) {
	assert.Equal(t, "arsenal", NormalizeName("Arsenal"))
	assert.Equal(t, "real madrid", NormalizeName("REAL MADRID"))
}

func TestNormalizeName_Diacritics(t *testing.T) {
	assert.Equal(t, "atletico madrid", NormalizeName("Atlético Madrid"))
	assert.Equal(t, "sao paulo", NormalizeName("São Paulo"))
	assert.Equal(t, "bayern munchen", NormalizeName("Bayern München"))
}

func TestNormalizeName_Punctuation(t *testing.T) {
	assert.Equal(t, "brighton and hove albion", NormalizeName("Brighton & Hove Albion"))
	assert.Equal(t, "st etienne", NormalizeName("St. Étienne"))
	assert.Equal(t, "borussia monchengladbach", NormalizeName("Borussia Mönchengladbach,"))
	assert.Equal(t, "kings lynn", NormalizeName("King's Lynn"))
}

func TestNormalizeName_CollapseSpaces(t *testing.T) {
	assert.Equal(t, "west ham united", NormalizeName("  West   Ham  United "))
	assert.Equal(t, "hull city", NormalizeName("Hull - City"))
}
