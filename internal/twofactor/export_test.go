package twofactor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var exportCodes = []string{"AB12-CD34-EF56", "GH78-IJ90-KL12"}

func TestValidateRecoveryCodeFormat(t *testing.T) {
	assert.NoError(t, ValidateRecoveryCodeFormat(exportCodes))
	assert.NoError(t, ValidateRecoveryCodeFormat([]string{"ab12-cd34-ef56"}))

	for _, bad := range [][]string{
		{"AB12-CD34"},
		{"AB12-CD34-EF56-GH78"},
		{"AB1!-CD34-EF56"},
		{""},
		{"AB12-CD34-EF56", "nope"},
	} {
		assert.ErrorIs(t, ValidateRecoveryCodeFormat(bad), ErrBadRecoveryFormat, "codes %v", bad)
	}
}

func TestExportText(t *testing.T) {
	doc, err := ExportText("alice@example.com", exportCodes)
	require.NoError(t, err)
	text := string(doc)
	assert.Contains(t, text, "alice@example.com")
	for _, code := range exportCodes {
		assert.Contains(t, text, code)
	}

	_, err = ExportText("alice@example.com", []string{"bogus"})
	assert.ErrorIs(t, err, ErrBadRecoveryFormat)
}

func TestExportPDF(t *testing.T) {
	doc, err := ExportPDF("alice@example.com", exportCodes)
	require.NoError(t, err)
	assert.True(t, len(doc) > 4 && string(doc[:4]) == "%PDF")

	_, err = ExportPDF("alice@example.com", []string{"bogus"})
	assert.ErrorIs(t, err, ErrBadRecoveryFormat)
}
