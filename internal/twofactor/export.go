package twofactor

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/kinshiphq/kinship/params"
)

var recoveryCodePattern = regexp.MustCompile(`^[A-Z0-9]{4}(-[A-Z0-9]{4}){2}$`)

// ValidateRecoveryCodeFormat rejects strings that cannot be recovery codes
// before they reach an export document.
func ValidateRecoveryCodeFormat(codes []string) error {
	for _, code := range codes {
		if !recoveryCodePattern.MatchString(normalizeRecoveryCode(code)) {
			return ErrBadRecoveryFormat
		}
	}
	return nil
}

// ExportText renders freshly generated recovery codes as a plain-text file
// for download. Codes come from Generate; they are never readable again
// afterwards.
func ExportText(accountName string, codes []string) ([]byte, error) {
	if err := ValidateRecoveryCodeFormat(codes); err != nil {
		return nil, err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s recovery codes\n", params.TOTPIssuer)
	fmt.Fprintf(&b, "Account: %s\n", accountName)
	fmt.Fprintf(&b, "Generated: %s\n\n", time.Now().UTC().Format("2006-01-02 15:04 MST"))
	b.WriteString("Each code works exactly once. Keep this file somewhere safe\nand separate from your password.\n\n")
	for i, code := range codes {
		fmt.Fprintf(&b, "%2d. %s\n", i+1, normalizeRecoveryCode(code))
	}
	return []byte(b.String()), nil
}

// ExportPDF renders the codes as a printable single-page PDF.
func ExportPDF(accountName string, codes []string) ([]byte, error) {
	if err := ValidateRecoveryCodeFormat(codes); err != nil {
		return nil, err
	}
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetTitle(params.TOTPIssuer+" recovery codes", false)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 18)
	pdf.Cell(0, 12, params.TOTPIssuer+" recovery codes")
	pdf.Ln(14)

	pdf.SetFont("Helvetica", "", 11)
	pdf.Cell(0, 6, "Account: "+accountName)
	pdf.Ln(6)
	pdf.Cell(0, 6, "Generated: "+time.Now().UTC().Format("2006-01-02 15:04 MST"))
	pdf.Ln(10)
	pdf.MultiCell(0, 5, "Each code works exactly once. Keep this page somewhere safe and separate from your password.", "", "L", false)
	pdf.Ln(6)

	pdf.SetFont("Courier", "", 13)
	for i, code := range codes {
		pdf.Cell(0, 8, fmt.Sprintf("%2d.  %s", i+1, normalizeRecoveryCode(code)))
		pdf.Ln(8)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
