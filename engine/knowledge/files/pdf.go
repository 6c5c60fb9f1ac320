package files

import (
	"strings"

	"github.com/ledongthuc/pdf"
)

// extractPDF returns the plain text of every page joined by newlines.
func extractPDF(path string) (string, int, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()
	pages := r.NumPage()
	parts := make([]string, 0, pages)
	for i := 1; i <= pages; i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return "", 0, err
		}
		parts = append(parts, text)
	}
	return strings.Join(parts, "\n"), pages, nil
}
