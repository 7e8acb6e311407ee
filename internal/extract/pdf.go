package extract

import (
	"io"
	"strings"

	"github.com/AvengeMedia/dankseek/internal/errdefs"
	"github.com/ledongthuc/pdf"
)

// ReadPDF returns the plain text of every page. The parser panics on some
// malformed inputs; Extractor.Extract turns that into an error.
func ReadPDF(path string) (string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", errdefs.NewCustomError(errdefs.ErrTypeExtractionFailed, path, err)
	}
	defer f.Close()

	plain, err := r.GetPlainText()
	if err != nil {
		return "", errdefs.NewCustomError(errdefs.ErrTypeExtractionFailed, path, err)
	}

	var sb strings.Builder
	if _, err := io.Copy(&sb, plain); err != nil {
		return "", errdefs.NewCustomError(errdefs.ErrTypeExtractionFailed, path, err)
	}
	return sb.String(), nil
}
