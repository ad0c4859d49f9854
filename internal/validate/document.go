package validate

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hyperifyio/regdoc/internal/failure"
)

// MaxDocumentBytes is the default ceiling for documents handed to extraction.
const MaxDocumentBytes int64 = 50 << 20

var (
	ErrNotPDF        = errors.New("document is not a PDF")
	ErrTooLarge      = errors.New("document exceeds size limit")
	ErrEmptyDocument = errors.New("document is empty")
)

// DocumentHeader checks a declared file name and size without touching disk.
// It is used for uploads before they are persisted.
func DocumentHeader(name string, size, maxBytes int64) error {
	if maxBytes <= 0 {
		maxBytes = MaxDocumentBytes
	}
	if !strings.EqualFold(filepath.Ext(name), ".pdf") {
		return failure.Extraction("only PDF documents are supported", ErrNotPDF)
	}
	if size <= 0 {
		return failure.Extraction("document is empty", ErrEmptyDocument)
	}
	if size > maxBytes {
		return failure.Extraction(fmt.Sprintf("document is larger than %s", HumanSize(maxBytes)), ErrTooLarge)
	}
	return nil
}

// DocumentFile stats path and applies DocumentHeader to it. It returns the
// byte size on success.
func DocumentFile(path string, maxBytes int64) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, failure.Extraction("document not found", err)
	}
	if info.IsDir() {
		return 0, failure.Extraction("document path is a directory", ErrNotPDF)
	}
	if err := DocumentHeader(info.Name(), info.Size(), maxBytes); err != nil {
		return 0, err
	}
	return info.Size(), nil
}
