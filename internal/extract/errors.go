package extract

import (
	"errors"
	"fmt"
)

// ErrEmptyExtraction means the file was read but contained no text.
var ErrEmptyExtraction = errors.New("no text could be extracted from the document")

// UnsupportedFormatError names a rejected file extension.
type UnsupportedFormatError struct {
	Ext string
}

func (e *UnsupportedFormatError) Error() string {
	if e.Ext == "" {
		return "unsupported file format: file has no extension"
	}
	return fmt.Sprintf("unsupported file format: %s", e.Ext)
}

// ExtractionError wraps a parser or OCR engine failure.
type ExtractionError struct {
	Path string
	Err  error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract %s: %v", e.Path, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }
