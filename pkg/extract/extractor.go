package extract

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"

	"github.com/topos-sec/topos-engine/pkg/apperrors"
)

// Extracted is the result of content extraction from a file.
type Extracted struct {
	Title string
	Text  string
}

// ExtractFunc decodes one file format into plain text plus a title.
type ExtractFunc func(path string) (*Extracted, error)

// Registry maps declared MIME types to decoding capabilities, with
// file-extension inference as a fallback when the declared type is unknown.
// New formats are added by registering entries; there is no dispatch
// hierarchy beyond the two maps.
type Registry struct {
	byMIME    map[string]ExtractFunc
	extToMIME map[string]string
}

// NewRegistry creates a registry with the built-in plain-text extractor.
// Binary formats (PDF, DOCX, ...) are registered by callers that carry the
// corresponding decoder.
func NewRegistry() *Registry {
	r := &Registry{
		byMIME:    make(map[string]ExtractFunc),
		extToMIME: make(map[string]string),
	}

	r.Register("text/plain", ExtractPlainText)
	r.RegisterExtension(".txt", "text/plain")
	r.RegisterExtension(".md", "text/plain")
	r.RegisterExtension(".log", "text/plain")
	r.RegisterExtension(".csv", "text/plain")

	return r
}

// Register maps a MIME type to an extractor.
func (r *Registry) Register(mimeType string, fn ExtractFunc) {
	r.byMIME[mimeType] = fn
}

// RegisterExtension maps a file extension (with leading dot) to a MIME type
// for fallback inference.
func (r *Registry) RegisterExtension(ext, mimeType string) {
	r.extToMIME[strings.ToLower(ext)] = mimeType
}

// Extract decodes the file at path. Dispatch is on the declared MIME type,
// falling back to extension inference when the type is unknown. Returns
// apperrors.ErrUnsupportedType when neither resolves and wraps decoder
// failures in apperrors.ErrExtractionFailure.
func (r *Registry) Extract(path, declaredType string) (*Extracted, error) {
	fn := r.byMIME[declaredType]

	if fn == nil {
		ext := strings.ToLower(filepath.Ext(path))
		if mime, ok := r.extToMIME[ext]; ok {
			fn = r.byMIME[mime]
		}
	}

	if fn == nil {
		return nil, fmt.Errorf("%w: %s for file %s", apperrors.ErrUnsupportedType, declaredType, path)
	}

	extracted, err := fn(path)
	if err != nil {
		return nil, wrapDecoderError(err)
	}
	return extracted, nil
}

// wrapDecoderError marks unclassified decoder failures as extraction
// failures. Sentinels pass through untouched so their retry semantics
// survive: a missing file stays NotFound, an unreachable share stays
// TransientIO.
func wrapDecoderError(err error) error {
	switch {
	case errors.Is(err, apperrors.ErrNotFound),
		errors.Is(err, apperrors.ErrTransientIO),
		errors.Is(err, apperrors.ErrDecodeFailure),
		errors.Is(err, apperrors.ErrExtractionFailure):
		return err
	default:
		return fmt.Errorf("%w: %v", apperrors.ErrExtractionFailure, err)
	}
}

// fallbackEncodings are tried in order when the file is not valid UTF-8.
var fallbackEncodings = []encoding.Encoding{
	charmap.ISO8859_1,
	charmap.Windows1252,
}

// ExtractPlainText reads a plain-text file, trying UTF-8 first and then a
// small ordered list of legacy encodings, succeeding on the first that
// decodes cleanly. The title is the file name without its extension.
func ExtractPlainText(path string) (*Extracted, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", apperrors.ErrNotFound, path)
		}
		return nil, fmt.Errorf("%w: reading %s: %v", apperrors.ErrTransientIO, path, err)
	}

	text, err := decodeText(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", err, path)
	}

	return &Extracted{
		Title: titleFromPath(path),
		Text:  text,
	}, nil
}

// decodeText tries UTF-8 (with BOM stripping) and then the fallback
// encodings in order.
func decodeText(raw []byte) (string, error) {
	if utf8.Valid(raw) {
		decoded, err := unicode.UTF8BOM.NewDecoder().Bytes(raw)
		if err == nil {
			return string(decoded), nil
		}
	}

	for _, enc := range fallbackEncodings {
		decoded, err := enc.NewDecoder().Bytes(raw)
		if err == nil {
			return string(decoded), nil
		}
	}

	return "", apperrors.ErrDecodeFailure
}

func titleFromPath(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
