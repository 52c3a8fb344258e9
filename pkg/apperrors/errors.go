package apperrors

import "errors"

var (
	// ErrNotFound: a referenced file/share/document is missing. Fatal for
	// the job; retrying has no benefit but the attempt is still counted.
	ErrNotFound = errors.New("not found")

	// ErrUnsupportedType: no extractor resolves for the declared MIME type
	// or file extension.
	ErrUnsupportedType = errors.New("unsupported file type")

	// ErrDecodeFailure: none of the supported character encodings decoded
	// the file.
	ErrDecodeFailure = errors.New("could not decode file with any supported encoding")

	// ErrExtractionFailure: a resolved decoder failed on the file contents.
	ErrExtractionFailure = errors.New("content extraction failed")

	// ErrTransientIO: the share was unreachable; retried with backoff up to
	// the attempt budget.
	ErrTransientIO = errors.New("transient I/O failure")

	ErrConflict = errors.New("conflict")
)

// IsRetryable reports whether a job failure is worth retrying. NotFound,
// unsupported types, and decode failures are deterministic: the same input
// fails the same way every time. Transient I/O and everything unclassified
// (extraction crashes, database hiccups) get the retry budget.
func IsRetryable(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, ErrUnsupportedType),
		errors.Is(err, ErrDecodeFailure):
		return false
	default:
		return true
	}
}
