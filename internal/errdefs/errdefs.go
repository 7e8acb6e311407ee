package errdefs

import "errors"

type ErrorType int

const (
	ErrTypeSnapshotNotFound ErrorType = iota
	ErrTypeSnapshotCorrupted
	ErrTypeIndexingFailed
	ErrTypeExtractionFailed
	ErrTypeUnsupportedFile
	ErrTypeSearchFailed
	ErrTypeWatcherFailed
	ErrTypeInvalidConfig
	ErrTypeFileAccessDenied
)

type CustomError struct {
	Type    ErrorType
	Message string
	Err     error
}

func (e *CustomError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *CustomError) Unwrap() error {
	return e.Err
}

// Is matches any CustomError of the same Type, so errors.Is(err, ErrExtractionFailed)
// holds for every extraction failure regardless of message.
func (e *CustomError) Is(target error) bool {
	t, ok := target.(*CustomError)
	if !ok {
		return false
	}
	return t.Type == e.Type
}

func NewCustomError(errType ErrorType, message string, err error) error {
	return &CustomError{
		Type:    errType,
		Message: message,
		Err:     err,
	}
}

// IsType reports whether any error in err's chain is a CustomError of the given type.
func IsType(err error, errType ErrorType) bool {
	var ce *CustomError
	for err != nil {
		if !errors.As(err, &ce) {
			return false
		}
		if ce.Type == errType {
			return true
		}
		err = ce.Err
	}
	return false
}

var (
	ErrSnapshotNotFound  = &CustomError{Type: ErrTypeSnapshotNotFound, Message: "snapshot not found"}
	ErrSnapshotCorrupted = &CustomError{Type: ErrTypeSnapshotCorrupted, Message: "snapshot corrupted"}
	ErrIndexingFailed    = &CustomError{Type: ErrTypeIndexingFailed, Message: "indexing failed"}
	ErrExtractionFailed  = &CustomError{Type: ErrTypeExtractionFailed, Message: "extraction failed"}
	ErrUnsupportedFile   = &CustomError{Type: ErrTypeUnsupportedFile, Message: "unsupported file type"}
	ErrSearchFailed      = &CustomError{Type: ErrTypeSearchFailed, Message: "search failed"}
	ErrWatcherFailed     = &CustomError{Type: ErrTypeWatcherFailed, Message: "watcher failed"}
	ErrInvalidConfig     = &CustomError{Type: ErrTypeInvalidConfig, Message: "invalid config"}
	ErrFileAccessDenied  = &CustomError{Type: ErrTypeFileAccessDenied, Message: "file access denied"}
)
