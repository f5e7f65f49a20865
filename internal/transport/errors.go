package transport

import "errors"

// ErrorKind classifies endpoint request failures so the session layer can
// decide whether a failed send is worth retrying.
type ErrorKind string

const (
	// ErrorKindTransport covers connection and delivery failures. Retryable.
	ErrorKindTransport ErrorKind = "transport"
	// ErrorKindValidation means the endpoint rejected the request payload.
	ErrorKindValidation ErrorKind = "validation"
	// ErrorKindQuotaExceeded means an attachment or rate quota was hit.
	ErrorKindQuotaExceeded ErrorKind = "quota_exceeded"
	// ErrorKindNotFound means a referenced entity does not exist.
	ErrorKindNotFound ErrorKind = "not_found"
)

// RequestError is a classified endpoint failure.
type RequestError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *RequestError) Error() string {
	if e.Message != "" {
		return string(e.Kind) + ": " + e.Message
	}
	if e.Err != nil {
		return string(e.Kind) + ": " + e.Err.Error()
	}
	return string(e.Kind)
}

func (e *RequestError) Unwrap() error { return e.Err }

// KindOf extracts the error kind, defaulting to transport for unclassified
// errors (network failures and the like).
func KindOf(err error) ErrorKind {
	var re *RequestError
	if errors.As(err, &re) {
		return re.Kind
	}
	return ErrorKindTransport
}

// Retryable reports whether a failure of this kind may succeed on retry.
// Validation and quota failures will fail the same way again.
func Retryable(kind ErrorKind) bool {
	return kind == ErrorKindTransport
}
