package proxy

import (
	"net/http"
)

// Kind classifies every failure the pipeline can produce. The set is
// closed; anything unclassified is KindInternal.
type Kind int

const (
	KindInternal Kind = iota
	KindMissingURL
	KindInvalidURL
	KindInvalidDimension
	KindInvalidQuality
	KindUnsupportedFormat
	KindDomainBlocked
	KindNotAnImage
	KindPayloadTooLarge
	KindTimeout
	KindConnectionFailed
	KindUpstream
	KindInvalidImage
)

// Error is the typed failure returned by every pipeline stage.
type Error struct {
	Kind    Kind
	Message string
	// Upstream holds the origin's HTTP status for KindUpstream.
	Upstream int
}

func (e *Error) Error() string {
	return e.Message
}

// HTTPStatus maps the error kind to the response status. Upstream errors
// mirror the origin's status when it is a valid HTTP error code.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindMissingURL, KindInvalidURL, KindInvalidDimension, KindInvalidQuality,
		KindUnsupportedFormat, KindNotAnImage, KindInvalidImage:
		return http.StatusBadRequest
	case KindDomainBlocked:
		return http.StatusForbidden
	case KindTimeout:
		return http.StatusRequestTimeout
	case KindPayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	case KindConnectionFailed:
		return http.StatusBadGateway
	case KindUpstream:
		if e.Upstream >= 400 && e.Upstream < 600 {
			return e.Upstream
		}
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func newError(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}
