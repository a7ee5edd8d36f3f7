package domain

import "errors"

var (
	ErrUpstreamUnavailable       = errors.New("upstream unavailable")
	ErrUpstreamNotFound          = errors.New("upstream not found")
	ErrStorageUnavailable        = errors.New("storage unavailable")
	ErrMalformedUpstreamResponse = errors.New("malformed upstream response")
	ErrInvalidArgument           = errors.New("invalid argument")
)

type ErrorKind string

const (
	KindUpstreamUnavailable ErrorKind = "upstream_unavailable"
	KindUpstreamNotFound    ErrorKind = "upstream_not_found"
	KindStorageUnavailable  ErrorKind = "storage_unavailable"
	KindMalformedUpstream   ErrorKind = "malformed_upstream_response"
	KindInvalidArgument     ErrorKind = "invalid_argument"
	KindInternal            ErrorKind = "internal"
)

func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUpstreamNotFound):
		return KindUpstreamNotFound
	case errors.Is(err, ErrUpstreamUnavailable):
		return KindUpstreamUnavailable
	case errors.Is(err, ErrMalformedUpstreamResponse):
		return KindMalformedUpstream
	case errors.Is(err, ErrStorageUnavailable):
		return KindStorageUnavailable
	case errors.Is(err, ErrInvalidArgument):
		return KindInvalidArgument
	default:
		return KindInternal
	}
}
