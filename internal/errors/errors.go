package errors

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrUnrecognizedEvent = errors.New("unrecognized event")
	ErrMissingConfig     = errors.New("missing required configuration")
	ErrUnknownRepository = errors.New("unknown ECR repository")
	ErrInvalidImageURI   = errors.New("invalid image uri")
)
