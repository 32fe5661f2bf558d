package verifier

import "errors"

var (
	ErrInvalidSignature = errors.New("invalid signature")
	ErrMalformedPayload = errors.New("malformed payload")
)

// VerificationError rejects a webhook at the boundary. Kind is ErrInvalidSignature
// or ErrMalformedPayload.
type VerificationError struct {
	Kind error
	Err  error
}

func (e *VerificationError) Error() string {
	if e.Err == nil {
		return e.Kind.Error()
	}
	return e.Kind.Error() + ": " + e.Err.Error()
}

func (e *VerificationError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func invalidSignature(err error) error {
	return &VerificationError{Kind: ErrInvalidSignature, Err: err}
}

func malformed(err error) error {
	return &VerificationError{Kind: ErrMalformedPayload, Err: err}
}
