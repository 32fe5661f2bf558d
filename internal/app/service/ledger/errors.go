package ledger

import "errors"

// ErrStore marks a ledger I/O failure. Webhook callers map it to a retryable response.
var ErrStore = errors.New("ledger store error")

// StoreError wraps a failed ledger operation.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return "ledger " + e.Op + ": " + e.Err.Error()
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

func (e *StoreError) Is(target error) bool {
	return target == ErrStore
}

func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StoreError
	if errors.As(err, &se) {
		return err
	}
	return &StoreError{Op: op, Err: err}
}
