package services

import (
	"errors"
	"fmt"
)

// Failure classes of payment processing and background work.
var (
	ErrAuthentication       = errors.New("authentication failure")
	ErrDuplicateTransaction = errors.New("duplicate transaction")
	ErrMalformedInput       = errors.New("malformed input")
	ErrRemoteUnavailable    = errors.New("remote unavailable")
)

// Rejection is a failed callback together with the short token answered to the gateway.
type Rejection struct {
	Kind  error
	Token string
	Err   error
}

func (r *Rejection) Error() string {
	if r.Err != nil {
		return fmt.Sprintf("%s: %s: %v", r.Kind, r.Token, r.Err)
	}
	return fmt.Sprintf("%s: %s", r.Kind, r.Token)
}

func (r *Rejection) Unwrap() []error {
	if r.Err != nil {
		return []error{r.Kind, r.Err}
	}
	return []error{r.Kind}
}

func reject(kind error, token string, err error) *Rejection {
	return &Rejection{Kind: kind, Token: token, Err: err}
}

func remoteErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrRemoteUnavailable, op, err)
}
