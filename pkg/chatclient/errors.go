package chatclient

import "errors"

// ErrorKind buckets every send failure into one of four user-facing
// categories. Handlers branch on the kind, never on raw status codes.
type ErrorKind string

const (
	KindAuth      ErrorKind = "auth"
	KindRateLimit ErrorKind = "rate_limit"
	KindQuota     ErrorKind = "quota"
	KindNetwork   ErrorKind = "network"
)

// ErrorState is a classified send failure. Retry is non-nil only for
// network failures, where re-sending the same message is safe; rate-limit
// and quota failures must wait on the server, and auth failures need a new
// token first.
type ErrorState struct {
	Kind    ErrorKind
	Message string
	Retry   func() (*SendResult, error)
}

func (e *ErrorState) Error() string {
	return string(e.Kind) + ": " + e.Message
}

// AsErrorState unwraps err into its classified form, when it has one.
func AsErrorState(err error) (*ErrorState, bool) {
	var state *ErrorState
	if errors.As(err, &state) {
		return state, true
	}
	return nil, false
}
