package testutil

import (
	"net/http"

	"claimreg/pkg/domain"
	"claimreg/pkg/requestcontext"
)

// WithCaller adds a resolved caller to the request context, simulating what
// the auth middleware does for authenticated requests.
func WithCaller(req *http.Request, caller domain.AccountID) *http.Request {
	return req.WithContext(requestcontext.WithCaller(req.Context(), caller))
}
