package testutil

import (
	"net/http"

	"kanon/pkg/requestcontext"
)

// WithRequestID sets the request ID the request-id middleware would assign.
func WithRequestID(req *http.Request, requestID string) *http.Request {
	return req.WithContext(requestcontext.WithRequestID(req.Context(), requestID))
}

// WithActor sets the acting principal the admin middleware would record.
func WithActor(req *http.Request, actor string) *http.Request {
	return req.WithContext(requestcontext.WithActorID(req.Context(), actor))
}
