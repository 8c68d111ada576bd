package auditctx

import "context"

// Request captures the inbound request that triggered a file operation.
type Request struct {
	RequestID string
	IPAddress string
	UserAgent string
}

type requestContextKey struct{}

// WithRequest injects request metadata into the supplied context so service
// layers can attach it to audit records.
func WithRequest(ctx context.Context, req Request) context.Context {
	if ctx == nil {
		return context.WithValue(context.Background(), requestContextKey{}, req)
	}
	return context.WithValue(ctx, requestContextKey{}, req)
}

// FromContext extracts previously stored request metadata from the context.
func FromContext(ctx context.Context) (Request, bool) {
	if ctx == nil {
		return Request{}, false
	}
	req, ok := ctx.Value(requestContextKey{}).(Request)
	return req, ok
}
