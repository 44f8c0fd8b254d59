package authd

import "context"

type clientIPContextKey struct{}
type userAgentContextKey struct{}
type deviceIDContextKey struct{}

// WithClientIP attaches the caller's IP address to ctx. It is recorded in audit events
// and used by the per-IP login throttle.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPContextKey{}, ip)
}

// WithUserAgent attaches the HTTP User-Agent string to ctx.
func WithUserAgent(ctx context.Context, userAgent string) context.Context {
	return context.WithValue(ctx, userAgentContextKey{}, userAgent)
}

// WithDeviceID attaches a client-supplied device identifier to ctx.
func WithDeviceID(ctx context.Context, deviceID string) context.Context {
	return context.WithValue(ctx, deviceIDContextKey{}, deviceID)
}

// SessionContextFrom collects the request metadata attached to ctx.
func SessionContextFrom(ctx context.Context) SessionContext {
	return SessionContext{
		ClientIP:  stringFromContext(ctx, clientIPContextKey{}),
		UserAgent: stringFromContext(ctx, userAgentContextKey{}),
		DeviceID:  stringFromContext(ctx, deviceIDContextKey{}),
	}
}

func clientIPFromContext(ctx context.Context) string {
	return stringFromContext(ctx, clientIPContextKey{})
}

func stringFromContext(ctx context.Context, key any) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(key).(string)
	return v
}
