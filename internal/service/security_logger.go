// internal/service/security_logger.go
package service

import (
	"context"

	"go.uber.org/zap"
)

type clientInfoKey struct{}

// ClientInfo carries request metadata into security logs.
type ClientInfo struct {
	IPAddress string
	UserAgent string
}

// WithClientInfo attaches client metadata to the context.
func WithClientInfo(ctx context.Context, info ClientInfo) context.Context {
	return context.WithValue(ctx, clientInfoKey{}, info)
}

// ClientInfoFromContext returns the attached client metadata, if any.
func ClientInfoFromContext(ctx context.Context) ClientInfo {
	info, _ := ctx.Value(clientInfoKey{}).(ClientInfo)
	return info
}

// SecurityLogger emits structured security events. Token material and
// password content must never be passed as fields.
type SecurityLogger struct {
	logger *zap.Logger
}

func NewSecurityLogger(logger *zap.Logger) *SecurityLogger {
	return &SecurityLogger{logger: logger}
}

// Log records a security event with the standard fields plus any extras.
func (sl *SecurityLogger) Log(ctx context.Context, eventType, severity string, fields ...zap.Field) {
	info := ClientInfoFromContext(ctx)
	base := []zap.Field{
		zap.String("event_type", eventType),
		zap.String("severity", severity),
	}
	if info.IPAddress != "" {
		base = append(base, zap.String("ip", info.IPAddress))
	}
	if info.UserAgent != "" {
		base = append(base, zap.String("user_agent", info.UserAgent))
	}
	sl.logger.Warn("security event", append(base, fields...)...)
}
