package observability

import (
	"context"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// LoggerFromContext returns logger annotated with the request id carried by ctx
func LoggerFromContext(ctx context.Context, logger *zap.Logger) *zap.Logger {
	if logger == nil {
		logger = zap.NewNop()
	}
	if reqID := middleware.GetReqID(ctx); reqID != "" {
		return logger.With(zap.String("request_id", reqID))
	}
	return logger
}

// RequestID returns the request id carried by ctx, if any
func RequestID(ctx context.Context) string {
	return middleware.GetReqID(ctx)
}
