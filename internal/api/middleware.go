package api

import (
	"log/slog"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
)

// loggingMiddleware logs each request at a level chosen by its status code.
// SSE streams are logged at debug when they close.
func (s *Server) loggingMiddleware(ctx huma.Context, next func(huma.Context)) {
	start := time.Now()

	attrs := []slog.Attr{
		slog.String("method", ctx.Method()),
		slog.String("path", ctx.URL().Path),
		slog.String("remote_addr", ctx.RemoteAddr()),
	}
	if query := ctx.URL().RawQuery; query != "" {
		attrs = append(attrs, slog.String("query", query))
	}

	next(ctx)

	status := ctx.Status()
	attrs = append(attrs,
		slog.Int("status", status),
		slog.Duration("duration", time.Since(start)),
	)

	level := slog.LevelInfo
	switch {
	case strings.HasSuffix(ctx.URL().Path, "/events"):
		level = slog.LevelDebug
	case status >= 500:
		level = slog.LevelError
	case status >= 400:
		level = slog.LevelWarn
	}
	s.logger.LogAttrs(ctx.Context(), level, "HTTP request completed", attrs...)
}
