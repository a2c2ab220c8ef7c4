package app

import (
	"context"
	"log/slog"

	"github.com/feedrelay/hub/config"
)

func Log(ctx context.Context) *slog.Logger {
	l := ctx.Value(config.LoggerContextKey)
	if l == nil {
		return slog.Default()
	}
	return l.(*slog.Logger)
}
