package infrastructure

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

// Server is anything the App runs until shutdown: transports and workers.
type Server interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

type App struct {
	servers []Server
	logger  *zap.Logger
}

func NewApp(servers []Server, logger *zap.Logger) *App {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &App{servers: servers, logger: logger}
}

// Run starts every server and blocks until ctx is cancelled or one of them
// fails, then stops all of them.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for _, srv := range a.servers {
		g.Go(func() error {
			return srv.Start(ctx)
		})
	}

	<-ctx.Done()
	a.logger.Info("shutting down", zap.Int("servers", len(a.servers)))

	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	for _, srv := range a.servers {
		if err := srv.Stop(stopCtx); err != nil {
			a.logger.Warn("server did not stop cleanly", zap.Error(err))
		}
	}

	return g.Wait()
}
