package infrastructure

import (
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

func connectNats(url string, logger *zap.Logger) (*nats.Conn, error) {
	return nats.Connect(url,
		nats.Name("chargeline"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	)
}
