package main

import (
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/linkstash-io/linkstash-back/internal/config"
	"github.com/linkstash-io/linkstash-back/internal/db"
	"github.com/linkstash-io/linkstash-back/internal/service"
	"github.com/linkstash-io/linkstash-back/internal/session"
	"github.com/linkstash-io/linkstash-back/internal/store"
	"github.com/linkstash-io/linkstash-back/internal/transport"
)

func main() {
	app := fx.New(
		fx.Provide(
			newLogger,
			config.NewConfig,
			db.NewGormClient,
			newBatcher,
			session.NewNotifier,
			session.NewRegistry,
			service.NewAuth,
			service.NewLinks,
			service.NewCategories,
			transport.NewHTTPServer,
		),
		fx.Invoke(func(server *transport.HTTPServer) {}),
	)

	app.Run()
}

func newLogger() (*zap.SugaredLogger, error) {
	l, err := zap.NewProduction()
	if err != nil {
		return nil, err
	}
	return l.Sugar(), nil
}

func newBatcher(cfg *config.Config, gdb *gorm.DB) store.Batcher {
	return store.NewBatcher(gdb, cfg.BatchLimit)
}
