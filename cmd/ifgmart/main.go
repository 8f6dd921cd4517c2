package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/iurnickita/ifgmart/internal/auth"
	"github.com/iurnickita/ifgmart/internal/config"
	"github.com/iurnickita/ifgmart/internal/handler"
	"github.com/iurnickita/ifgmart/internal/logger"
	"github.com/iurnickita/ifgmart/internal/notify"
	"github.com/iurnickita/ifgmart/internal/service"
	"github.com/iurnickita/ifgmart/internal/store"
	"github.com/iurnickita/ifgmart/internal/store/memstore"
	"github.com/iurnickita/ifgmart/internal/telemetry"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.GetConfig()
	if err != nil {
		return err
	}

	zaplog, err := logger.NewZapLog(cfg.Logger)
	if err != nil {
		return err
	}
	defer zaplog.Sync()

	shutdown, err := telemetry.Setup(ctx, cfg.Telemetry, zaplog)
	if err != nil {
		return err
	}
	defer shutdown(context.Background())

	var st store.Store
	if cfg.Store.DBDsn == "" {
		zaplog.Warn("DATABASE_URI is not set, using in-memory store")
		st = memstore.New()
	} else {
		st, err = store.NewStore(cfg.Store)
		if err != nil {
			return err
		}
	}
	defer st.Close()

	notifier := notify.NewNotifier(cfg.Notify, zaplog)
	defer notifier.Close()

	auth, err := auth.NewAuth(cfg.Auth, zaplog)
	if err != nil {
		return err
	}
	service, err := service.NewService(cfg.Service, st, notifier, zaplog)
	if err != nil {
		return err
	}

	zaplog.Info("marketplace configured",
		zap.String("purchase_mode", cfg.Service.PurchaseMode),
		zap.Int("starting_grant", cfg.Service.StartingGrant))
	return handler.Serve(ctx, cfg.Handler, auth, service, zaplog)
}
