package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"pf-ledger/internal/auth"
	"pf-ledger/internal/config"
	"pf-ledger/internal/db"
	"pf-ledger/internal/health"
	"pf-ledger/internal/httpserver"
	"pf-ledger/internal/ident"
	"pf-ledger/internal/ledger"
	"pf-ledger/internal/oracle"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatal(err)
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DBDSN)
	if err != nil {
		logrus.Fatal(err)
	}
	defer pool.Close()
	if err := db.Migrate(ctx, pool); err != nil {
		logrus.Fatal(err)
	}

	store := ledger.NewPgStore(pool)
	ids := ident.New(store)
	priceOracle := oracle.NewClient(cfg.OracleURL, cfg.OracleTimeout)
	engine := ledger.NewService(store, priceOracle, ids, cfg.OracleTimeout)

	authSvc := auth.NewService(pool, ids, cfg.JWTIssuer, []byte(cfg.JWTSecret), cfg.JWTTTL)

	router := httpserver.NewRouter(httpserver.RouterDeps{
		AuthHandler:   auth.NewHandler(authSvc),
		LedgerHandler: ledger.NewHandler(engine),
		HealthHandler: health.NewHandler(pool),
		AuthService:   authSvc,
	})
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router}

	logrus.WithFields(logrus.Fields{"addr": cfg.HTTPAddr}).Info("server listening")

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-stop
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logrus.Fatal(err)
	}
}
