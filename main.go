package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/Polqt/crdtcollab/appctx"
	"github.com/Polqt/crdtcollab/codec"
	"github.com/Polqt/crdtcollab/config"
	"github.com/Polqt/crdtcollab/httpapi"
	"github.com/Polqt/crdtcollab/ingest"
	"github.com/Polqt/crdtcollab/migrations"
	"github.com/Polqt/crdtcollab/rooms"
	"github.com/Polqt/crdtcollab/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("failed to load configuration")
	}

	if cfg.MigrateRun {
		logrus.Info("running migrations...")
		if err := migrations.Run(cfg.Database.DSN()); err != nil {
			logrus.WithError(err).Fatal("migration failed")
		}
		logrus.Info("migrations complete")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pg, err := store.Open(ctx, cfg.Database.DSN(), cfg.Database.MaxConns)
	if err != nil {
		logrus.WithError(err).Fatal("failed to connect to postgres")
	}
	defer pg.Close()

	app, err := appctx.NewBuilder().
		WithStore(pg).
		WithRooms(rooms.New()).
		Build(ctx)
	if err != nil {
		logrus.WithError(err).Fatal("failed to build app context")
	}

	c := codec.New()
	ing := ingest.New(c, app.Store, app.Rooms)
	router := httpapi.NewRouter(app, c, ing, cfg.MergeInterval)

	srv := &http.Server{
		Addr:    cfg.Server.Addr(),
		Handler: router,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logrus.WithField("addr", cfg.Server.Addr()).Info("crdt collaboration server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		logrus.Info("shutting down...")
		app.Shutdown()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		logrus.WithError(err).Error("server exited with error")
	}
}
