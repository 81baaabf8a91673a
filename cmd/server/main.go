package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi"
	"github.com/golang-migrate/migrate/v4"
	migratep "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jessevdk/go-flags"
	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/SocialGold-net/aurum/internal/reconciler"
	"github.com/SocialGold-net/aurum/internal/server"
	serviceimpl "github.com/SocialGold-net/aurum/internal/service/impl"
	"github.com/SocialGold-net/aurum/internal/storage"
	"github.com/SocialGold-net/aurum/internal/storage/memory"
	"github.com/SocialGold-net/aurum/internal/storage/postgres"
)

// nolint:lll,gochecknoglobals
var opts = struct {
	Host string `long:"http.host" env:"HTTP_HOST" default:"0.0.0.0" description:"IP to listen on"`
	Port int    `long:"http.port" env:"HTTP_PORT" default:"8080" description:"port to listen on"`

	RequestTimeout time.Duration `long:"http.request_timeout" env:"HTTP_REQUEST_TIMEOUT" default:"15s" description:"timeout for non-streaming requests"`

	Storage                    string `long:"storage" env:"STORAGE" default:"postgres" choice:"postgres" choice:"memory" description:"document store backend"`
	Postgres                   string `long:"postgres" env:"POSTGRES" default:"host=localhost port=5432 user=postgres password=root sslmode=disable" description:"postgres dsn"`
	PostgresMaxOpenConnections int    `long:"postgres.max_open_connections" env:"POSTGRES_MAX_OPEN_CONNECTIONS" default:"0" description:"postgres maximal open connections count, 0 means unlimited"`
	PostgresMaxIdleConnections int    `long:"postgres.max_idle_connections" env:"POSTGRES_MAX_IDLE_CONNECTIONS" default:"5" description:"postgres maximal idle connections count"`
	PostgresMigrations         string `long:"postgres.migrations" env:"POSTGRES_MIGRATIONS" default:"migrations/postgres" description:"postgres migrations directory"`

	ReconcileInterval time.Duration `long:"reconcile.interval" env:"RECONCILE_INTERVAL" default:"1m" description:"interval between follow edge reconciliation sweeps"`

	LogLevel string `long:"log.level" env:"LOG_LEVEL" default:"info" description:"Log level" choice:"debug" choice:"info" choice:"warning" choice:"error"`
}{}

var errTerminated = errors.New("terminated")

func main() {
	parser := flags.NewParser(&opts, flags.Default)
	parser.ShortDescription = "Aurum"
	parser.LongDescription = "Aurum realtime social feed server"

	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			parser.WriteHelp(os.Stdout)
			os.Exit(0)
		}
		logrus.WithError(err).Fatal("error occurred while parsing flags")
	}

	lvl, _ := logrus.ParseLevel(opts.LogLevel) // err will always be nil
	logrus.SetLevel(lvl)

	logrus.Infof("%+v", opts)

	s := mustGetStorage()
	svc := serviceimpl.New(s)
	rec := reconciler.New(s, opts.ReconcileInterval)

	r := chi.NewMux()
	r.Get("/health", server.HealthHandler(s, 5*time.Second))
	server.SetupRouter(svc, s, r, opts.RequestTimeout)

	srv := http.Server{
		Addr:    fmt.Sprintf("%s:%d", opts.Host, opts.Port),
		Handler: r,
	}

	ctx, cancel := context.WithCancel(context.Background())

	gr, _ := errgroup.WithContext(ctx)
	gr.Go(func() error {
		return rec.Run(ctx)
	})
	gr.Go(srv.ListenAndServe)
	gr.Go(func() error {
		sigs := make(chan os.Signal, 1)
		signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

		sig := <-sigs

		logrus.Infof("terminating by %s signal", sig)

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logrus.WithError(err).Error("failed to shutdown server gracefully")
		}

		cancel()

		return errTerminated
	})

	logrus.Info("service started")

	if err := gr.Wait(); err != nil && !errors.Is(err, errTerminated) && !errors.Is(err, http.ErrServerClosed) {
		logrus.WithError(err).Fatal("server unexpectedly closed")
	}
}

func mustGetStorage() storage.Storage {
	if opts.Storage == "memory" {
		logrus.Warn("using in-memory storage, data will not survive a restart")
		return memory.New()
	}

	db := mustGetDB()

	s, err := postgres.New(db, opts.Postgres)
	if err != nil {
		logrus.WithError(err).Fatal("failed to create postgres storage")
	}

	return s
}

func mustGetDB() *sql.DB {
	db, err := sql.Open("postgres", opts.Postgres)
	if err != nil {
		logrus.WithError(err).Fatal("failed to create postgres connection")
	}
	db.SetMaxOpenConns(opts.PostgresMaxOpenConnections)
	db.SetMaxIdleConns(opts.PostgresMaxIdleConnections)

	if err := db.PingContext(context.Background()); err != nil {
		logrus.WithError(err).Fatal("failed to ping postgres")
	}

	driver, err := migratep.WithInstance(db, &migratep.Config{})
	if err != nil {
		logrus.WithError(err).Fatal("failed to create database migrate driver")
	}

	migrator, err := migrate.NewWithDatabaseInstance(fmt.Sprintf("file://%s", opts.PostgresMigrations), "postgres", driver)
	if err != nil {
		logrus.WithError(err).Fatal("failed to create migrator")
	}

	switch v, d, err := migrator.Version(); err {
	case nil:
		logrus.Infof("database version %d with dirty state %t", v, d)
	case migrate.ErrNilVersion:
		logrus.Info("database version: nil")
	default:
		logrus.WithError(err).Fatal("failed to get version")
	}

	switch err := migrator.Up(); err {
	case nil:
		logrus.Info("database was migrated")
	case migrate.ErrNoChange:
		logrus.Info("database is up-to-date")
	default:
		logrus.WithError(err).Fatal("failed to migrate db")
	}

	return db
}
