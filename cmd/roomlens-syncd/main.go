package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/roomlens/roomlens/internal/analysis"
	"github.com/roomlens/roomlens/internal/config"
	"github.com/roomlens/roomlens/internal/database"
	"github.com/roomlens/roomlens/internal/logging"
	"github.com/roomlens/roomlens/internal/remote"
	"github.com/roomlens/roomlens/internal/repository"
	"github.com/roomlens/roomlens/internal/scan"
	"github.com/roomlens/roomlens/internal/server"
	"github.com/roomlens/roomlens/internal/store"
	"github.com/roomlens/roomlens/internal/syncer"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "roomlens-syncd",
		Short: "Roomlens scan capture and sync service",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runService(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("remote-base-url", defaults.GetString("remote.base_url"), "Remote document store base URL")
	cmd.PersistentFlags().String("classifier-base-url", defaults.GetString("classifier.base_url"), "Image classifier base URL")
	cmd.PersistentFlags().Int("sync-interval-seconds", defaults.GetInt("sync.interval_seconds"), "Background sync interval in seconds")
	cmd.PersistentFlags().Int("sync-max-retries", defaults.GetInt("sync.max_retries"), "Maximum push attempts per record")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("log-file", defaults.GetString("log.file"), "Optional rotated log file path")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "remote.base_url", "remote-base-url")
	bindFlag(cmd, "classifier.base_url", "classifier-base-url")
	bindFlag(cmd, "sync.interval_seconds", "sync-interval-seconds")
	bindFlag(cmd, "sync.max_retries", "sync-max-retries")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "log.file", "log-file")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		// Only an explicitly named config file is required to exist.
		if cfgFile != "" {
			return err
		}
	}

	return nil
}

func runService(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel, appConfig.LogFile)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	localStore, err := store.New(store.Config{
		Database:   db,
		Clock:      time.Now,
		IDProvider: scan.NewUUIDProvider(),
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	classifier, err := analysis.NewHTTPClassifier(analysis.HTTPClassifierConfig{
		BaseURL: appConfig.ClassifierBaseURL,
	})
	if err != nil {
		return err
	}
	aggregator, err := analysis.NewAggregator(analysis.AggregatorConfig{
		Classifier: classifier,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	remoteClient, err := remote.NewHTTPClient(remote.HTTPClientConfig{
		BaseURL: appConfig.RemoteBaseURL,
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	dispatcher := repository.NewChangeDispatcher()

	orchestrator, err := syncer.New(syncer.Config{
		Sources:         []syncer.Source{localStore.ScanSource(), localStore.NoteSource()},
		Remote:          remoteClient,
		Clock:           time.Now,
		Logger:          logger,
		Interval:        appConfig.SyncInterval,
		BackoffBase:     appConfig.SyncBackoffBase,
		BackoffCap:      appConfig.SyncBackoffCap,
		MaxRetries:      appConfig.SyncMaxRetries,
		LivenessTimeout: appConfig.SyncLivenessTimeout,
		Notify: func(collection, id string) {
			dispatcher.Publish(repository.ChangeEvent{
				Collection: collection,
				RecordID:   id,
				Timestamp:  time.Now().UTC(),
			})
		},
	})
	if err != nil {
		return err
	}

	scanRepository, err := repository.New(repository.Config{
		Store:      localStore,
		Aggregator: aggregator,
		Dispatcher: dispatcher,
		Sync:       orchestrator,
		Remote:     remoteClient,
		Clock:      time.Now,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Repository: scanRepository,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	syncDone := make(chan struct{})
	go func() {
		defer close(syncDone)
		orchestrator.Run(signalCtx)
	}()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		shutdownErr := httpServer.Shutdown(shutdownCtx)
		<-syncDone
		return shutdownErr
	case err := <-errCh:
		stop()
		<-syncDone
		return err
	}
}
