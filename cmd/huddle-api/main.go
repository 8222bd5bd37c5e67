package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/talenthq/huddle/internal/attachments"
	"github.com/talenthq/huddle/internal/auth"
	"github.com/talenthq/huddle/internal/candidates"
	"github.com/talenthq/huddle/internal/config"
	"github.com/talenthq/huddle/internal/database"
	"github.com/talenthq/huddle/internal/directory"
	"github.com/talenthq/huddle/internal/logging"
	"github.com/talenthq/huddle/internal/mentions"
	"github.com/talenthq/huddle/internal/metrics"
	"github.com/talenthq/huddle/internal/notes"
	"github.com/talenthq/huddle/internal/presence"
	"github.com/talenthq/huddle/internal/server"
	"github.com/talenthq/huddle/internal/store"
)

var cfgFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "huddle-api",
		Short: "Huddle collaborative candidate annotation service",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
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
	cmd.PersistentFlags().String("public-base-url", defaults.GetString("http.public_base_url"), "Base URL used in attachment links")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("attachments-dir", defaults.GetString("attachments.dir"), "Attachment storage directory")
	cmd.PersistentFlags().Duration("presence-heartbeat", defaults.GetDuration("presence.heartbeat"), "Presence heartbeat interval")
	cmd.PersistentFlags().Duration("typing-quiet-period", defaults.GetDuration("typing.quiet_period"), "Typing signal quiet period")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("signing-secret", "", "Session signing secret (overrides env)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "http.public_base_url", "public-base-url")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "attachments.dir", "attachments-dir")
	bindFlag(cmd, "presence.heartbeat", "presence-heartbeat")
	bindFlag(cmd, "typing.quiet_period", "typing-quiet-period")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
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
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
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

	metricsSet := metrics.NewSet()

	documentStore, err := store.NewSQLStore(store.ServiceConfig{
		Database: db,
		Clock:    time.Now,
		IDs:      store.NewUUIDProvider(),
		Logger:   logger,
		PublishObserver: func(path string) {
			metricsSet.SnapshotsPublished.WithLabelValues(collectionKind(path)).Inc()
		},
	})
	if err != nil {
		return err
	}

	directoryService, err := directory.NewService(directory.ServiceConfig{Store: documentStore, Logger: logger})
	if err != nil {
		return err
	}
	candidateService, err := candidates.NewService(candidates.ServiceConfig{Store: documentStore, Logger: logger})
	if err != nil {
		return err
	}

	fanout, err := mentions.NewFanout(mentions.FanoutConfig{
		Store:           documentStore,
		Directory:       directoryService,
		Candidates:      candidateService,
		IDs:             store.NewUUIDProvider(),
		Logger:          logger,
		CreatedObserver: metricsSet.NotificationsCreated.Inc,
	})
	if err != nil {
		return err
	}

	feed, err := notes.NewFeed(notes.FeedConfig{Store: documentStore, Logger: logger, Notifier: fanout})
	if err != nil {
		return err
	}
	reactionLedger, err := notes.NewReactionLedger(notes.ReactionLedgerConfig{Store: documentStore, Logger: logger})
	if err != nil {
		return err
	}
	starLedger, err := notes.NewStarLedger(notes.StarLedgerConfig{Store: documentStore, Logger: logger})
	if err != nil {
		return err
	}

	tracker, err := presence.NewTracker(presence.TrackerConfig{
		Store:             documentStore,
		Clock:             time.Now,
		Logger:            logger,
		HeartbeatInterval: appConfig.PresenceHeartbeat,
		HeartbeatObserver: metricsSet.PresenceHeartbeats.Inc,
	})
	if err != nil {
		return err
	}
	typing, err := presence.NewIndicator(presence.IndicatorConfig{
		Store:       documentStore,
		Clock:       time.Now,
		Logger:      logger,
		QuietPeriod: appConfig.TypingQuietPeriod,
	})
	if err != nil {
		return err
	}
	defer typing.Close()

	attachmentStorage, err := attachments.NewStorage(attachments.StorageConfig{
		RootDir: appConfig.AttachmentsDir,
		BaseURL: appConfig.PublicBaseURL,
		Clock:   time.Now,
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	tokenManager := auth.NewTokenManager(auth.TokenManagerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        "huddle-auth",
		Audience:      "huddle-api",
	})

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Tokens:      tokenManager,
		Store:       documentStore,
		Feed:        feed,
		Reactions:   reactionLedger,
		Stars:       starLedger,
		Candidates:  candidateService,
		Directory:   directoryService,
		Presence:    tracker,
		Typing:      typing,
		Attachments: attachmentStorage,
		Metrics:     metricsSet,
		Logger:      logger,
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
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// collectionKind normalizes a collection path to its trailing segment so the
// snapshot counter keeps bounded label cardinality.
func collectionKind(path string) string {
	if idx := strings.LastIndex(path, "/"); idx >= 0 {
		return path[idx+1:]
	}
	return path
}
