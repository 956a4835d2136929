package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/sunridge-labs/leadvault/internal/auth"
	"github.com/sunridge-labs/leadvault/internal/buyers"
	"github.com/sunridge-labs/leadvault/internal/config"
	"github.com/sunridge-labs/leadvault/internal/database"
	"github.com/sunridge-labs/leadvault/internal/logging"
	"github.com/sunridge-labs/leadvault/internal/ratelimit"
	"github.com/sunridge-labs/leadvault/internal/server"
	"github.com/sunridge-labs/leadvault/internal/users"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var cfgFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "leadvault-api",
		Short: "LeadVault buyer lead tracker backend service",
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
	cmd.PersistentFlags().String("database-driver", defaults.GetString("database.driver"), "Database driver (sqlite, postgres)")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("database-dsn", defaults.GetString("database.dsn"), "PostgreSQL connection string")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().Int("token-ttl-minutes", defaults.GetInt("auth.token_ttl_minutes"), "Session token TTL in minutes")
	cmd.PersistentFlags().String("signing-secret", "", "Session signing secret (overrides env)")
	cmd.PersistentFlags().String("redis-addr", defaults.GetString("redis.addr"), "Redis address for shared rate limiting")
	cmd.PersistentFlags().Int("create-per-minute", defaults.GetInt("ratelimit.create_per_minute"), "Lead creations allowed per minute")
	cmd.PersistentFlags().Int("update-per-minute", defaults.GetInt("ratelimit.update_per_minute"), "Lead updates allowed per minute")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.driver", "database-driver")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "database.dsn", "database-dsn")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "auth.token_ttl_minutes", "token-ttl-minutes")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
	bindFlag(cmd, "redis.addr", "redis-addr")
	bindFlag(cmd, "ratelimit.create_per_minute", "create-per-minute")
	bindFlag(cmd, "ratelimit.update_per_minute", "update-per-minute")
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

	var db *gorm.DB
	if appConfig.UsesPostgres() {
		db, err = database.OpenPostgres(appConfig.DatabaseDSN, logger)
	} else {
		db, err = database.OpenSQLite(appConfig.DatabasePath, logger)
	}
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	tokenManager, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        "leadvault-auth",
		Audience:      "leadvault-api",
		TokenTTL:      appConfig.TokenTTL,
	})
	if err != nil {
		return err
	}

	idProvider := buyers.NewUUIDProvider()

	userService, err := users.NewService(users.ServiceConfig{
		Database:   db,
		IDProvider: idProvider,
	})
	if err != nil {
		return err
	}

	leadService, err := buyers.NewService(buyers.ServiceConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: idProvider,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	createLimiter, updateLimiter := buildLimiters(appConfig, logger)

	handler, err := server.NewHTTPHandler(server.Dependencies{
		TokenManager:  tokenManager,
		UserService:   userService,
		LeadService:   leadService,
		CreateLimiter: createLimiter,
		UpdateLimiter: updateLimiter,
		Logger:        logger,
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

func buildLimiters(appConfig config.AppConfig, logger *zap.Logger) (ratelimit.Limiter, ratelimit.Limiter) {
	window := time.Minute
	if appConfig.UsesRedisLimiter() {
		client := redis.NewClient(&redis.Options{Addr: appConfig.RedisAddr})
		logger.Info("rate limiting via redis", zap.String("addr", appConfig.RedisAddr))
		return ratelimit.NewRedisLimiter(client, appConfig.CreatePerMinute, window, "leadvault:rl:create"),
			ratelimit.NewRedisLimiter(client, appConfig.UpdatePerMinute, window, "leadvault:rl:update")
	}
	return ratelimit.NewMemoryLimiter(appConfig.CreatePerMinute, window, time.Now),
		ratelimit.NewMemoryLimiter(appConfig.UpdatePerMinute, window, time.Now)
}
