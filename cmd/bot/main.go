package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"nano-banana-studio/internal/api"
	"nano-banana-studio/internal/config"
	"nano-banana-studio/internal/credentials"
	"nano-banana-studio/internal/handlers"
	"nano-banana-studio/internal/httpclient"
	"nano-banana-studio/internal/mediagroup"
	"nano-banana-studio/internal/session"
	"nano-banana-studio/internal/studio"
	"nano-banana-studio/internal/telegram"
)

const evictInterval = time.Minute

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	logger := newLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("bot stopped", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	httpClient := httpclient.New(httpclient.Options{
		PreferIPv4: cfg.PreferIPv4,
		Timeout:    cfg.HTTPTimeout,
	})

	tg, err := telegram.New(telegram.Options{
		Token:      cfg.TelegramToken,
		HTTPClient: httpClient,
		Logger:     logger,
		Debug:      cfg.Debug,
	})
	if err != nil {
		return fmt.Errorf("telegram init: %w", err)
	}

	creds, err := credentials.OpenFile(cfg.CredentialsFile)
	if err != nil {
		return fmt.Errorf("open credentials %s: %w", cfg.CredentialsFile, err)
	}
	logger.Debug("credentials loaded", "path", cfg.CredentialsFile, "entries", len(creds.Keys()))

	studioAPI := api.New(api.Options{
		BaseURL:    cfg.StudioAPIURL,
		HTTPClient: httpClient,
		Logger:     logger,
	})
	presenter := handlers.NewPresenter(tg, studioAPI, logger)

	sessions := session.NewStore(session.Options{
		New:     sessionFactory(cfg, studioAPI, creds, presenter, logger),
		IdleTTL: cfg.SessionIdleTTL,
		OnEvict: presenter.Forget,
		Logger:  logger,
	})
	defer sessions.Close()
	go sessions.Run(ctx, evictInterval)

	handler := handlers.New(handlers.Options{
		Telegram:     tg,
		Sessions:     sessions,
		Logger:       logger,
		MaxDownloads: cfg.MaxConcurrent,
	})

	pool := newWorkers(cfg.MaxConcurrent, cfg.RequestTimeout)
	defer pool.Wait()

	aggregator := mediagroup.New(mediagroup.Options{
		Debounce: cfg.MediaGroupDebounce,
		OnFlush: func(group mediagroup.Group) {
			pool.Go(ctx, func(reqCtx context.Context) {
				handler.HandleMediaGroup(reqCtx, group)
			})
		},
	})
	defer aggregator.Close()
	handler.SetMediaGroupAggregator(aggregator)

	updates := tg.Updates(telegram.UpdatesOptions{Timeout: 30 * time.Second})
	defer tg.StopUpdates()
	logger.Info("bot started", "username", tg.Username(), "api", cfg.StudioAPIURL)

	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down", "sessions", sessions.Len(), "pending_albums", aggregator.Pending())
			return nil
		case update, ok := <-updates:
			if !ok {
				return errors.New("updates channel closed")
			}
			pool.Go(ctx, func(reqCtx context.Context) {
				if err := handler.HandleUpdate(reqCtx, update); err != nil && !errors.Is(err, context.Canceled) {
					logger.Error("handle update failed", "update_id", update.UpdateID, "err", err)
				}
			})
		}
	}
}

// sessionFactory builds the studio of one Telegram user. A private chat has
// the id of its user, so notices and the gallery go to userID.
func sessionFactory(cfg config.Config, client *api.Client, creds credentials.Store, p *handlers.Presenter, logger *slog.Logger) session.Factory {
	return func(userID int64) *studio.Session {
		sess := studio.New(studio.Options{
			API:                client,
			Credentials:        credentials.Scoped(creds, strconv.FormatInt(userID, 10)),
			Notifier:           p.Notifier(userID),
			Render:             p.Render(userID),
			ListLimit:          cfg.GalleryLimit,
			MaxConcurrent:      cfg.MaxConcurrent,
			BackgroundInterval: cfg.PollInterval,
			FastDelay:          cfg.FastPollDelay,
			FastInterval:       cfg.FastPollInterval,
			FastMaxTicks:       cfg.FastPollMaxTicks,
			Logger:             logger.With("user_id", userID),
		})
		sess.StartPolling()
		return sess
	}
}

func newLogger(cfg config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
}
