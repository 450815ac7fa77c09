package http

import (
	"context"
	"errors"
	"fmt"
	stdhttp "net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"chatcall_realtime/internal/cache"
	"chatcall_realtime/internal/clock"
	"chatcall_realtime/internal/config"
	"chatcall_realtime/internal/database"
	"chatcall_realtime/internal/fanout"
	"chatcall_realtime/internal/handler"
	"chatcall_realtime/internal/logging"
	"chatcall_realtime/internal/model"
	"chatcall_realtime/internal/presence"
	"chatcall_realtime/internal/push"
	"chatcall_realtime/internal/realtime"
	"chatcall_realtime/internal/redis"
	"chatcall_realtime/internal/repository"
	"chatcall_realtime/internal/signaling"
	"chatcall_realtime/internal/transport/ws"
	"chatcall_realtime/internal/worker"
)

const shutdownTimeout = 15 * time.Second

func Run() error {
	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Connect to Database
	db, err := database.Connect(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	userRepo := repository.NewUserRepository(db)
	tokenRepo := repository.NewPushTokenRepository(db)
	chatRepo := repository.NewChatRepository(db)
	friendRepo := repository.NewFriendRepository(db)
	messageRepo := repository.NewMessageRepository(db)

	// 3. Presence store: Redis in front of the user table when configured
	var presenceStore presence.Store = userRepo
	if cfg.RedisURL != "" {
		rdb, err := redis.NewClient(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("failed to create redis client: %w", err)
		}
		defer rdb.Close()
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = rdb.Ping(pingCtx)
		cancel()
		if err != nil {
			logger.Warn().Err(err).Msg("Redis unavailable, presence served from the database")
		} else {
			presenceStore = cache.NewPresenceStore(rdb.Client, userRepo, logger)
			logger.Info().Msg("Connected to Redis")
		}
	}

	// 4. Push providers
	senders, err := buildSenders(ctx, cfg, logger)
	if err != nil {
		return err
	}
	clk := clock.Real{}
	dispatcher := push.NewDispatcher(tokenRepo, senders, push.Options{
		Timeout:      cfg.PushTimeout,
		Concurrency:  cfg.PushConcurrency,
		DedupeWindow: cfg.CallEndDedupe,
		Clock:        clk,
	}, logger)

	// 5. Realtime core
	hub := realtime.NewHub(logger)
	registry := realtime.NewRegistry(hub, clk, logger)
	tracker := presence.NewTracker(presenceStore, friendRepo, hub, registry, cfg.PresenceWriteWait, logger)
	offers := signaling.NewOfferCache(cfg.OfferTTL, clk)
	relay := signaling.NewRelay(hub, offers, registry, chatRepo, userRepo, dispatcher, logger)
	messages := fanout.NewService(messageRepo, chatRepo, userRepo, hub, dispatcher, clk, logger)

	socketHandler := handler.NewSocketHandler(registry, hub, chatRepo, messages, relay, tracker, logger)
	wsHandler := ws.NewHandler(registry, tracker, socketHandler, cfg.WSSendBuffer, logger)

	router := NewRouter(RouterConfig{
		SocketHandler: wsHandler,
		DeviceHandler: handler.NewDeviceHandler(tokenRepo, logger),
		JWTSecret:     cfg.JWTSecret,
	})

	workers := worker.NewManager(logger,
		worker.SweepJob("offer-cache", cfg.CacheSweepEvery, offers, logger),
		worker.SweepJob("call-end-dedupe", cfg.CacheSweepEvery, dispatcher.Deduper(), logger),
	)
	workers.Start(ctx)

	// 6. Serve until signalled
	srv := &stdhttp.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("Starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, stdhttp.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP shutdown incomplete")
	}
	if err := wsHandler.CloseAll(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Sockets did not close in time")
	}
	workers.Stop()
	relay.Wait()
	messages.Wait()
	logger.Info().Msg("Server stopped")
	return nil
}

// buildSenders registers only the providers whose credentials are present.
func buildSenders(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (map[string]push.Sender, error) {
	senders := make(map[string]push.Sender)

	if cfg.ExpoEnabled {
		senders[model.ProviderExpo] = push.NewExpoSender(push.ExpoPushURL, cfg.ExpoAccessToken, cfg.PushTimeout, logger)
	}

	if cfg.FCMConfigured() {
		fcm, err := push.NewFCMSender(ctx, cfg.FCMProjectID, cfg.FCMClientEmail, cfg.FCMPrivateKey, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to init FCM: %w", err)
		}
		senders[model.ProviderFCM] = fcm
	} else {
		logger.Warn().Msg("FCM credentials not set, platform push limited to APNs")
	}

	if cfg.APNsConfigured() {
		client, err := push.NewAPNsClient(push.APNsConfig{
			KeyID:      cfg.APNsKeyID,
			TeamID:     cfg.APNsTeamID,
			AuthKey:    []byte(cfg.APNsAuthKey),
			BundleID:   cfg.APNsBundleID,
			Production: cfg.APNsProduction,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to init APNs: %w", err)
		}
		senders[model.ProviderAPNsAlert] = push.NewAPNsAlertSender(client, cfg.APNsBundleID, logger)
		senders[model.ProviderAPNsVoIP] = push.NewAPNsVoIPSender(client, cfg.APNsBundleID, logger)
	} else {
		logger.Warn().Msg("APNs credentials not set, VoIP push disabled")
	}

	providers := make([]string, 0, len(senders))
	for p := range senders {
		providers = append(providers, p)
	}
	logger.Info().Strs("providers", providers).Msg("Push providers registered")
	return senders, nil
}
