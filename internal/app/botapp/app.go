package botapp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/nkarpachev/emberchat/backend/internal/config"
	tginfra "github.com/nkarpachev/emberchat/backend/internal/infra/telegram"
	"github.com/nkarpachev/emberchat/backend/internal/infra/timers"
	"github.com/nkarpachev/emberchat/backend/internal/jobs/cleanup"
	pgrepo "github.com/nkarpachev/emberchat/backend/internal/repo/postgres"
	redisrepo "github.com/nkarpachev/emberchat/backend/internal/repo/redis"
	chatsvc "github.com/nkarpachev/emberchat/backend/internal/services/chat"
	favsvc "github.com/nkarpachev/emberchat/backend/internal/services/favorites"
	invsvc "github.com/nkarpachev/emberchat/backend/internal/services/invites"
	matchsvc "github.com/nkarpachev/emberchat/backend/internal/services/match"
	profsvc "github.com/nkarpachev/emberchat/backend/internal/services/profiles"
	opshttp "github.com/nkarpachev/emberchat/backend/internal/transport/http"
)

// App wires the whole engine together: storage, services, the Telegram
// listener, the ops HTTP server, and the periodic cleanup sweep.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	postgres *pgxpool.Pool
	redis    *goredis.Client
	bot      *tginfra.Bot
	timers   *timers.Registry

	sessions    *pgrepo.SessionRepo
	chats       *pgrepo.ChatRepo
	connections *pgrepo.ConnectionRepo

	profiles  *profsvc.Service
	match     *matchsvc.Service
	chat      *chatsvc.Service
	favorites *favsvc.Service
	invites   *invsvc.Service

	cleanupJob *cleanup.Job
	opsServer  *http.Server
}

func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is nil")
	}

	pool, err := pgrepo.NewPool(ctx, cfg.Postgres.DSN)
	if err != nil {
		return nil, fmt.Errorf("init postgres: %w", err)
	}

	if err := pgrepo.EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	redisClient := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	bot, err := tginfra.NewBot(cfg.Bot.Token)
	if err != nil {
		pool.Close()
		_ = redisClient.Close()
		return nil, fmt.Errorf("init telegram bot: %w", err)
	}

	registry := timers.NewRegistry()

	txRunner := pgrepo.NewTxRunner(pool)
	profileRepo := pgrepo.NewProfileRepo(pool)
	sessionRepo := pgrepo.NewSessionRepo(pool)
	chatRepo := pgrepo.NewChatRepo(pool)
	connectionRepo := pgrepo.NewConnectionRepo(pool)
	inviteRepo := pgrepo.NewInviteRepo(pool)
	relayRepo := redisrepo.NewRelayRepo(redisClient, cfg.Engine.RelayTTL)

	profileService, err := profsvc.New(profsvc.Dependencies{
		Logger: logger,
		Store:  profileRepo,
	})
	if err != nil {
		pool.Close()
		_ = redisClient.Close()
		return nil, fmt.Errorf("init profile service: %w", err)
	}

	matchService, err := matchsvc.New(matchsvc.Dependencies{
		Logger:        logger,
		Sessions:      sessionRepo,
		Profiles:      profileRepo,
		Messenger:     bot,
		Timers:        registry,
		FallbackDelay: cfg.Engine.FallbackDelay,
	})
	if err != nil {
		pool.Close()
		_ = redisClient.Close()
		return nil, fmt.Errorf("init match service: %w", err)
	}

	chatService, err := chatsvc.New(chatsvc.Dependencies{
		Logger:         logger,
		Tx:             txRunner,
		Sessions:       sessionRepo,
		Chats:          chatRepo,
		Connections:    connectionRepo,
		Profiles:       profileRepo,
		Relay:          relayRepo,
		Messenger:      bot,
		Timers:         registry,
		Pool:           matchService,
		FavoritesDelay: cfg.Engine.FavoritesDelay,
		FeedbackDelay:  cfg.Engine.FeedbackDelay,
		ExitDelay:      cfg.Engine.ExitDelay,
	})
	if err != nil {
		pool.Close()
		_ = redisClient.Close()
		return nil, fmt.Errorf("init chat service: %w", err)
	}
	matchService.AttachStarter(chatService)

	favoritesService, err := favsvc.New(favsvc.Dependencies{
		Logger:      logger,
		Tx:          txRunner,
		Chats:       chatRepo,
		Connections: connectionRepo,
		Sessions:    sessionRepo,
		Profiles:    profileRepo,
		Messenger:   bot,
		ChatCtl:     chatService,
		Pool:        matchService,
	})
	if err != nil {
		pool.Close()
		_ = redisClient.Close()
		return nil, fmt.Errorf("init favorites service: %w", err)
	}

	inviteService, err := invsvc.New(invsvc.Dependencies{
		Logger:      logger,
		Invites:     inviteRepo,
		Sessions:    sessionRepo,
		Messenger:   bot,
		Starter:     chatService,
		BotUsername: bot.Username,
		TTL:         cfg.Engine.InviteTTL,
	})
	if err != nil {
		pool.Close()
		_ = redisClient.Close()
		return nil, fmt.Errorf("init invite service: %w", err)
	}

	cleanupJob := cleanup.New(inviteRepo, chatRepo, cfg.Engine.InviteTTL, logger)

	statsHandler := opshttp.NewStatsHandler(sessionRepo, chatRepo, connectionRepo, logger)
	opsServer := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      opshttp.NewRouter(statsHandler),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	return &App{
		cfg:         cfg,
		logger:      logger,
		postgres:    pool,
		redis:       redisClient,
		bot:         bot,
		timers:      registry,
		sessions:    sessionRepo,
		chats:       chatRepo,
		connections: connectionRepo,
		profiles:    profileService,
		match:       matchService,
		chat:        chatService,
		favorites:   favoritesService,
		invites:     inviteService,
		cleanupJob:  cleanupJob,
		opsServer:   opsServer,
	}, nil
}

func (a *App) Run(ctx context.Context) error {
	a.logger.Info("bot app started")

	errCh := make(chan error, 3)

	go func() {
		a.cleanupJob.RunPeriodically(ctx, a.cfg.Engine.CleanupInterval)
		errCh <- nil
	}()

	go func() {
		err := a.opsServer.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	go func() {
		errCh <- a.bot.Listen(ctx, tginfra.Handlers{
			OnCommand:  a.handleCommand,
			OnMessage:  a.handleMessage,
			OnCallback: a.handleCallback,
		})
	}()

	for {
		select {
		case <-ctx.Done():
			a.shutdown()
			a.logger.Info("bot app stopped")
			return nil
		case err := <-errCh:
			if err == nil || errors.Is(err, context.Canceled) {
				continue
			}
			a.shutdown()
			return err
		}
	}
}

func (a *App) shutdown() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = a.opsServer.Shutdown(shutdownCtx)

	a.timers.Stop()
}

func (a *App) Close() {
	if a.postgres != nil {
		a.postgres.Close()
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
}
