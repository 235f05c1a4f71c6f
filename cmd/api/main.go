package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"app/internal/config"
	"app/internal/handler"
	"app/internal/infra/db"
	infraRepo "app/internal/infra/repository"
	"app/internal/infra/sharedstore"
	"app/internal/ratelimit"
	"app/internal/realtime"
	"app/internal/server"
	"app/internal/task"
	"app/internal/usecase"
	auth "app/internal/usecase/auth_usecase"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
)

type uuidGenerator struct{}

func (g *uuidGenerator) NewID() string {
	return uuid.NewString()
}

type realClock struct{}

func (c *realClock) Now() time.Time {
	return time.Now()
}

func main() {
	// .envが無ければ環境変数だけで動く
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "error", err)
		os.Exit(1)
	}

	var log *slog.Logger
	if cfg.IsProd() {
		log = slog.New(slog.NewJSONHandler(os.Stdout, nil))
	} else {
		log = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
	slog.SetDefault(log)

	//DB接続
	gormDB, err := db.Connect()
	if err != nil {
		log.Error("db connect failed", "error", err)
		os.Exit(1)
	}
	if err := db.Migrate(gormDB); err != nil {
		log.Error("db migrate failed", "error", err)
		os.Exit(1)
	}

	// 共有ストア。Redisが無い構成ではインプロセスで動かす
	var store sharedstore.Store = sharedstore.NewMemoryStore()
	var redisStore *sharedstore.RedisStore
	if cfg.RedisURL != "" {
		redisStore, err = sharedstore.NewRedisStore(cfg.RedisURL)
		if err != nil {
			log.Warn("redis unavailable, using in-process store", "error", err)
		} else {
			store = sharedstore.NewFallbackStore(redisStore, sharedstore.NewMemoryStore(), log)
		}
	}
	defer store.Close()

	//Repository（GORM実装）生成
	userRepo := infraRepo.NewUserGormRepository(gormDB)
	teamRepo := infraRepo.NewTeamGormRepository(gormDB)
	clientRepo := infraRepo.NewClientGormRepository(gormDB)
	messageRepo := infraRepo.NewMessageGormRepository(gormDB)

	//usecaseに渡す部品
	idGen := &uuidGenerator{}
	clock := &realClock{}
	hasher := auth.NewBcryptPasswordHasher(12)
	verifier := auth.NewBcryptPasswordVerifier()

	//トークン発行・検証
	authority := auth.NewTokenAuthority(cfg.JWTSecret, store, userRepo, clock, idGen)

	//Usecase生成
	registerUC := auth.NewRegisterUserUsecase(userRepo, hasher, idGen, clock)
	loginUC := auth.NewLoginUsecase(userRepo, authority, verifier, clock)

	// 配送層は書き込み経路より先に組む。Redisがあれば
	// インスタンス間をpub/subで繋ぎ、無ければローカル配送のみ。
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hub := realtime.NewHub()
	defer hub.Close()
	var backplane *realtime.Backplane
	if redisStore != nil {
		backplane = realtime.NewBackplane(redisStore.Client(), log)
		go backplane.Run(rootCtx, hub)
	}
	gateway := realtime.NewGateway(hub, backplane, log)

	messageUC := usecase.NewMessageUsecase(messageRepo, clientRepo, userRepo, gateway, idGen, log)

	//レートリミッタ
	limiter := ratelimit.NewLimiter(store)

	// 取り込みキュー。Redisがある構成だけ有効
	var queueClient *asynq.Client
	if redisStore != nil {
		redisOpt, perr := asynq.ParseRedisURI(cfg.RedisURL)
		if perr != nil {
			log.Warn("asynq disabled, bad redis uri", "error", perr)
		} else {
			queueClient = asynq.NewClient(redisOpt)
			defer queueClient.Close()

			mux := asynq.NewServeMux()
			task.RegisterIngestHandler(mux, messageUC, log)
			worker := asynq.NewServer(redisOpt, asynq.Config{Concurrency: 5})
			go func() {
				if err := worker.Run(mux); err != nil {
					log.Error("ingest worker stopped", "error", err)
				}
			}()
			defer worker.Shutdown()
		}
	}

	//Handler生成
	handlers := server.Handlers{
		Auth:    handler.NewAuthHandler(registerUC, loginUC, authority),
		Message: handler.NewMessageHandler(messageUC),
		Team:    handler.NewTeamHandler(teamRepo),
		WS:      handler.NewWSHandler(authority, gateway, teamRepo, corsOrigins(cfg), log),
		Ingest:  handler.NewIngestHandler(queueClient, messageUC, log),
	}

	srv := server.New(handlers, authority, limiter, cfg.FEURL, log)

	go func() {
		<-rootCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("shutdown failed", "error", err)
		}
	}()

	addr := cfg.Port
	if addr[0] != ':' {
		addr = ":" + addr
	}
	log.Info("starting api server", "addr", addr)
	if err := srv.Start(addr); err != nil {
		log.Info("server stopped", "reason", err)
	}
}

func corsOrigins(cfg config.Config) []string {
	if cfg.FEURL == "" {
		return nil
	}
	return []string{cfg.FEURL}
}
