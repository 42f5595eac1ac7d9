// Command dutydesk runs the ticketing server: the chat webhook that
// issues login tokens, the redemption endpoint, and the static
// dashboard bundle.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/dropDatabas3/dutydesk/internal/config"
	"github.com/dropDatabas3/dutydesk/internal/couch"
	httpx "github.com/dropDatabas3/dutydesk/internal/http"
	"github.com/dropDatabas3/dutydesk/internal/http/controllers"
	"github.com/dropDatabas3/dutydesk/internal/metrics"
	"github.com/dropDatabas3/dutydesk/internal/observability/logger"
	"github.com/dropDatabas3/dutydesk/internal/rate"
	"github.com/dropDatabas3/dutydesk/internal/token"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "dutydesk:", err)
		os.Exit(1)
	}
}

func run() error {
	// .env is optional; real deployments use the environment directly
	_ = godotenv.Load()

	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	logger.Init(logger.Config{
		Env:         cfg.App.Env,
		Level:       cfg.Log.Level,
		ServiceName: "dutydesk",
	})
	defer func() { _ = logger.Sync() }()
	log := logger.Named("main")

	store := couch.NewRemote(cfg.Couch.URL)

	svc := token.New(token.Config{
		Store:    store,
		TicketDB: cfg.Couch.TicketDB,
		EventsDB: cfg.Couch.EventsDB,
		BaseURL:  cfg.Server.BaseURL,
		Secrets:  cfg.Slack.Tokens,
	})

	var limiter rate.Limiter
	if cfg.Cache.Driver == "redis" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Cache.Addr,
			Password: cfg.Cache.Password,
			DB:       cfg.Cache.DB,
		})
		limiter = rate.NewRedisLimiter(rdb, cfg.Cache.Prefix+":rl:", cfg.Rate.WebhookMax, cfg.Rate.WebhookWindow)
	} else {
		limiter = rate.NewMemoryLimiter(cfg.Rate.WebhookMax, cfg.Rate.WebhookWindow, nil)
	}

	router := httpx.NewRouter(httpx.Deps{
		Slack:     controllers.NewSlackController(svc, limiter),
		Redeem:    controllers.NewRedeemController(svc),
		Admin:     controllers.NewAdminController(store, cfg.Couch.TicketDB, cfg.Admin.JWTSecret),
		Metrics:   metrics.Register(nil),
		StaticDir: cfg.Server.StaticDir,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("server listening", zap.String("addr", cfg.Server.Addr), zap.String("base_url", cfg.Server.BaseURL))
	return httpx.Serve(ctx, cfg.Server.Addr, router)
}
