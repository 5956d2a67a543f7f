package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/wellio/pushagent/internal/agent"
	"github.com/wellio/pushagent/internal/config"
	"github.com/wellio/pushagent/internal/database"
	"github.com/wellio/pushagent/internal/deeplink"
	"github.com/wellio/pushagent/internal/handlers"
	"github.com/wellio/pushagent/internal/payload"
	"github.com/wellio/pushagent/internal/useragent"
	"github.com/wellio/pushagent/internal/vapid"
	ws "github.com/wellio/pushagent/internal/websocket"
)

// AppVersion is also the worker version: a new build installs and activates
// on its first event.
const AppVersion = "1.0.0"

// Build timestamp - set at compile time or use current time
var buildTimestamp = time.Now().Unix()

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "Path to the YAML config file")
	httpOnly := flag.Bool("http-only", false, "Serve plain HTTP only (TLS terminated elsewhere)")
	selfSigned := flag.Bool("self-signed", false, "Enable HTTPS using a generated self-signed certificate")
	role := flag.String("role", "", "Default role for pushes that do not name one (coach|client)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if *httpOnly {
		cfg.Server.HTTPOnly = true
	}
	if *selfSigned {
		cfg.Server.SelfSigned = true
	}
	if *role != "" {
		cfg.App.Role = *role
		if err := cfg.Validate(); err != nil {
			fmt.Fprintf(os.Stderr, "config: %v\n", err)
			os.Exit(1)
		}
	}

	logger := newLogger(cfg.Logging.Level)
	slog.SetDefault(logger)
	logger.Info(fmt.Sprintf("Wellio push agent v%s (build: %d)", AppVersion, buildTimestamp))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("push agent stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	db, err := database.Initialize(cfg.Database.Path)
	if err != nil {
		return err
	}
	origin, err := cfg.OriginURL()
	if err != nil {
		return err
	}
	role := cfg.UserType()

	resolver := deeplink.NewResolver(deeplink.DefaultRoutes, origin)
	hub := ws.NewHub(ws.CommandOpener{Command: cfg.Push.OpenCommand}, logger)
	defer hub.CloseAll()

	defaults := payload.DefaultDefaults(role, resolver.Landing(role))
	if cfg.App.Name != "" {
		defaults.AppName = cfg.App.Name
	}
	a := agent.New(agent.Options{
		Scope:      cfg.Push.Scope,
		Version:    AppVersion,
		Origin:     origin,
		Registry:   useragent.NewRegistry(db),
		Tray:       useragent.NewTray(),
		Hub:        hub,
		Resolver:   resolver,
		Normalizer: payload.NewNormalizer(defaults),
		Logger:     logger,
	})

	// activate right away when a page already registered the worker
	if reg, err := a.Ensure(ctx); err == nil {
		logger.Info("worker active", "scope", reg.Scope, "version", reg.ActiveVersion)
	} else if errors.Is(err, useragent.ErrNotRegistered) {
		logger.Info("no worker registered yet, waiting for a page to register", "scope", cfg.Push.Scope)
	} else {
		logger.Error("worker activation failed", "error", err)
	}

	h := handlers.New(
		a,
		useragent.NewPushManager(db, cfg.Push.BaseURL),
		vapid.NewVerifier(),
		hub,
		websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     sameOrigin(origin),
		},
		logger,
	)

	return serve(ctx, setupRouter(h, origin, logger), cfg, logger)
}

func setupRouter(h *handlers.Handlers, origin *url.URL, logger *slog.Logger) *gin.Engine {
	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery(), slogGinLogger(logger))

	// CORS for the application pages; push senders do not need it
	allowOrigin := origin.Scheme + "://" + origin.Host
	router.Use(func(c *gin.Context) {
		if !strings.HasPrefix(c.Request.URL.Path, "/api/") {
			c.Next()
			return
		}
		c.Writer.Header().Set("Access-Control-Allow-Origin", allowOrigin)
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	})

	h.Register(router)
	return router
}

func sameOrigin(origin *url.URL) func(r *http.Request) bool {
	want := strings.ToLower(origin.Scheme + "://" + origin.Host)
	return func(r *http.Request) bool {
		got := r.Header.Get("Origin")
		return got == "" || strings.ToLower(got) == want
	}
}
