package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chat-relay/auth"
	"chat-relay/config"
	"chat-relay/handlers/api/conversations"
	"chat-relay/handlers/api/health"
	"chat-relay/handlers/api/presence"
	"chat-relay/handlers/websocket"
	authMiddleware "chat-relay/middleware"
	"chat-relay/moderation"
	"chat-relay/relay"
	"chat-relay/stores"
	"chat-relay/telemetry"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 15 * time.Second

func setupRouter(cfg *config.Config, store stores.Store, hub *relay.Hub, validator auth.Validator) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Content-Length", "Origin", "X-Requested-With"},
		AllowCredentials: true,
		MaxAge:           300, // Maximum value not ignored by any of major browsers
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", health.HandleHealth(hub, time.Now()))

		r.Group(func(r chi.Router) {
			r.Use(authMiddleware.AuthJWT(validator))
			r.Get("/presence", presence.HandleOnlineUsers(hub.Presence()))
			r.Get("/rooms", presence.HandleActiveRooms(hub.Rooms()))
			r.Route("/conversations", func(r chi.Router) {
				r.Get("/", conversations.HandleListConversations(store))
				r.Post("/direct", conversations.HandleCreateDirect(store, hub))
				r.Post("/group", conversations.HandleCreateGroup(store, hub))
			})
		})
	})

	r.Handle("/ws", websocket.NewWSHandler(hub, cfg.AllowedOrigins))

	return r
}

func newValidator(ctx context.Context, cfg *config.Config, store stores.Store) (auth.Validator, error) {
	if cfg.OIDCEnabled() {
		logrus.WithField("issuer", cfg.OIDCIssuerURL).Info("Verifying OIDC ID tokens")
		return auth.NewOIDCValidator(ctx, cfg.OIDCIssuerURL, cfg.OIDCClientID, store)
	}
	return auth.NewJWTValidator(cfg.JWTSecret, store)
}

func run() error {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		logrus.Info("No .env file found")
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	listenAddress := flag.String("listen", cfg.ListenAddr, "The address to listen on.")
	logLevel := flag.String("loglevel", cfg.LogLevel, "The log level (debug, info, warn, error).")
	flag.Parse()

	level, err := logrus.ParseLevel(*logLevel)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGHUP, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	shutdownTracer, err := telemetry.Setup(ctx, cfg.OTELEndpoint, cfg.OTELEnabled)
	if err != nil {
		logrus.WithField("error", err).Warn("Tracing disabled")
	}

	store, err := stores.GetStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}

	validator, err := newValidator(ctx, cfg, store)
	if err != nil {
		_ = store.Close()
		return fmt.Errorf("auth: %w", err)
	}

	filter, err := moderation.NewFilter(cfg.CensoredWords, []rune(cfg.CensorChar)[0])
	if err != nil {
		_ = store.Close()
		return fmt.Errorf("moderation: %w", err)
	}

	hub := relay.NewHub(store, validator, relay.Options{
		AuthTimeout:      cfg.AuthTimeout,
		TypingTimeout:    cfg.TypingTimeout,
		QueueSize:        cfg.OutboundQueueSize,
		MaxContentLength: cfg.MaxContentLength,
		Filter:           filter,
	})

	r := setupRouter(cfg, store, hub, validator)
	ioo := websocket.SetupSocketIO(hub, cfg.AllowedOrigins)
	r.Mount("/socket.io/", ioo.ServeHandler(nil))

	srv := &http.Server{
		Addr:              *listenAddress,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logrus.WithField("addr", *listenAddress).Info("starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("start server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logrus.Info("Shutting down...")

		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		err := srv.Shutdown(sctx)
		if hubErr := hub.Shutdown(sctx); hubErr != nil {
			logrus.WithField("error", hubErr).Warn("Relay hub did not stop cleanly")
		}
		ioo.Close(nil)
		if storeErr := store.Close(); storeErr != nil {
			logrus.WithField("error", storeErr).Warn("Failed to close store")
		}
		if traceErr := shutdownTracer(sctx); traceErr != nil {
			logrus.WithField("error", traceErr).Warn("Failed to flush traces")
		}
		return err
	})

	return g.Wait()
}

func main() {
	if err := run(); err != nil {
		logrus.WithField("event", "start server").Fatal(err)
	}
}
