package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/overlord-community/backend/internal/auth"
	"github.com/overlord-community/backend/internal/community"
	"github.com/overlord-community/backend/internal/game"
	"github.com/overlord-community/backend/internal/metrics"
	"github.com/overlord-community/backend/internal/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		slog.Warn("JWT_SECRET not set, using an insecure development secret")
		jwtSecret = "overlord-dev-secret"
	}

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		if err := store.RunMigrations(dbURL); err != nil {
			slog.Error("migrations failed", "err", err)
			os.Exit(1)
		}

		pool, err := pgxpool.New(context.Background(), dbURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		st = store.NewPostgresStore(pool)
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
			opt, err := redis.ParseURL(redisURL)
			if err != nil {
				slog.Error("invalid REDIS_URL", "err", err)
				os.Exit(1)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, 30*time.Second)
			slog.Info("Redis cache enabled")
		}
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Auth ---
	tokens := auth.NewTokens(jwtSecret, 24*time.Hour)
	authSvc := auth.NewService(st, tokens)
	authenticate := auth.Authenticate(st, tokens)

	// --- WebSocket hub ---
	drawHub := game.NewDrawHub()
	go drawHub.Run()

	// --- Settlement engine + services ---
	engine := game.NewEngine(st)
	engine.SetNotify(drawHub.Announce)
	gameSvc := game.NewService(st, engine)
	communitySvc := community.NewService(st)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	// CORS middleware for frontend cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"overlord-backend"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket feed announcing each settled draw.
		r.Get("/ws", drawHub.HandleWS)

		// Accounts.
		r.Post("/auth/register", authSvc.Register)
		r.Post("/auth/login", authSvc.Login)

		// Public reads.
		r.Get("/game/frames", gameSvc.ListFrames)
		r.Get("/game/history", gameSvc.History)
		r.Get("/tournament/registrations", communitySvc.ListRegistrations)
		r.Get("/battles", communitySvc.ListBattles)
		r.Get("/builds", communitySvc.ListBuilds)
		r.Get("/builds/{id}", communitySvc.GetBuild)

		// Authenticated.
		r.Group(func(r chi.Router) {
			r.Use(authenticate)

			r.Get("/user/me", authSvc.Me)

			r.Post("/wagers", gameSvc.PlaceWager)
			r.Get("/wagers", gameSvc.MyWagers)

			r.Post("/tournament/register", communitySvc.RegisterTournament)
			r.Post("/builds", communitySvc.CreateBuild)
			r.Put("/builds/{id}", communitySvc.UpdateBuild)
			r.Delete("/builds/{id}", communitySvc.DeleteBuild)

			// Admin only.
			r.Group(func(r chi.Router) {
				r.Use(auth.RequireAdmin)

				r.Get("/wagers/all", gameSvc.AllWagers)
				r.Delete("/wagers/all", gameSvc.ClearWagers)
				r.Post("/game/draw", gameSvc.RunDraw)
				r.Get("/game/settings", gameSvc.GetSettings)
				r.Put("/game/settings", gameSvc.UpdateSettings)
				r.Get("/users", gameSvc.ListUsers)
				r.Put("/users/{email}/balance", gameSvc.GrantBalance)
				r.Post("/battles", communitySvc.CreateBattle)
			})
		})
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("overlord-backend listening", "port", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down overlord-backend...")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("overlord-backend stopped")
}
