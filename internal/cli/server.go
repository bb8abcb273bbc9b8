package cli

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"quiz-room-service/internal/auth"
	"quiz-room-service/internal/config"
	"quiz-room-service/internal/domain"
	"quiz-room-service/internal/game"
	"quiz-room-service/internal/infra/memory"
	pgloader "quiz-room-service/internal/infra/postgres"
	infraredis "quiz-room-service/internal/infra/redis"
	"quiz-room-service/internal/room"
	"quiz-room-service/internal/score"
	"quiz-room-service/internal/transport/ws"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the quiz room server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	log := zerolog.New(os.Stderr).With().Timestamp().Logger()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg, log); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}
	redisTTL := config.Duration(cfg.Redis.TTL, 2*time.Hour)

	var pool *pgxpool.Pool
	if cfg.Postgres.URL != "" {
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
	}

	var loader memory.QuizLoader = memory.NewStaticQuizLoader(sampleQuizzes())
	if pool != nil {
		loader = pgloader.NewQuizLoader(pool)
	}

	quizTTL := config.Duration(cfg.Quiz.TTL, 10*time.Minute)
	var catalog interface {
		room.QuizCatalog
		game.QuizCatalog
	}
	if redisClient != nil {
		catalog = infraredis.NewCatalog(redisClient, loader, quizTTL)
	} else {
		catalog = memory.NewCatalog(loader, quizTTL)
	}

	var registryOpts []room.Option
	if redisClient != nil {
		registryOpts = append(registryOpts, room.WithCodeReserver(infraredis.NewRoomCodeStore(redisClient, redisTTL)))
	}
	if cfg.Game.MaxPlayers > 0 {
		registryOpts = append(registryOpts, room.WithDefaultMaxPlayers(cfg.Game.MaxPlayers))
	}
	registry := room.NewRegistry(catalog, registryOpts...)

	secret := cfg.Auth.Secret
	if secret == "" {
		secret = "dev-secret"
		log.Warn().Msg("auth.secret not configured, using insecure development secret")
	}
	tokens := auth.NewJWTManager(secret, config.Duration(cfg.Auth.TokenTTL, 24*time.Hour))
	gate := auth.NewGate(tokens)

	hub := ws.NewHub()
	orch := game.NewOrchestrator(registry, catalog, score.NewEngine(), hub, game.Config{
		MinPlayers:  cfg.Game.MinPlayers,
		Countdown:   config.Duration(cfg.Game.Countdown, 3*time.Second),
		RevealDelay: config.Duration(cfg.Game.RevealDelay, 5*time.Second),
	}, log)
	handler := ws.NewHandler(gate, registry, orch, hub, log)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/ws", handler.ServeWS)

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Info().Str("port", finalPort).Msg("starting quiz room service")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Info().Msg("shutting down server")
	case <-ctx.Done():
		log.Info().Msg("context canceled, shutting down server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// sampleQuizzes provides demo quiz data for running without Postgres.
func sampleQuizzes() map[string]domain.Quiz {
	return map[string]domain.Quiz{
		"quiz-1": {
			ID:          "quiz-1",
			Title:       "Warmup Trivia",
			TimeLimitMs: 25000,
			Scoring:     domain.ScoringConfig{BasePoints: 100, MaxTimeBonus: 50},
			Questions: []domain.Question{
				{
					Text:          "What is 2 + 2?",
					Options:       []string{"3", "4", "5", "22"},
					CorrectOption: 1,
				},
				{
					Text:          "Which planet is closest to the sun?",
					Options:       []string{"Venus", "Earth", "Mercury", "Mars"},
					CorrectOption: 2,
				},
			},
		},
	}
}
