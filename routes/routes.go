package routes

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware" // Alias to avoid conflict
	"github.com/go-chi/cors"
	"github.com/mikeka317/wager-arbiter/handlers"
	"github.com/mikeka317/wager-arbiter/middleware"
	"github.com/mikeka317/wager-arbiter/models"
	httpSwagger "github.com/swaggo/http-swagger"
)

type Options struct {
	JWTSecret      []byte
	AllowedOrigins []string
}

func SetupRoutes(
	router chi.Router,
	opts Options,
	matchHandler *handlers.MatchHandler,
	disputeHandler *handlers.DisputeHandler,
	tournamentHandler *handlers.TournamentHandler,
	operatorHandler *handlers.OperatorHandler,
	webSocketHandler *handlers.WebSocketHandler,
) {
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	router.Use(chiMiddleware.RequestID)
	router.Use(chiMiddleware.RealIP)
	router.Use(chiMiddleware.Logger)
	router.Use(chiMiddleware.Recoverer)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "If-Match"},
		ExposedHeaders:   []string{"ETag"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	router.Get("/health", handlers.Health)
	router.Get("/swagger/*", httpSwagger.Handler(httpSwagger.URL("/swagger/doc.json")))

	authenticate := middleware.Authenticate(opts.JWTSecret)
	privileged := middleware.Authorize(models.RoleAdmin, models.RoleSystem)
	adminOnly := middleware.Authorize(models.RoleAdmin)

	// Websocket живёт без таймаута запроса.
	router.Route("/ws", func(r chi.Router) {
		r.Use(authenticate)
		r.Get("/matches/{matchID}", webSocketHandler.ServeMatch)
		r.Get("/tournaments/{tournamentID}", webSocketHandler.ServeTournament)
	})

	router.Group(func(r chi.Router) {
		r.Use(authenticate)
		r.Use(chiMiddleware.Timeout(30 * time.Second))

		r.Route("/matches", func(r chi.Router) {
			r.With(privileged).Post("/", matchHandler.Create)

			r.Route("/{matchID}", func(r chi.Router) {
				r.Get("/", matchHandler.Get)
				r.Get("/timer", matchHandler.Timer)
				r.Get("/settlements", matchHandler.Settlements)
				r.Post("/ready", matchHandler.Ready)
				r.Post("/start", matchHandler.Start)
				r.Post("/scorecard", matchHandler.SubmitScorecard)
				r.Post("/proof", matchHandler.SubmitProof)
				r.Post("/proof/upload", matchHandler.UploadProof)
				r.Post("/dispute", matchHandler.RaiseDispute)
				r.With(adminOnly).Post("/arbitration/retry", matchHandler.RetryArbitration)
			})
		})

		r.Route("/disputes/{disputeID}", func(r chi.Router) {
			r.Get("/", disputeHandler.Get)
			r.With(adminOnly).Post("/resolve", disputeHandler.Resolve)
		})

		r.Route("/tournaments", func(r chi.Router) {
			r.With(privileged).Post("/", tournamentHandler.Create)
			r.Get("/{tournamentID}", tournamentHandler.Get)
		})

		r.Route("/operator", func(r chi.Router) {
			r.Use(adminOnly)
			r.Get("/alerts", operatorHandler.ListAlerts)
			r.Post("/alerts/{alertID}/ack", operatorHandler.AcknowledgeAlert)
		})
	})

	router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "Not Found", http.StatusNotFound)
	})
}
