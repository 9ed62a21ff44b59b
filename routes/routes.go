package routes

import (
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/Dosada05/tournament-engine/handlers"
	"github.com/Dosada05/tournament-engine/middleware"
)

func SetupRoutes(
	router *chi.Mux,
	jwtSecret []byte,
	tournamentHandler *handlers.TournamentHandler,
	matchHandler *handlers.MatchHandler,
	webSocketHandler *handlers.WebSocketHandler,
) {
	router.Use(chiMiddleware.RequestID)
	router.Use(chiMiddleware.RealIP)
	router.Use(chiMiddleware.Logger)
	router.Use(chiMiddleware.Recoverer)

	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	authenticate := middleware.Authenticate(jwtSecret)

	router.Route("/tournaments", func(r chi.Router) {
		// Публичные маршруты для просмотра турниров
		r.Get("/", tournamentHandler.List)
		r.Get("/{tournamentID}", tournamentHandler.GetByID)
		r.Get("/{tournamentID}/matches", matchHandler.ListByTournament)
		r.Get("/{tournamentID}/bracket", matchHandler.LatestSnapshot)
		r.Get("/{tournamentID}/bracket/history", matchHandler.ListSnapshots)

		// Защищённые маршруты
		r.Group(func(r chi.Router) {
			r.Use(authenticate)

			r.Post("/", tournamentHandler.Create)
			r.Post("/{tournamentID}/join", tournamentHandler.Join)
			r.Delete("/{tournamentID}/leave", tournamentHandler.Leave)
			r.Post("/{tournamentID}/start", tournamentHandler.Start)
			r.Post("/{tournamentID}/matches/{matchID}/play", matchHandler.Play)
		})
	})

	router.Get("/ws/tournaments/{tournamentID}", webSocketHandler.ServeWs)
}
