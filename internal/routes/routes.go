package routes

import (
	"github.com/Viniciuscarvalho/FitToday-cms-sub000/internal/config"
	"github.com/Viniciuscarvalho/FitToday-cms-sub000/internal/handlers"
	"github.com/Viniciuscarvalho/FitToday-cms-sub000/internal/middleware"
	"github.com/Viniciuscarvalho/FitToday-cms-sub000/internal/repository"
	"github.com/Viniciuscarvalho/FitToday-cms-sub000/internal/services"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

func RegisterRoutes(app *fiber.App, cfg *config.Config, db *pgxpool.Pool, log zerolog.Logger) {
	userRepo := repository.NewUserRepository(db)
	profileRepo := repository.NewTrainerProfileRepository(db)
	subscriptionRepo := repository.NewSubscriptionRepository(db)
	transactionRepo := repository.NewTransactionRepository(db)
	programRepo := repository.NewProgramRepository(db)

	ledgerService := services.NewLedgerService(db, cfg.PlatformFeeBps)
	reviewService := services.NewReviewService(db, userRepo, subscriptionRepo)

	authHandler := handlers.NewAuthHandler(db, userRepo, profileRepo, cfg.JWTSecret)
	webhookHandler := handlers.NewWebhookHandler(ledgerService, cfg.StripeWebhookSecret, log)
	reviewHandler := handlers.NewReviewHandler(reviewService)
	financeHandler := handlers.NewFinanceHandler(profileRepo, transactionRepo)
	programHandler := handlers.NewProgramHandler(programRepo)

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	api := app.Group("/api")

	// Signature verification needs the raw request body, so this route stays
	// outside any middleware that could touch it.
	api.Post("/webhooks/stripe", webhookHandler.HandleStripeEvent)

	auth := api.Group("/auth")
	auth.Post("/register", authHandler.Register)
	auth.Post("/login", authHandler.Login)
	auth.Get("/me", middleware.AuthRequired(cfg.JWTSecret), authHandler.Me)

	api.Get("/v1/trainers/:id/reviews", reviewHandler.ListReviews)

	authProtected := api.Group("/v1", middleware.AuthRequired(cfg.JWTSecret))

	trainers := authProtected.Group("/trainers")
	trainers.Get("/me/balance", financeHandler.GetBalance)
	trainers.Get("/me/transactions", financeHandler.ListTransactions)
	trainers.Post("/:id/reviews", reviewHandler.SubmitReview)

	students := authProtected.Group("/students")
	students.Get("/me/programs", programHandler.ListMyPrograms)
}
