package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/oauth2/google"

	appsvc "medscan/internal/app"
	"medscan/internal/bootstrap"
	"medscan/internal/metrics"
	"medscan/internal/pkg/mailer"
	"medscan/internal/platform/rabbitmq"
	"medscan/internal/repository"
	"medscan/internal/transport/http/handler"
	"medscan/internal/transport/http/middleware"
	"medscan/pkg/predict"
)

func NewRouter(app *bootstrap.App) *gin.Engine {
	cfg := app.Config
	log := app.Logger

	gin.SetMode(cfg.App.GinMode)
	router := gin.New()
	router.Use(middleware.Recovery(log), middleware.RequestLogger(log, app.Metrics))

	healthHandler := handler.NewHealthHandler(cfg.App.Name, cfg.App.Env, app.StartedAt, map[string]handler.DependencyCheck{
		"mysql": func(ctx context.Context) error {
			sqlDB, err := app.MySQL.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
		"redis": func(ctx context.Context) error {
			return app.Redis.Ping(ctx).Err()
		},
		"rabbitmq": func(context.Context) error {
			if app.MQConn == nil || app.MQConn.IsClosed() {
				return errors.New("connection closed")
			}
			return nil
		},
	})
	router.GET("/healthz", healthHandler.Check)
	router.GET("/metrics", gin.WrapH(metrics.Handler(app.Registry)))

	userRepo := repository.NewUserRepository(app.MySQL)
	predictionRepo := repository.NewPredictionRepository(app.MySQL)

	var outbox appsvc.Mailer = mailer.NewLogMailer(log)
	if cfg.MailEnabled() {
		outbox = mailer.NewSMTPMailer(cfg.SMTP.Host, cfg.SMTP.Port, cfg.SMTP.Username, cfg.SMTP.Password, cfg.SMTP.From)
	}

	authService := appsvc.NewAuthService(userRepo, outbox, app.Denylist, appsvc.AuthConfig{
		JWTSecret:         cfg.Auth.JWTSecret,
		TokenTTL:          time.Duration(cfg.Auth.JWTExpireMinute) * time.Minute,
		VerifyTokenTTL:    time.Duration(cfg.Auth.VerifyTokenExpireMinute) * time.Minute,
		MinPasswordLength: cfg.Auth.MinPasswordLength,
		PublicURL:         cfg.App.PublicURL,
	}, log)

	var googleCfg appsvc.GoogleOAuthConfig
	if cfg.GoogleEnabled() {
		googleCfg = appsvc.GoogleOAuthConfig{
			ClientID:     cfg.Google.ClientID,
			ClientSecret: cfg.Google.ClientSecret,
			RedirectURL:  cfg.Google.RedirectURL,
			Endpoint:     google.Endpoint,
		}
	}
	oauthService := appsvc.NewGoogleOAuthService(googleCfg, app.OAuthStates, authService, log)

	inference := predict.NewClient(cfg.Inference.BaseURL,
		predict.WithHTTPClient(&http.Client{Timeout: time.Duration(cfg.Inference.TimeoutSeconds) * time.Second}),
		predict.WithLogger(log.Named("inference")),
		// images were already compressed by the caller
		predict.WithoutCompression(),
	)
	retryLog := predict.WithRetryLogger(log.Named("blob"))
	predictionService := appsvc.NewPredictionService(
		inference,
		app.Blobs,
		rabbitmq.NewJSONPublisher(app.MQConn, cfg.RabbitMQ.PredictionPersistQueue),
		app.PredictionCache,
		predictionRepo,
		app.Metrics,
		appsvc.PredictionConfig{
			Persist:      cfg.Prediction.Persist,
			DefaultLimit: cfg.Prediction.DefaultLimit,
			MaxLimit:     cfg.Prediction.MaxLimit,
			RetryOptions: []predict.RetryOption{retryLog},
		},
		log,
	)
	avatarService := appsvc.NewAvatarService(app.Blobs, log, retryLog)
	contactService := appsvc.NewContactService(outbox, cfg.SMTP.ContactTo, log)

	authHandler := handler.NewAuthHandler(authService, oauthService, log)
	predictionHandler := handler.NewPredictionHandler(predictionService, log)
	avatarHandler := handler.NewAvatarHandler(avatarService, log)
	contactHandler := handler.NewContactHandler(contactService, log)

	requireAuth := middleware.AuthJWT(authService)
	limiter := middleware.NewRateLimiter(cfg.RateLimit.PredictPerMinute, cfg.RateLimit.Burst, app.Metrics, log)
	contactLimiter := middleware.NewRateLimiter(cfg.RateLimit.ContactPerMinute, 1, app.Metrics, log)

	// the gateway keeps the inference API's {"error": msg} shape for every rejection
	router.POST("/predict",
		middleware.AuthJWTWith(authService, middleware.PredictErrors),
		limiter.MiddlewareWith(middleware.PredictErrors),
		predictionHandler.Predict,
	)

	blobHandler := handler.NewBlobHandler(app.Blobs.Dir())
	blobs := router.Group("/blobs")
	blobs.GET("/avatars/*filepath", blobHandler.Avatar)
	blobs.GET("/predictions/:owner/*filepath", requireAuth, blobHandler.Prediction)

	v1 := router.Group("/api/v1")
	authGroup := v1.Group("/auth")
	authGroup.POST("/register", authHandler.Register)
	authGroup.POST("/login", authHandler.Login)
	authGroup.GET("/verify", authHandler.Verify)
	authGroup.GET("/google/login", authHandler.GoogleLogin)
	authGroup.GET("/google/callback", authHandler.GoogleCallback)
	authGroup.POST("/logout", requireAuth, authHandler.Logout)
	authGroup.GET("/me", requireAuth, authHandler.Me)
	authGroup.PATCH("/profile", requireAuth, authHandler.UpdateProfile)
	authGroup.POST("/verification", requireAuth, authHandler.SendVerification)

	profileGroup := v1.Group("/profile")
	profileGroup.Use(requireAuth)
	profileGroup.POST("/avatar", avatarHandler.Upload)

	v1.GET("/predictions", requireAuth, predictionHandler.List)
	v1.POST("/contact", contactLimiter.ByClientIP(), contactHandler.Send)

	return router
}
