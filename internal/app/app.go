package app

import (
	"context"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel/trace"

	"newsletter-go/internal/brevo"
	"newsletter-go/internal/config"
	"newsletter-go/internal/events"
	"newsletter-go/internal/handlers"
	"newsletter-go/internal/logging"
	"newsletter-go/internal/middleware"
	"newsletter-go/internal/page"
	"newsletter-go/internal/repository"
	"newsletter-go/internal/service"
	"newsletter-go/web"
)

type Config struct {
	Settings       *config.Config
	Logger         *logging.ContextLogger
	TracerProvider trace.TracerProvider
	// Optional overrides; defaults are built from Settings.
	ContactsClient service.ContactsClient
	FormRepository repository.FormRepository
	Publisher      events.Publisher
	Pages          fs.FS
}

type Application struct {
	server  *http.Server
	config  *Config
	router  *gin.Engine
	catalog *page.Catalog
	forms   repository.FormRepository
	service *service.SubscriptionService
}

func Build(config *Config) (*Application, error) {
	settings := config.Settings
	if settings.GinMode != "" {
		gin.SetMode(settings.GinMode)
	}

	client := config.ContactsClient
	if client == nil {
		client = brevo.NewClient(settings.BrevoAPIURL, settings.BrevoAPIKey, brevo.WithTimeout(settings.BrevoTimeout))
	}

	forms := config.FormRepository
	if forms == nil {
		forms = repository.NewInMemoryFormRepository(settings.FormStateCapacity, settings.FormStateTTL)
	}

	pages := config.Pages
	if pages == nil {
		if settings.PagesDir != "" {
			pages = os.DirFS(settings.PagesDir)
		} else {
			pages = web.Pages()
		}
	}

	catalog, err := page.LoadCatalog(pages, page.NewScanner(settings.FormClass, config.Logger))
	if err != nil {
		return nil, fmt.Errorf("failed to load pages: %w", err)
	}

	stylesheet, err := page.BuildStylesheet(settings.FormClass)
	if err != nil {
		return nil, err
	}

	subscriptionService := service.NewSubscriptionService(client, forms, config.Publisher, config.Logger, service.Options{
		ListID:       settings.BrevoListID,
		Source:       settings.ContactSource,
		Messages:     settings.Messages,
		DismissDelay: settings.MessageDismissDelay,
		FadeDuration: settings.MessageFadeDuration,
	})
	formHandler := handlers.NewFormHandler(subscriptionService, catalog, stylesheet, config.Logger)
	subscriptionHandler := handlers.NewSubscriptionHandler(subscriptionService, config.Logger)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(settings.ServiceName, otelgin.WithTracerProvider(config.TracerProvider)))
	router.Use(middleware.RequestLogger(config.Logger))

	pagesGroup := router.Group("", middleware.Session(settings.SessionCookie))
	{
		pagesGroup.GET("/", formHandler.ServeIndex)
		pagesGroup.GET("/pages/:page", formHandler.ServePage)

		newsletter := pagesGroup.Group("/newsletter/pages/:page/forms/:form")
		{
			newsletter.GET("", formHandler.GetForm)
			newsletter.POST("/subscribe", formHandler.SubmitForm)
		}
	}

	api := router.Group("/api/v1")
	{
		api.POST("/subscriptions", subscriptionHandler.CreateSubscription)
	}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"timestamp": time.Now().UTC(),
			"service":   settings.ServiceName,
			"pages":     catalog.Names(),
		})
	})

	var handler http.Handler = router
	csrfKey, err := settings.CSRFAuthKey()
	if err != nil {
		return nil, err
	}
	if csrfKey != nil {
		handler = middleware.CSRF(csrfKey, settings.GinMode == gin.ReleaseMode, settings.CSRFTrustedOrigins)(router)
	} else {
		config.Logger.Warn("CSRF_KEY not set, form posts are not CSRF protected")
	}

	server := &http.Server{
		Addr:              ":" + settings.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return &Application{
		server:  server,
		config:  config,
		router:  router,
		catalog: catalog,
		forms:   forms,
		service: subscriptionService,
	}, nil
}

func (app *Application) Run() error {
	app.config.Logger.Info("Starting server on :" + app.config.Settings.Port)
	if err := app.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (app *Application) Shutdown(ctx context.Context) error {
	app.config.Logger.Info("Shutting down server...")
	return app.server.Shutdown(ctx)
}

// Handler is the root handler including CSRF protection when enabled.
func (app *Application) Handler() http.Handler {
	return app.server.Handler
}

func (app *Application) GetRouter() *gin.Engine {
	return app.router
}

func (app *Application) GetCatalog() *page.Catalog {
	return app.catalog
}

func (app *Application) GetForms() repository.FormRepository {
	return app.forms
}

func (app *Application) GetService() *service.SubscriptionService {
	return app.service
}
