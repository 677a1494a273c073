package cmd

import (
	"context"
	"log"
	"log/slog"
	"net/http"

	"curevo/config"
	"curevo/internal/handlers"
	"curevo/internal/services"
	"curevo/monitoring"
	"curevo/security"
	"curevo/utils"

	"github.com/pocketbase/dbx"
	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/plugins/migratecmd"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	pubnub "github.com/pubnub/go"
	"github.com/redis/go-redis/v9"

	_ "curevo/migrations"
)

func Start() error {
	app := pocketbase.New()

	cfg := config.LoadConfig()

	redisClient := utils.NewRedisClient(cfg.RedisURL, cfg.RedisPassword, cfg.RedisDB)
	defer redisClient.Close()

	// PubNub is optional: without keys the notifier degrades to a no-op
	// and clients fall back to polling.
	var pn *pubnub.PubNub
	if cfg.PubNubPublishKey != "" && cfg.PubNubSubscribeKey != "" {
		pnConfig := pubnub.NewConfig()
		pnConfig.PublishKey = cfg.PubNubPublishKey
		pnConfig.SubscribeKey = cfg.PubNubSubscribeKey
		pnConfig.SecretKey = cfg.PubNubSecretKey
		pn = pubnub.NewPubNub(pnConfig)
	}

	// Services
	store := services.NewPBAppointmentStore(app)
	schedules := services.NewPBScheduleProvider(app)
	notifier := services.NewNotifyService(pn)
	tokens := services.NewTokenService(redisClient, cfg.TokenCounterTTL)
	queueService := services.NewQueueService(redisClient, notifier, cfg)
	slotService := services.NewSlotService(schedules, store)
	appointmentService := services.NewAppointmentService(store, schedules, tokens, queueService, notifier)

	// Handlers
	appointmentHandler := handlers.NewAppointmentHandler(app, appointmentService, redisClient)
	slotHandler := handlers.NewSlotHandler(app, slotService)
	queueHandler := handlers.NewQueueHandler(app, appointmentService, queueService)
	adminHandler := handlers.NewAdminHandler(app, queueService, redisClient)

	rateLimiter := security.NewRateLimiter(redisClient, cfg.RateLimitPerMinute)
	consoleOnly := security.RequireConsoleKey(cfg.ConsoleKeyHash)

	migratecmd.MustRegister(app, app.RootCmd, migratecmd.Config{
		Automigrate: true,
	})

	if cfg.EnableMetrics {
		monitoring.NewMonitor(redisClient)
		go func() {
			if err := http.ListenAndServe(":"+cfg.MetricsPort, promhttp.Handler()); err != nil {
				log.Printf("metrics server stopped: %v", err)
			}
		}()
	}

	app.OnServe().BindFunc(func(e *core.ServeEvent) error {
		syncActiveDoctors(app, redisClient)
		queueService.StartBackground()
		go func() {
			if err := appointmentService.RecoverQueues(context.Background()); err != nil {
				log.Printf("queue recovery: %v", err)
			}
		}()

		g := e.Router.Group("/api/v1")

		// Patient endpoints
		g.GET("/doctors/{id}/slots", slotHandler.List)
		g.POST("/appointments", appointmentHandler.Book).BindFunc(rateLimiter.BookingRateLimit())
		g.POST("/appointments/{id}/check-in", appointmentHandler.CheckIn).BindFunc(rateLimiter.BookingRateLimit())
		g.POST("/appointments/{id}/cancel", appointmentHandler.Cancel)
		g.GET("/appointments/{id}/position", appointmentHandler.Position)

		// Doctor-console endpoints
		g.POST("/doctors/{id}/call-next", queueHandler.CallNext).BindFunc(consoleOnly)
		g.POST("/appointments/{id}/complete", appointmentHandler.Complete).BindFunc(consoleOnly)
		g.POST("/appointments/{id}/no-show", appointmentHandler.MarkNoShow).BindFunc(consoleOnly)
		g.GET("/doctors/{id}/queue", queueHandler.Status)

		// Board display
		g.GET("/clinics/{id}/board", queueHandler.Board)

		// Admin endpoints
		g.GET("/admin/queue-dashboard", adminHandler.QueueDashboard)
		g.GET("/admin/queue-details", adminHandler.QueueDetails)

		// Health check
		e.Router.GET("/health", func(e *core.RequestEvent) error {
			if err := utils.RedisHealthCheck(redisClient); err != nil {
				return e.JSON(503, map[string]string{
					"status": "unhealthy",
					"error":  err.Error(),
				})
			}
			return e.JSON(200, map[string]string{"status": "healthy"})
		})

		log.Println("Server routes registered")

		setupRecordHooks(app, redisClient)

		return e.Next()
	})

	app.OnTerminate().BindFunc(func(e *core.TerminateEvent) error {
		queueService.Shutdown()
		return e.Next()
	})

	return app.Start()
}

// syncActiveDoctors rebuilds the Redis set used as the cheap pre-check
// before the booking path touches SQLite.
func syncActiveDoctors(app *pocketbase.PocketBase, redisClient *redis.Client) {
	ctx := context.Background()

	var rows []dbx.NullStringMap
	if err := app.DB().NewQuery(
		"SELECT id FROM doctors WHERE active = TRUE",
	).All(&rows); err != nil {
		log.Printf("fetching active doctors: %v", err)
		return
	}

	redisClient.Del(ctx, "active_doctors")

	var ids []interface{}
	for _, row := range rows {
		if id := row["id"].String; id != "" {
			ids = append(ids, id)
		}
	}
	if len(ids) > 0 {
		redisClient.SAdd(ctx, "active_doctors", ids...)
		log.Printf("Synced %d active doctors to Redis", len(ids))
	}
}

// setupRecordHooks keeps the Redis doctor set in step with the directory
// and keeps the appointment lifecycle inside the service layer: the
// PocketBase CRUD API would otherwise allow arbitrary status writes that
// skip token allocation and queue bookkeeping.
func setupRecordHooks(app *pocketbase.PocketBase, redisClient *redis.Client) {
	syncDoctor := func(e *core.RecordRequestEvent) error {
		if err := e.Next(); err != nil {
			return err
		}
		ctx := e.Request.Context()
		if e.Record.GetBool("active") {
			if err := redisClient.SAdd(ctx, "active_doctors", e.Record.Id).Err(); err != nil {
				slog.Error("adding doctor to active set", "doctor", e.Record.Id, "error", err)
			}
		} else {
			if err := redisClient.SRem(ctx, "active_doctors", e.Record.Id).Err(); err != nil {
				slog.Error("removing doctor from active set", "doctor", e.Record.Id, "error", err)
			}
		}
		return nil
	}
	app.OnRecordCreateRequest("doctors").BindFunc(syncDoctor)
	app.OnRecordUpdateRequest("doctors").BindFunc(syncDoctor)

	app.OnRecordDeleteRequest("doctors").BindFunc(func(e *core.RecordRequestEvent) error {
		id := e.Record.Id
		if err := e.Next(); err != nil {
			return err
		}
		redisClient.SRem(e.Request.Context(), "active_doctors", id)
		return nil
	})

	app.OnRecordCreateRequest("appointments").BindFunc(func(e *core.RecordRequestEvent) error {
		if e.Auth == nil || e.Auth.Collection().Name != core.CollectionNameSuperusers {
			return apis.NewForbiddenError("Appointments are created via /api/v1/appointments", nil)
		}
		return e.Next()
	})

	app.OnRecordUpdateRequest("appointments").BindFunc(func(e *core.RecordRequestEvent) error {
		if e.Auth == nil || e.Auth.Collection().Name != core.CollectionNameSuperusers {
			return apis.NewForbiddenError("Appointments are updated via /api/v1/appointments", nil)
		}
		return e.Next()
	})
}
