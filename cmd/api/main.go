package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/PortNumber53/agency-portal/backend/internal/bookings"
	"github.com/PortNumber53/agency-portal/backend/internal/calendar"
	"github.com/PortNumber53/agency-portal/backend/internal/config"
	"github.com/PortNumber53/agency-portal/backend/internal/database"
	"github.com/PortNumber53/agency-portal/backend/internal/handlers"
	"github.com/PortNumber53/agency-portal/backend/internal/logging"
	"github.com/PortNumber53/agency-portal/backend/internal/meetings"
	"github.com/PortNumber53/agency-portal/backend/internal/metrics"
	"github.com/PortNumber53/agency-portal/backend/internal/middleware"
	"github.com/PortNumber53/agency-portal/backend/internal/notifications"
	"github.com/PortNumber53/agency-portal/backend/internal/tone"
	"github.com/PortNumber53/agency-portal/backend/internal/workers"
)

type deps struct {
	getenv         func(string) string
	loadDotEnv     func(files ...string)
	openDB         func(ctx context.Context, url string) (*sql.DB, error)
	migrateUp      func(db *sql.DB, source string) error
	listenAndServe func(*http.Server) error
	notify         func(c chan<- os.Signal, sig ...os.Signal)
	stopCh         chan os.Signal
}

func defaultDeps() deps {
	return deps{
		getenv:         os.Getenv,
		loadDotEnv:     config.LoadDotEnv,
		openDB:         database.Open,
		migrateUp:      migrateUp,
		listenAndServe: func(s *http.Server) error { return s.ListenAndServe() },
		notify:         signal.Notify,
	}
}

func migrateUp(db *sql.DB, source string) error {
	if db == nil {
		return errors.New("migrate: nil db")
	}
	return database.MigrateUp(db, source)
}

func main() {
	if err := run(defaultDeps()); err != nil {
		log.Fatal(err)
	}
}

// services is everything the router and the workers share.
type services struct {
	tone          *tone.Engine
	meetings      *meetings.Service
	bookings      *bookings.Service
	calendar      *calendar.Client
	notifications *notifications.Store
}

func buildServices(db *sql.DB, cfg *config.Config) services {
	var (
		meetingCal meetings.CalendarSyncer
		bookingCal bookings.CalendarSyncer
		client     *calendar.Client
	)
	if cfg.CalendarEnabled() {
		client = calendar.NewClient(calendar.Config{
			ClientID:     cfg.Calendar.ClientID,
			ClientSecret: cfg.Calendar.ClientSecret,
			RedirectURL:  cfg.Calendar.RedirectURL,
			CalendarID:   cfg.Calendar.CalendarID,
			APIEndpoint:  cfg.Calendar.APIEndpoint,
			RateLimit: calendar.RateLimitConfig{
				RequestsPerSecond: cfg.Calendar.RPS,
				Burst:             cfg.Calendar.Burst,
				DailyRequestsMax:  cfg.Calendar.DailyMax,
			},
		}, calendar.NewPostgresTokenStore(db), calendar.WithDailyQuota(db, cfg.Calendar.DailyMax))
		syncer := calendar.NewSyncer(client, db, cfg.Calendar.AccountUserID)
		meetingCal = syncer
		bookingCal = syncer
	} else {
		log.Printf("[Calendar] disabled: GOOGLE_CLIENT_ID/GOOGLE_CLIENT_SECRET not set")
	}

	return services{
		tone:          tone.NewEngine(tone.NewPostgresStore(db), tone.WithPatternThreshold(cfg.Tone.PatternThreshold)),
		meetings:      meetings.NewService(meetings.NewPostgresStore(db), meetingCal, meetings.WithLookaheadMonths(cfg.Meetings.LookaheadMonths)),
		bookings:      bookings.NewService(bookings.NewPostgresStore(db), bookingCal),
		calendar:      client,
		notifications: notifications.NewStore(db),
	}
}

func newHandler(db *sql.DB, cfg *config.Config, svc services) *handlers.Handler {
	d := handlers.Deps{
		Tone:          svc.tone,
		Meetings:      svc.meetings,
		Bookings:      svc.bookings,
		Notifications: svc.notifications,
		StateSecret:   cfg.Auth.StateKey,
		WSSecret:      cfg.WSSecret,
	}
	// Leave the interface nil when the calendar is off so the handlers answer CALENDAR_DISABLED.
	if svc.calendar != nil {
		d.Calendar = svc.calendar
	}
	h := handlers.New(db, d)
	svc.notifications.OnCreate = h.PushNotification
	return h
}

func buildRouter(h *handlers.Handler, auth *middleware.Authenticator, tiers *middleware.TierResolver, allowedOrigins []string) http.Handler {
	r := mux.NewRouter()
	r.Use(middleware.RequestID, middleware.AccessLog, middleware.Metrics, auth.Middleware, tiers.Middleware)
	r.Handle("/metrics", metrics.Handler()).Methods("GET")
	handlers.RegisterRoutes(h, r, auth)

	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})
	return c.Handler(r)
}

// startWorkers launches the background loops. They exit when ctx is cancelled.
func startWorkers(ctx context.Context, cfg *config.Config, svc services) error {
	if cfg.Workers.ReminderEnabled {
		rw := &workers.ReminderWorker{
			Meetings: svc.meetings,
			Notifier: svc.notifications,
			Interval: cfg.Workers.ReminderInterval,
		}
		go rw.Start(ctx)
	} else {
		log.Printf("[ReminderWorker] disabled via REMINDER_WORKER_ENABLED")
	}

	gw, err := workers.NewGenerationWorker(svc.meetings, cfg.Workers.GenerationSchedule, cfg.Workers.GenerationTimezone, cfg.Meetings.LookaheadMonths)
	if err != nil {
		return fmt.Errorf("generation worker: %w", err)
	}
	go gw.Start(ctx)

	cw := &workers.NotificationCleanupWorker{
		Store:     svc.notifications,
		Retention: cfg.Workers.NotificationRetention,
		Interval:  cfg.Workers.NotificationCleanEvery,
	}
	go cw.Start(ctx)
	return nil
}

func run(d deps) error {
	if d.getenv == nil {
		d.getenv = os.Getenv
	}
	if d.loadDotEnv != nil {
		d.loadDotEnv()
	}
	if d.openDB == nil {
		return errors.New("openDB dependency is required")
	}
	if d.listenAndServe == nil {
		return errors.New("listenAndServe dependency is required")
	}

	cfg, err := config.Load(d.getenv)
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Log.Level, cfg.IsProduction())
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	restore := logging.Init(logger)
	defer restore()
	defer func() { _ = logger.Sync() }()

	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := d.openDB(rootCtx, cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()

	if d.migrateUp != nil {
		if err := d.migrateUp(db, cfg.Migration); err != nil {
			return fmt.Errorf("database migration failed: %w", err)
		}
	}

	svc := buildServices(db, cfg)
	h := newHandler(db, cfg, svc)
	auth := middleware.NewAuthenticator(cfg.Auth.JWTSecret)
	if !auth.Enabled() {
		log.Printf("[Auth] AUTH_JWT_SECRET not set, requests are not authenticated")
	}
	handler := buildRouter(h, auth, middleware.NewTierResolver(db), cfg.Server.AllowedOrigins)

	srv := &http.Server{
		Handler:      handler,
		Addr:         ":" + cfg.Server.Port,
		WriteTimeout: 15 * time.Second,
		ReadTimeout:  15 * time.Second,
	}

	stop := d.stopCh
	if stop == nil {
		stop = make(chan os.Signal, 1)
	}
	if d.notify != nil {
		d.notify(stop, os.Interrupt, syscall.SIGTERM)
	}

	if err := startWorkers(rootCtx, cfg, svc); err != nil {
		return err
	}

	go func() {
		select {
		case <-stop:
		case <-rootCtx.Done():
			return
		}
		log.Println("Shutting down server...")
		cancel()
		ctx, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		if err := srv.Shutdown(ctx); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
	}()

	log.Printf("Server starting on port %s env=%s", cfg.Server.Port, cfg.Server.Env)
	if err := d.listenAndServe(srv); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	log.Println("Server stopped")
	return nil
}
