package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	_ "modernc.org/sqlite"

	"github.com/larksolutions/queueing/internal/config"
	"github.com/larksolutions/queueing/internal/identity"
	"github.com/larksolutions/queueing/internal/metrics"
	"github.com/larksolutions/queueing/internal/mq"
	"github.com/larksolutions/queueing/internal/queue"
	"github.com/larksolutions/queueing/internal/schedule"
	"github.com/larksolutions/queueing/internal/session"
	"github.com/larksolutions/queueing/internal/sse"
)

const sessionCookieName = "queueing_session"

func main() {
	config.LoadEnv()
	cfg := config.LoadGateway()
	logger := log.New(os.Stdout, "[gateway] ", log.LstdFlags|log.Lmicroseconds)

	settings, err := config.LoadQueueSettings(cfg.SettingsPath)
	if err != nil {
		logger.Fatalf("queue settings: %v", err)
	}
	loc, err := settings.Location()
	if err != nil {
		logger.Fatalf("timezone %q: %v", settings.Timezone, err)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		logger.Fatalf("mkdir data dir: %v", err)
	}

	db, err := sql.Open("sqlite", cfg.DBPath)
	if err != nil {
		logger.Fatalf("open db: %v", err)
	}
	defer db.Close()

	if err := queue.InitSchema(db); err != nil {
		logger.Fatalf("init queue schema: %v", err)
	}
	if err := schedule.InitSchema(db); err != nil {
		logger.Fatalf("init schedule schema: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	defer rdb.Close()

	metrics.MustRegister()

	// SSE hub bridges broker events to browsers.
	hub := sse.NewHub(logger)
	go hub.Run()

	mqttClient, err := mq.Connect(mq.Config{
		BrokerURL: cfg.MQTTBroker,
		ClientID:  cfg.MQTTClientID,
		Logger:    logger,
	})
	if err != nil {
		logger.Fatalf("mqtt connect: %v", err)
	}
	defer mqttClient.Disconnect(250)

	subscribeAndBridge(logger, mqttClient, hub)

	store := queue.NewStore(db, loc, settings.AverageServiceMinutes)
	calc := queue.NewCalculator(store)
	publisher := mq.NewPublisher(logger, mqttClient)
	engine := queue.NewEngine(logger, store, calc, publisher, settings.Categories)
	query := queue.NewQuery(store)
	queueAPI := queue.NewAPI(logger, engine, query)

	authC := identity.NewClient(cfg.AuthServiceURL, cfg.AuthInternalKey)
	sessions := session.NewStore(12 * time.Hour)

	schedStore := schedule.NewStore(db)
	schedStatus := schedule.NewStatusStore(rdb)
	schedAPI := schedule.NewAPI(logger, schedStore, schedStatus, authC)

	// Keep the waiting-per-category gauge fresh for scrapes.
	go refreshWaitingGauge(logger, query)

	withUser := func(h func(http.ResponseWriter, *http.Request, identity.User)) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			u, ok := currentUser(r, sessions)
			if !ok {
				writeErr(w, 401, "unauthorized")
				return
			}
			h(w, r, u)
		}
	}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(20 * time.Second))
	r.Use(middleware.RequestLogger(&middleware.DefaultLogFormatter{Logger: logger, NoColor: true}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, 200, map[string]string{"status": "ok", "service": "gateway"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/login", func(w http.ResponseWriter, r *http.Request) {
			var req identity.LoginRequest
			if err := jsonDecode(r, &req); err != nil {
				writeErr(w, 400, "invalid json")
				return
			}
			resp, err := authC.Login(req)
			if err != nil {
				writeErr(w, 401, "invalid credentials")
				return
			}

			// Trust the identity only after the token checks out.
			u, err := identity.ParseToken(cfg.JWTSecret, resp.Token)
			if err != nil {
				logger.Printf("auth token rejected: %v", err)
				writeErr(w, 502, "auth service token invalid")
				return
			}

			ss, err := sessions.Create(u)
			if err != nil {
				writeErr(w, 500, "session error")
				return
			}

			http.SetCookie(w, &http.Cookie{
				Name:     sessionCookieName,
				Value:    ss.ID,
				Path:     "/",
				HttpOnly: true,
				SameSite: http.SameSiteLaxMode,
			})
			writeJSON(w, 200, map[string]any{"user": u})
		})

		r.Post("/auth/logout", func(w http.ResponseWriter, r *http.Request) {
			if c, err := r.Cookie(sessionCookieName); err == nil {
				sessions.Delete(c.Value)
			}
			http.SetCookie(w, &http.Cookie{
				Name:     sessionCookieName,
				Value:    "",
				Path:     "/",
				MaxAge:   -1,
				HttpOnly: true,
				SameSite: http.SameSiteLaxMode,
			})
			writeJSON(w, 200, map[string]string{"status": "ok"})
		})

		r.Get("/me", withUser(func(w http.ResponseWriter, _ *http.Request, u identity.User) {
			writeJSON(w, 200, u)
		}))

		r.Get("/stream", withUser(func(w http.ResponseWriter, r *http.Request, _ identity.User) {
			hub.SSEHandler()(w, r)
		}))

		// Queue core.
		r.Post("/queue", withUser(queueAPI.CheckIn))
		r.Get("/queue", withUser(queueAPI.List))
		r.Get("/queue/stats", withUser(queueAPI.Stats))
		r.Get("/queue/{id}/position", withUser(queueAPI.Position))
		r.Put("/queue/{id}", withUser(queueAPI.Transition))
		r.Patch("/queue/{id}/notes", withUser(queueAPI.AppendNotes))
		r.Delete("/queue/{id}", withUser(queueAPI.Delete))

		// Faculty directory + live availability.
		r.Get("/faculty", withUser(schedAPI.ListFaculty))
		r.Put("/faculty/status", withUser(schedAPI.UpdateStatus))
		r.Get("/faculty/{facultyId}/availability", withUser(schedAPI.ListSlots))
		r.Post("/faculty/availability", withUser(schedAPI.CreateSlot))
		r.Delete("/faculty/availability/{id}", withUser(schedAPI.DeleteSlot))

		// Schedules and bookings.
		r.Post("/schedules", withUser(schedAPI.CreateBlock))
		r.Get("/schedules/public", withUser(schedAPI.ListPublic))
		r.Get("/schedules/my-bookings", withUser(schedAPI.MyBookings))
		r.Get("/schedules/faculty/{facultyId}", withUser(schedAPI.ListForFaculty))
		r.Put("/schedules/{id}", withUser(schedAPI.UpdateBlock))
		r.Delete("/schedules/{id}", withUser(schedAPI.DeleteBlock))
		r.Post("/schedules/{id}/book", withUser(schedAPI.Book))
		r.Delete("/schedules/{id}/book", withUser(schedAPI.CancelBooking))

		// Admin-only user management, proxied to the auth service.
		r.Post("/admin/users", withUser(func(w http.ResponseWriter, r *http.Request, u identity.User) {
			if u.Role != identity.RoleAdmin {
				writeErr(w, 403, "admin only")
				return
			}
			var req identity.CreateUserRequest
			if err := jsonDecode(r, &req); err != nil {
				writeErr(w, 400, "invalid json")
				return
			}
			if req.Username == "" || req.Password == "" {
				writeErr(w, 400, "username and password required")
				return
			}
			if !identity.ValidRole(req.Role) {
				writeErr(w, 400, "invalid role")
				return
			}
			created, err := authC.CreateUser(req)
			if err != nil {
				writeErr(w, 400, "could not create user (username may exist)")
				return
			}
			writeJSON(w, 201, map[string]any{"user": created})
		}))
	})

	srv := &http.Server{Addr: cfg.Addr, Handler: r}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	go func() {
		logger.Printf("listening on %s (db=%s, mqtt=%s, auth=%s, redis=%s)",
			cfg.Addr, cfg.DBPath, cfg.MQTTBroker, cfg.AuthServiceURL, cfg.RedisAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("listen: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

func subscribeAndBridge(logger *log.Logger, c mqtt.Client, hub *sse.Hub) {
	topics := []string{mq.TopicTicketCreated, mq.TopicTicketStatusUpdated, mq.TopicTicketAssigned}
	for _, topic := range topics {
		token := c.Subscribe(topic, 1, func(_ mqtt.Client, msg mqtt.Message) {
			hub.Broadcast(msg.Payload())
		})
		token.Wait()
		if err := token.Error(); err != nil {
			logger.Printf("mqtt subscribe error topic=%s: %v", topic, err)
		} else {
			logger.Printf("mqtt subscribed topic=%s", topic)
		}
	}
}

func refreshWaitingGauge(logger *log.Logger, query *queue.Query) {
	tick := time.NewTicker(15 * time.Second)
	defer tick.Stop()
	for range tick.C {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		stats, err := query.Stats(ctx, time.Now())
		cancel()
		if err != nil {
			logger.Printf("stats for metrics: %v", err)
			continue
		}
		metrics.WaitingTickets.Reset()
		for _, cs := range stats {
			metrics.WaitingTickets.WithLabelValues(cs.Category).Set(float64(cs.Waiting))
		}
	}
}

func currentUser(r *http.Request, store *session.Store) (identity.User, bool) {
	c, err := r.Cookie(sessionCookieName)
	if err != nil || c.Value == "" {
		return identity.User{}, false
	}
	ss, ok := store.Get(c.Value)
	if !ok {
		return identity.User{}, false
	}
	return ss.User, true
}

func jsonDecode(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
