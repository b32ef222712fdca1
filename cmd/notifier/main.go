package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/larksolutions/queueing/internal/config"
	"github.com/larksolutions/queueing/internal/mq"
	"github.com/larksolutions/queueing/internal/queue"
)

type EventRecord struct {
	ReceivedAt time.Time       `json:"received_at"`
	Topic      string          `json:"topic"`
	Message    string          `json:"message"`
	Payload    json.RawMessage `json:"payload"`
}

// RingBuffer keeps the newest events. Add runs on the MQTT callback
// goroutine while Snapshot serves HTTP, so both take the lock.
type RingBuffer struct {
	mu  sync.Mutex
	max int
	arr []EventRecord
}

func NewRingBuffer(max int) *RingBuffer {
	if max <= 0 {
		max = 50
	}
	return &RingBuffer{max: max, arr: make([]EventRecord, 0, max)}
}

func (rb *RingBuffer) Add(e EventRecord) {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	if len(rb.arr) < rb.max {
		rb.arr = append(rb.arr, e)
		return
	}
	copy(rb.arr, rb.arr[1:])
	rb.arr[len(rb.arr)-1] = e
}

func (rb *RingBuffer) Snapshot() []EventRecord {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	out := make([]EventRecord, len(rb.arr))
	copy(out, rb.arr)
	return out
}

func main() {
	config.LoadEnv()
	cfg := config.LoadNotifier()
	logger := log.New(os.Stdout, "[notifier] ", log.LstdFlags|log.Lmicroseconds)

	bufSize := 50
	if cfg.EventBufferSize != "" {
		if n, err := strconv.Atoi(cfg.EventBufferSize); err == nil && n > 0 {
			bufSize = n
		}
	}
	rb := NewRingBuffer(bufSize)

	client, err := mq.Connect(mq.Config{
		BrokerURL: cfg.MQTTBroker,
		ClientID:  cfg.MQTTClientID,
		Logger:    logger,
	})
	if err != nil {
		logger.Fatalf("mqtt connect: %v", err)
	}
	defer client.Disconnect(250)

	subscribe := func(topic string) {
		token := client.Subscribe(topic, 1, func(_ mqtt.Client, msg mqtt.Message) {
			rec := EventRecord{
				ReceivedAt: time.Now().UTC(),
				Topic:      msg.Topic(),
				Message:    renderMessage(msg.Payload()),
				Payload:    json.RawMessage(append([]byte(nil), msg.Payload()...)),
			}
			rb.Add(rec)
			logger.Printf("NOTIFY topic=%s %s", msg.Topic(), rec.Message)
		})
		token.Wait()
		if err := token.Error(); err != nil {
			logger.Printf("subscribe error topic=%s: %v", topic, err)
		} else {
			logger.Printf("subscribed topic=%s", topic)
		}
	}

	subscribe(mq.TopicTicketCreated)
	subscribe(mq.TopicTicketStatusUpdated)
	subscribe(mq.TopicTicketAssigned)

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Second))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok","service":"notifier"}`))
	})

	r.Get("/events", func(w http.ResponseWriter, _ *http.Request) {
		events := rb.Snapshot()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"count":  len(events),
			"events": events,
		})
	})

	srv := &http.Server{Addr: cfg.Addr, Handler: r}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Printf("listening on %s (mqtt=%s)", cfg.Addr, cfg.MQTTBroker)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("listen: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Printf("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	logger.Printf("stopped")
}

// renderMessage turns a ticket event payload into the line a display
// board or paging integration would show.
func renderMessage(payload []byte) string {
	var ev mq.TicketEventPayload
	if err := json.Unmarshal(payload, &ev); err != nil {
		return string(payload)
	}
	t := ev.Ticket
	switch ev.Event {
	case "created":
		return fmt.Sprintf("ticket #%d checked in: %s (%s priority), position %d, ~%d min wait",
			t.TicketNumber, t.Category, t.Priority, t.PositionInCategory, t.EstimatedWaitMinutes)
	case "assigned":
		who := "staff"
		if ev.Assignee != nil {
			who = fmt.Sprintf("staff %d", *ev.Assignee)
		}
		return fmt.Sprintf("ticket #%d (%s) is now being served by %s", t.TicketNumber, t.Category, who)
	case "status_updated":
		switch ev.To {
		case queue.StatusCompleted:
			return fmt.Sprintf("ticket #%d (%s) completed", t.TicketNumber, t.Category)
		case queue.StatusCancelled:
			return fmt.Sprintf("ticket #%d (%s) cancelled", t.TicketNumber, t.Category)
		case queue.StatusRescheduled:
			return fmt.Sprintf("ticket #%d (%s) rescheduled, please book a slot", t.TicketNumber, t.Category)
		case queue.StatusDeclined:
			return fmt.Sprintf("ticket #%d (%s) declined", t.TicketNumber, t.Category)
		}
		return fmt.Sprintf("ticket #%d (%s) moved %s -> %s", t.TicketNumber, t.Category, ev.From, ev.To)
	}
	return string(payload)
}
