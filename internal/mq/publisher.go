package mq

import (
	"encoding/json"
	"log"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/larksolutions/queueing/internal/queue"
)

// TicketEventPayload is the wire shape shared by all ticket topics.
type TicketEventPayload struct {
	Event    string       `json:"event"`
	Ticket   queue.Ticket `json:"ticket"`
	From     queue.Status `json:"from_status,omitempty"`
	To       queue.Status `json:"to_status,omitempty"`
	Assignee *int64       `json:"assignee,omitempty"`
}

// Publisher bridges the engine's event sink to MQTT. Publishing runs on
// its own goroutine per event: a slow or disconnected broker never
// holds up the request that committed the mutation. Failures are
// logged and dropped.
type Publisher struct {
	logger *log.Logger
	client mqtt.Client
}

func NewPublisher(logger *log.Logger, client mqtt.Client) *Publisher {
	return &Publisher{logger: logger, client: client}
}

func (p *Publisher) TicketCreated(t queue.Ticket) {
	p.publishAsync(TopicTicketCreated, TicketEventPayload{Event: "created", Ticket: t})
}

func (p *Publisher) TicketTransitioned(ev queue.Event) {
	topic := TopicTicketStatusUpdated
	eventName := "status_updated"
	if ev.To == queue.StatusInProgress && ev.Assignee != nil {
		topic = TopicTicketAssigned
		eventName = "assigned"
	}
	p.publishAsync(topic, TicketEventPayload{
		Event:    eventName,
		Ticket:   ev.Ticket,
		From:     ev.From,
		To:       ev.To,
		Assignee: ev.Assignee,
	})
}

func (p *Publisher) publishAsync(topic string, payload TicketEventPayload) {
	go func() {
		if p.client == nil || !p.client.IsConnected() {
			p.logger.Printf("mqtt not connected; dropping event topic=%s", topic)
			return
		}
		b, err := json.Marshal(payload)
		if err != nil {
			p.logger.Printf("marshal event: %v", err)
			return
		}
		tok := p.client.Publish(topic, 1, false, b)
		tok.WaitTimeout(3 * time.Second)
		if err := tok.Error(); err != nil {
			p.logger.Printf("publish error topic=%s: %v", topic, err)
		}
	}()
}
