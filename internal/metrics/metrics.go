package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	CheckInsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "queueing_checkins_total",
			Help: "Tickets created since process start",
		},
	)
	TransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queueing_ticket_transitions_total",
			Help: "Committed status transitions by target status",
		},
		[]string{"to_status"},
	)
	WaitingTickets = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "queueing_waiting_tickets",
			Help: "Waiting tickets per category, refreshed periodically",
		},
		[]string{"category"},
	)
)

func MustRegister() {
	prometheus.MustRegister(CheckInsTotal)
	prometheus.MustRegister(TransitionsTotal)
	prometheus.MustRegister(WaitingTickets)
}
