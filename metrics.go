package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "focusroom_active_rooms",
		Help: "Number of rooms currently registered.",
	})
	metricRoomsReaped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "focusroom_rooms_reaped_total",
		Help: "Rooms evicted by the idle reaper.",
	})
	metricBroadcasts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "focusroom_broadcasts_total",
		Help: "Fan-out passes performed across all rooms.",
	})
	// Dropped vs failed: dropped deliveries hit a connection that had
	// already gone away; failed ones are anything else and worth a look.
	metricSendDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "focusroom_send_dropped_total",
		Help: "Deliveries dropped because the connection was closed.",
	})
	metricSendFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "focusroom_send_failed_total",
		Help: "Deliveries that failed for an unexpected reason.",
	})
)
