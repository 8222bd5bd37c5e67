package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Set bundles the collaboration engine's operational counters.
type Set struct {
	registry *prometheus.Registry

	NotesAppended        prometheus.Counter
	NotificationsCreated prometheus.Counter
	PresenceHeartbeats   prometheus.Counter
	SnapshotsPublished   *prometheus.CounterVec
}

// NewSet constructs and registers the counters on a fresh registry.
func NewSet() *Set {
	registry := prometheus.NewRegistry()

	set := &Set{
		registry: registry,
		NotesAppended: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "huddle_notes_appended_total",
			Help: "Notes committed to a subject feed.",
		}),
		NotificationsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "huddle_notifications_created_total",
			Help: "Mention notifications fanned out.",
		}),
		PresenceHeartbeats: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "huddle_presence_heartbeats_total",
			Help: "Presence heartbeat upserts.",
		}),
		SnapshotsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "huddle_snapshots_published_total",
			Help: "Collection snapshots published to subscribers.",
		}, []string{"collection"}),
	}

	registry.MustRegister(
		set.NotesAppended,
		set.NotificationsCreated,
		set.PresenceHeartbeats,
		set.SnapshotsPublished,
	)
	return set
}

// Handler exposes the registry for scraping.
func (s *Set) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}
