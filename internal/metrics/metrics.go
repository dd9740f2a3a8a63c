package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/quailyquaily/peerchat/peerchat"
)

var (
	// Session and index metrics
	SessionTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "peerchat_session_transitions_total",
			Help: "Session state transitions by phase entered",
		},
		[]string{"phase"},
	)

	ConversationsMerged = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "peerchat_conversations_merged_total",
			Help: "Conversations added to the index",
		},
	)

	StreamErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "peerchat_stream_errors_total",
			Help: "Live stream failures",
		},
		[]string{"stream"}, // "conversations" or "messages"
	)

	MessagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "peerchat_messages_sent_total",
			Help: "Message sends by outcome",
		},
		[]string{"result"},
	)

	// Name directory metrics
	NameLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "peerchat_name_lookups_total",
			Help: "Name lookups by outcome",
		},
		[]string{"result"}, // "found", "not_found" or "error"
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "peerchat_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "peerchat_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "route"},
	)
)

func Handler() http.Handler {
	return promhttp.Handler()
}

func ObserveSession(state peerchat.SearchState) {
	SessionTransitions.WithLabelValues(string(state.Phase)).Inc()
}

func ObserveIndex(ev peerchat.IndexEvent) {
	switch ev.Kind {
	case peerchat.IndexMerged:
		ConversationsMerged.Inc()
	case peerchat.IndexError:
		StreamErrors.WithLabelValues("conversations").Inc()
	}
}

func ObserveMessageStreamError(error) {
	StreamErrors.WithLabelValues("messages").Inc()
}

func ObserveSend(err error) {
	MessagesSent.WithLabelValues(resultLabel(err)).Inc()
}

func ObserveLookup(err error) {
	NameLookups.WithLabelValues(resultLabel(err)).Inc()
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, peerchat.ErrNameNotFound):
		return "not_found"
	case errors.Is(err, peerchat.ErrValidation):
		return "rejected"
	default:
		return "error"
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Middleware records request counts and latency labelled by chi route
// pattern, which keeps label cardinality bounded.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
