// ABOUTME: Prometheus metrics for postbox commands and mail delivery
// ABOUTME: Optionally serves /metrics on a dedicated HTTP listener

package metrics

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels for CommandsHandled.
const (
	OutcomeOK       = "ok"
	OutcomeRejected = "rejected" // validation, not-found, rate-limited
	OutcomeError    = "error"    // storage or delivery failure
)

// Metrics holds the postbox metric set.
type Metrics struct {
	CommandsHandled  *prometheus.CounterVec
	ProfilesIssued   prometheus.Counter
	MailsDelivered   prometheus.Counter
	DeliveryFailures prometheus.Counter
}

// New registers the postbox metric set on the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		CommandsHandled: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "postbox_commands_handled_total",
				Help: "Commands handled, by command name and outcome",
			},
			[]string{"command", "outcome"},
		),
		ProfilesIssued: factory.NewCounter(prometheus.CounterOpts{
			Name: "postbox_profiles_issued_total",
			Help: "Profile codes issued (including reissues)",
		}),
		MailsDelivered: factory.NewCounter(prometheus.CounterOpts{
			Name: "postbox_mails_delivered_total",
			Help: "Mails delivered and persisted",
		}),
		DeliveryFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "postbox_delivery_failures_total",
			Help: "Direct-message deliveries that failed or timed out",
		}),
	}
}

// Serve exposes /metrics for the registry on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string, reg *prometheus.Registry, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("metrics listener started", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
