package probe

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/alechenninger/tollgate/internal/engine"
	"github.com/alechenninger/tollgate/internal/metrics"
)

// loggingObserver creates request-scoped logging probes
type loggingObserver struct {
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewLoggingCheckObserver creates an observer that logs check events using
// structured logging with slog and records metrics. Each check is assigned a
// decision id carried on every log line.
func NewLoggingCheckObserver(logger *slog.Logger, m *metrics.Metrics) CheckObserver {
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = metrics.DefaultMetrics
	}
	return &loggingObserver{
		logger:  logger,
		metrics: m,
	}
}

func (o *loggingObserver) CheckStarted(ctx context.Context, authority, method, path string) (context.Context, CheckProbe) {
	decisionID := uuid.NewString()

	logger := o.logger.With(slog.String("decision_id", decisionID))
	logger.LogAttrs(ctx, slog.LevelDebug, "Check started",
		slog.String("authority", authority),
		slog.String("method", method),
		slog.String("path", path),
	)

	return ctx, &loggingProbe{
		ctx:     ctx,
		logger:  logger,
		metrics: o.metrics,
	}
}

// loggingProbe is a request-scoped probe that logs events for a single check
type loggingProbe struct {
	ctx     context.Context
	logger  *slog.Logger
	metrics *metrics.Metrics
}

func (p *loggingProbe) CredentialResolved(result *engine.Result) {
	if result == nil {
		return
	}
	p.logger.LogAttrs(p.ctx, slog.LevelDebug, "Credential resolved",
		slog.String("service_id", result.Service.ID),
		slog.String("kind", string(result.Kind)),
		slog.Int("metrics", len(result.Usage)),
	)
	p.metrics.RecordCredentialResolved(result.Service.ID, string(result.Kind))
}

func (p *loggingProbe) CheckRejected(err error) {
	p.logger.LogAttrs(p.ctx, slog.LevelInfo, "Check rejected",
		slog.String("error", err.Error()),
	)
}

func (p *loggingProbe) BackendDecided(authorized bool, reason string) {
	attrs := []slog.Attr{
		slog.Bool("authorized", authorized),
	}
	if reason != "" {
		attrs = append(attrs, slog.String("reason", reason))
	}
	p.logger.LogAttrs(p.ctx, slog.LevelDebug, "Backend decided", attrs...)
}

func (p *loggingProbe) BackendFailed(err error) {
	p.logger.LogAttrs(p.ctx, slog.LevelError, "Backend call failed",
		slog.String("error", err.Error()),
	)
}

func (p *loggingProbe) End() {
	p.logger.LogAttrs(p.ctx, slog.LevelDebug, "Check completed")
}
