package breaker

import (
	"log/slog"

	"golang.org/x/time/rate"

	"github.com/dskow/breaker-core/internal/metrics"
)

// Level classifies a breaker notification.
type Level int

const (
	LevelInfo  Level = iota // Recovery events (auto-cleared).
	LevelError              // Degradation events (auto-blocked).
)

// String returns a human-readable level name.
func (l Level) String() string {
	switch l {
	case LevelInfo:
		return "info"
	case LevelError:
		return "error"
	default:
		return "unknown"
	}
}

// Notifier is the external event sink for auto-block and auto-clear
// events. Implementations must be safe for concurrent use; Notify is
// called from the coordinator goroutine and must not block for long.
type Notifier interface {
	Notify(level Level, service string, status Status, detail string)
}

// logNotifier emits notifications as structured log entries. It is the
// default sink when none is supplied.
type logNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier returns a Notifier that writes events to logger.
func NewLogNotifier(logger *slog.Logger) Notifier {
	return &logNotifier{logger: logger}
}

func (n *logNotifier) Notify(level Level, service string, status Status, detail string) {
	attrs := []any{"service", service, "status", status.String(), "detail", detail}
	if level == LevelError {
		n.logger.Error("breaker notification", attrs...)
		return
	}
	n.logger.Info("breaker notification", attrs...)
}

// Throttled wraps a Notifier with a token bucket so a flapping service
// cannot storm the alert channel. Dropped notifications are counted in
// metrics rather than queued.
type Throttled struct {
	inner   Notifier
	limiter *rate.Limiter
}

// NewThrottled returns a Notifier that forwards at most perSecond events
// per second with the given burst, dropping the rest.
func NewThrottled(inner Notifier, perSecond float64, burst int) *Throttled {
	return &Throttled{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
	}
}

func (t *Throttled) Notify(level Level, service string, status Status, detail string) {
	if !t.limiter.Allow() {
		metrics.NotificationsDropped.Inc()
		return
	}
	t.inner.Notify(level, service, status, detail)
}
