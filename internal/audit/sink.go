package audit

import (
	"context"
	"time"

	"github.com/charmbracelet/log"
)

const (
	ReasonBanned     = "banned_for_not_found"
	ReasonStoreFault = "store_fault"
	ReasonPanic      = "panic"
)

// Event is a write-only audit record. Nothing in the request path depends on
// an event being delivered.
type Event struct {
	Time        time.Time `json:"time"`
	IP          string    `json:"ip"`
	CountryCode string    `json:"country_code,omitempty"`
	Reason      string    `json:"reason"`
	Operation   string    `json:"operation,omitempty"`
	Error       string    `json:"error,omitempty"`
}

type Sink interface {
	Emit(ctx context.Context, event Event)
}

// LogSink writes events through a charmbracelet logger.
type LogSink struct {
	logger *log.Logger
}

// NewLogSink returns a sink writing to logger, or to the default logger when nil.
func NewLogSink(logger *log.Logger) *LogSink {
	if logger == nil {
		logger = log.Default()
	}
	return &LogSink{logger: logger.WithPrefix("audit")}
}

func (s *LogSink) Emit(_ context.Context, event Event) {
	switch event.Reason {
	case ReasonBanned:
		s.logger.Info("IP banned for exceeding not-found threshold", "ip", event.IP, "country", event.CountryCode)
	default:
		s.logger.Error("access filter fault", "reason", event.Reason, "operation", event.Operation, "ip", event.IP, "error", event.Error)
	}
}

// MultiSink fans an event out to every sink in order.
type MultiSink []Sink

func (m MultiSink) Emit(ctx context.Context, event Event) {
	for _, sink := range m {
		if sink != nil {
			sink.Emit(ctx, event)
		}
	}
}

// Discard drops every event.
type Discard struct{}

func (Discard) Emit(context.Context, Event) {}
