package api

import (
	"context"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	tracerName       = "board-api"
	boardSpanName    = "board.fetch"
	boardEventName   = "board.request"
	boardEventDomain = "nexus.board"
	boardRoute       = "/api/board"
)

// boardRequestMetrics collects per-request timings for the board fetch and
// emits them as one structured log entry plus one trace span.
type boardRequestMetrics struct {
	logger         *log.Logger
	span           trace.Span
	start          time.Time
	authDuration   time.Duration
	fetchDuration  time.Duration
	encodeDuration time.Duration
	includeHidden  bool
	ordersReturned int
	errorStage     string
}

func newBoardRequestMetrics(ctx context.Context, logger *log.Logger) (*boardRequestMetrics, context.Context) {
	spanCtx, span := otel.Tracer(tracerName).Start(ctx, boardSpanName)
	return &boardRequestMetrics{
		logger: logger,
		span:   span,
		start:  time.Now(),
	}, spanCtx
}

func (m *boardRequestMetrics) ObserveAuth(duration time.Duration) {
	if duration <= 0 {
		return
	}
	m.authDuration = duration
}

func (m *boardRequestMetrics) ObserveFetch(duration time.Duration) {
	if duration <= 0 {
		return
	}
	m.fetchDuration = duration
}

func (m *boardRequestMetrics) ObserveEncode(duration time.Duration) {
	if duration <= 0 {
		return
	}
	m.encodeDuration = duration
}

func (m *boardRequestMetrics) SetIncludeHidden(include bool) {
	m.includeHidden = include
}

func (m *boardRequestMetrics) SetOrdersReturned(count int) {
	if count < 0 {
		count = 0
	}
	m.ordersReturned = count
}

func (m *boardRequestMetrics) SetErrorStage(stage string) {
	if stage == "" {
		return
	}
	m.errorStage = stage
}

// Log finishes the span and writes the observability event. It must be
// called exactly once per request.
func (m *boardRequestMetrics) Log(status int, err error) {
	if m == nil {
		return
	}

	attrs := map[string]any{
		"http.route":                  boardRoute,
		"http.status_code":            status,
		"nexus.board.total_ms":        durationToMillis(time.Since(m.start)),
		"nexus.board.include_hidden":  m.includeHidden,
		"nexus.board.orders_returned": m.ordersReturned,
	}
	if m.authDuration > 0 {
		attrs["nexus.board.auth_ms"] = durationToMillis(m.authDuration)
	}
	if m.fetchDuration > 0 {
		attrs["nexus.board.fetch_ms"] = durationToMillis(m.fetchDuration)
	}
	if m.encodeDuration > 0 {
		attrs["nexus.board.encode_ms"] = durationToMillis(m.encodeDuration)
	}
	if m.errorStage != "" {
		attrs["nexus.board.error_stage"] = m.errorStage
	}

	severityText, severityNumber := "INFO", 9
	if err != nil || status >= http.StatusInternalServerError {
		severityText, severityNumber = "ERROR", 17
	}

	if m.span != nil {
		m.span.SetAttributes(
			attribute.String("http.route", boardRoute),
			attribute.Int("http.status_code", status),
			attribute.Bool("nexus.board.include_hidden", m.includeHidden),
			attribute.Int("nexus.board.orders_returned", m.ordersReturned),
		)
		eventAttrs := []attribute.KeyValue{
			attribute.String("event.name", boardEventName),
			attribute.String("event.domain", boardEventDomain),
			attribute.String("severity_text", severityText),
			attribute.Float64("nexus.board.total_ms", durationToMillis(time.Since(m.start))),
		}
		if m.errorStage != "" {
			eventAttrs = append(eventAttrs, attribute.String("nexus.board.error_stage", m.errorStage))
		}
		if err != nil {
			eventAttrs = append(eventAttrs, attribute.String("error.message", err.Error()))
		}
		m.span.AddEvent("observability.event", trace.WithAttributes(eventAttrs...))
		if err != nil {
			m.span.RecordError(err)
			m.span.SetStatus(codes.Error, err.Error())
		} else if status >= http.StatusInternalServerError {
			m.span.SetStatus(codes.Error, http.StatusText(status))
		} else {
			m.span.SetStatus(codes.Ok, "")
		}
		m.span.End()
	}

	if m.logger == nil {
		return
	}

	fields := log.Fields{
		"event.name":      boardEventName,
		"event.domain":    boardEventDomain,
		"attributes":      attrs,
		"severity_text":   severityText,
		"severity_number": severityNumber,
	}
	if m.span != nil {
		if sc := m.span.SpanContext(); sc.HasTraceID() {
			fields["trace_id"] = sc.TraceID().String()
			fields["span_id"] = sc.SpanID().String()
		}
	}
	if err != nil {
		fields["error"] = err.Error()
	}

	entry := m.logger.WithFields(fields)
	if severityNumber >= 17 {
		entry.Error("observability.event")
	} else {
		entry.Info("observability.event")
	}
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}
