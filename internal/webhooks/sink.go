// Package webhooks forwards route updates to an external notifier over signed
// HTTP POSTs.
package webhooks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"cityroute/internal/events"
	"cityroute/internal/logger"
	"cityroute/internal/metrics"
	"cityroute/internal/model"
)

type Options struct {
	URL         string
	Secret      string
	MaxAttempts int
	HTTPClient  *http.Client
	Logger      *logger.Logger
	Metrics     *metrics.Engine
}

// Sink delivers route_updates events. Each delivery is retried with
// exponential backoff until it is acknowledged with a 2xx or attempts run out.
type Sink struct {
	url         string
	secret      string
	http        *http.Client
	maxAttempts int
	baseBackoff time.Duration
	log         *logger.Logger
	metrics     *metrics.Engine
}

func NewSink(opts Options) (*Sink, error) {
	if opts.URL == "" {
		return nil, errors.New("webhooks: url is required")
	}
	s := &Sink{
		url:         opts.URL,
		secret:      opts.Secret,
		http:        opts.HTTPClient,
		maxAttempts: opts.MaxAttempts,
		baseBackoff: time.Second,
		log:         opts.Logger,
		metrics:     opts.Metrics,
	}
	if s.http == nil {
		s.http = &http.Client{Timeout: 5 * time.Second}
	}
	if s.maxAttempts <= 0 {
		s.maxAttempts = 5
	}
	if s.log == nil {
		s.log = logger.Nop()
	}
	return s, nil
}

type payload struct {
	ID      string              `json:"id"`
	Type    events.Kind         `json:"type"`
	TS      string              `json:"ts"`
	Updates []model.RouteUpdate `json:"updates"`
}

// Run subscribes to route updates on b and delivers them until ctx is done.
func (s *Sink) Run(ctx context.Context, b events.EventBroker) error {
	ch, err := b.Subscribe(ctx, events.KindRouteUpdates)
	if err != nil {
		return fmt.Errorf("webhooks: subscribe: %w", err)
	}
	defer b.Unsubscribe(events.KindRouteUpdates, ch)
	for {
		select {
		case <-ctx.Done():
			return nil
		case evt, ok := <-ch:
			if !ok {
				return nil
			}
			if err := s.Deliver(ctx, evt); err != nil {
				s.log.Error(s.log.WithField(ctx, "event_id", evt.ID), "webhook delivery failed", err)
			}
		}
	}
}

// Deliver posts one event, retrying transient failures.
func (s *Sink) Deliver(ctx context.Context, evt events.Event) error {
	body, err := json.Marshal(payload{
		ID:      evt.ID,
		Type:    evt.Kind,
		TS:      evt.At.UTC().Format(time.RFC3339),
		Updates: evt.Broadcasts,
	})
	if err != nil {
		return fmt.Errorf("encode event %s: %w", evt.ID, err)
	}
	var lastErr error
	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(s.nextBackoff(attempt - 1))
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
		code, err := s.post(ctx, evt.Kind, body)
		if err == nil {
			return nil
		}
		lastErr = err
		if code >= 400 && code < 500 && code != http.StatusTooManyRequests {
			break
		}
	}
	return fmt.Errorf("deliver event %s: %w", evt.ID, lastErr)
}

func (s *Sink) post(ctx context.Context, kind events.Kind, body []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Event-Type", string(kind))
	if s.secret != "" {
		req.Header.Set("X-Signature", Sign(s.secret, body))
	}
	start := time.Now()
	resp, err := s.http.Do(req)
	if err != nil {
		s.metrics.ObserveWebhook(string(kind), "error", time.Since(start))
		return 0, err
	}
	_ = resp.Body.Close()
	s.metrics.ObserveWebhook(string(kind), strconv.Itoa(resp.StatusCode), time.Since(start))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, fmt.Errorf("webhook responded %d", resp.StatusCode)
	}
	return resp.StatusCode, nil
}

func (s *Sink) nextBackoff(attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	if attempts > 10 {
		attempts = 10
	}
	d := s.baseBackoff * time.Duration(1<<attempts)
	if d > time.Hour {
		d = time.Hour
	}
	return d
}
