package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/withObsrvr/obsrvr-sol-pipeline/internal/logging"
)

// HTTPEmitter posts events to a collector, keeping a local copy first.
type HTTPEmitter struct {
	endpoint   string
	client     *http.Client
	backup     *FileEmitter
	retries    int
	retryDelay time.Duration
}

// NewHTTPEmitter creates an emitter posting to cfg.Endpoint.
func NewHTTPEmitter(cfg Config) (*HTTPEmitter, error) {
	backup, err := NewFileEmitter(cfg.Directory)
	if err != nil {
		return nil, err
	}

	return &HTTPEmitter{
		endpoint: cfg.Endpoint,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		backup:     backup,
		retries:    3,
		retryDelay: time.Second,
	}, nil
}

// Emit seals and saves evt locally, posts it, and advances the chain head
// only once the collector accepted it.
func (e *HTTPEmitter) Emit(ctx context.Context, evt *Event) error {
	log := logging.Component("audit")

	if err := e.backup.seal(evt); err != nil {
		return err
	}
	if err := e.backup.save(evt); err != nil {
		log.Warn("audit backup failed", "event_id", evt.EventID, "error", err)
	}

	if err := e.postWithRetry(ctx, evt); err != nil {
		return fmt.Errorf("audit emit failed: %w", err)
	}

	if err := e.backup.chain.SetHead(evt.ChainKey(), evt.Chain.EventHash); err != nil {
		log.Warn("failed to update chain head", "error", err)
	}
	return nil
}

func (e *HTTPEmitter) postWithRetry(ctx context.Context, evt *Event) error {
	var lastErr error
	delay := e.retryDelay

	for attempt := 1; attempt <= e.retries; attempt++ {
		err := e.post(ctx, evt)
		if err == nil {
			return nil
		}

		lastErr = err
		if attempt < e.retries {
			logging.Component("audit").Warn("audit post failed, retrying",
				"attempt", attempt, "retries", e.retries, "delay", delay, "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}
	}

	return fmt.Errorf("all %d attempts failed: %w", e.retries, lastErr)
}

func (e *HTTPEmitter) post(ctx context.Context, evt *Event) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	respBody, _ := io.ReadAll(resp.Body)
	return fmt.Errorf("http %d: %s", resp.StatusCode, string(respBody))
}

// Close releases resources.
func (e *HTTPEmitter) Close() error {
	return nil
}
