package events

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// HTTPEmitter posts events to an endpoint, backing each one up to disk first.
type HTTPEmitter struct {
	endpoint string
	client   *http.Client
	chain    *ChainTracker
	backup   *FileBackup
	logger   *slog.Logger

	retries int
	delay   time.Duration
}

func NewHTTPEmitter(cfg Config) (*HTTPEmitter, error) {
	chain, err := NewChainTracker(cfg.BackupDir)
	if err != nil {
		return nil, fmt.Errorf("create chain tracker: %w", err)
	}
	backup, err := NewFileBackup(cfg.BackupDir)
	if err != nil {
		return nil, fmt.Errorf("create file backup: %w", err)
	}

	return &HTTPEmitter{
		endpoint: cfg.Endpoint,
		client:   &http.Client{Timeout: 30 * time.Second},
		chain:    chain,
		backup:   backup,
		logger:   slog.With("component", "events"),
		retries:  3,
		delay:    time.Second,
	}, nil
}

// Emit chains, backs up and posts evt. The chain head only advances
// after a successful POST.
func (e *HTTPEmitter) Emit(ctx context.Context, evt *RunEvent) error {
	key := evt.ChainKey()
	prevHash, err := e.chain.GetHead(key)
	if err != nil && !errors.Is(err, ErrNoChainHead) {
		return fmt.Errorf("get chain head: %w", err)
	}

	prepare(evt, prevHash)

	if prevHash == "" {
		e.logger.Debug("first event in chain", "project", key)
	}

	if err := e.backup.Save(evt); err != nil {
		e.logger.Warn("event backup failed", "error", err)
	}

	if err := e.postWithRetry(ctx, evt); err != nil {
		return fmt.Errorf("emit run event: %w", err)
	}

	if err := e.chain.SetHead(key, evt.Chain.EventHash); err != nil {
		e.logger.Warn("failed to update chain head", "error", err)
	}
	return nil
}

func (e *HTTPEmitter) postWithRetry(ctx context.Context, evt *RunEvent) error {
	var lastErr error
	delay := e.delay

	for attempt := 1; attempt <= e.retries; attempt++ {
		err := e.post(ctx, evt)
		if err == nil {
			return nil
		}
		lastErr = err

		if attempt < e.retries {
			e.logger.Warn("event post failed, retrying",
				"attempt", attempt, "max", e.retries, "delay", delay, "error", err)
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

func (e *HTTPEmitter) post(ctx context.Context, evt *RunEvent) error {
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
		e.logger.Debug("event posted", "endpoint", e.endpoint, "status", resp.StatusCode)
		return nil
	}

	respBody, _ := io.ReadAll(resp.Body)
	return fmt.Errorf("http %d: %s", resp.StatusCode, string(respBody))
}

func (e *HTTPEmitter) Close() error {
	e.client.CloseIdleConnections()
	return nil
}
