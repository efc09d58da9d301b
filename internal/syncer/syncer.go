// Package syncer drains the agent's durable queue into the collector.
// Delivery is at-least-once: an observation is marked delivered only after
// an acknowledged success, so an ack lost on the wire means the collector
// sees that observation again on the next pass.
package syncer

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

	"github.com/devsight/devsight/internal/queue"
)

// ErrNotConfigured is returned when the collector URL or API key is
// missing. The queue is not touched in that case.
var ErrNotConfigured = errors.New("collector URL or API key not configured")

// Credentials is everything a push needs, read fresh on every SyncOnce so
// config changes apply without restarting the agent.
type Credentials struct {
	CollectorURL  string
	APIKey        string
	DeveloperID   string
	DeveloperName string
	DeviceID      string
}

type Queue interface {
	ListPending(ctx context.Context, limit int) ([]queue.Observation, error)
	MarkDelivered(ctx context.Context, id int64, deliveredAt int64) error
}

type Result struct {
	Delivered int
	Failed    int
}

type Client struct {
	logger     *slog.Logger
	queue      Queue
	creds      func(ctx context.Context) (Credentials, error)
	httpClient *http.Client
}

type pushRequest struct {
	DeveloperID   string `json:"developer_id,omitempty"`
	DeveloperName string `json:"developer_name,omitempty"`
	DeviceID      string `json:"device_id,omitempty"`
	Description   string `json:"description"`
	ActivityType  string `json:"activity_type"`
}

type pushResponse struct {
	Success bool   `json:"success"`
	ID      int64  `json:"id"`
	Error   string `json:"error"`
}

func New(logger *slog.Logger, q Queue, creds func(ctx context.Context) (Credentials, error)) *Client {
	return &Client{
		logger:     logger,
		queue:      q,
		creds:      creds,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// SetHTTPClient swaps the transport, for tests.
func (c *Client) SetHTTPClient(client *http.Client) {
	if client != nil {
		c.httpClient = client
	}
}

// SyncOnce drains one batch of pending observations in ascending id order.
// Each observation is pushed individually; a failure leaves it pending and
// moves on. There is no retry loop here: the next invocation is the retry.
func (c *Client) SyncOnce(ctx context.Context) (Result, error) {
	creds, err := c.creds(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("read credentials: %w", err)
	}
	if creds.CollectorURL == "" || creds.APIKey == "" {
		return Result{}, ErrNotConfigured
	}

	pending, err := c.queue.ListPending(ctx, queue.PendingBatchLimit)
	if err != nil {
		return Result{}, fmt.Errorf("list pending: %w", err)
	}

	res := Result{}
	for _, obs := range pending {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if err := c.push(ctx, creds, obs); err != nil {
			c.logger.Warn("push failed, observation stays pending", "id", obs.ID, "error", err)
			res.Failed++
			continue
		}
		if err := c.queue.MarkDelivered(ctx, obs.ID, time.Now().UnixMilli()); err != nil {
			// The collector has the report; the flag flip retries next pass.
			c.logger.Warn("mark delivered failed", "id", obs.ID, "error", err)
			res.Failed++
			continue
		}
		res.Delivered++
	}

	if res.Delivered > 0 || res.Failed > 0 {
		c.logger.Info("sync pass complete", "delivered", res.Delivered, "failed", res.Failed)
	}
	return res, nil
}

func (c *Client) push(ctx context.Context, creds Credentials, obs queue.Observation) error {
	devID := obs.DeveloperID
	if devID == "" {
		devID = creds.DeveloperID
	}
	body, err := json.Marshal(pushRequest{
		DeveloperID:   devID,
		DeveloperName: creds.DeveloperName,
		DeviceID:      creds.DeviceID,
		Description:   obs.Description,
		ActivityType:  obs.ActivityKind,
	})
	if err != nil {
		return fmt.Errorf("encode push: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, creds.CollectorURL+"/api/report", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build push request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", creds.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("push transport: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("push status %d", resp.StatusCode)
	}
	var ack pushResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&ack); err != nil {
		return fmt.Errorf("decode ack: %w", err)
	}
	if !ack.Success {
		return fmt.Errorf("push rejected: %s", ack.Error)
	}
	return nil
}
