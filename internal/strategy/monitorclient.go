// monitorclient.go is the strategy engine's HTTP client for the price
// monitor API.
package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"optionflow/pkg/types"
)

// MonitorClient talks to the price monitor's REST API.
type MonitorClient struct {
	http   *resty.Client
	logger *slog.Logger
}

// NewMonitorClient creates a client against the monitor's base URL.
func NewMonitorClient(baseURL string, logger *slog.Logger) *MonitorClient {
	return &MonitorClient{
		http: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(10 * time.Second).
			SetHeader("Content-Type", "application/json"),
		logger: logger.With("component", "monitor_client"),
	}
}

type monitorEnvelope struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// CreateTask registers a monitor task.
func (c *MonitorClient) CreateTask(ctx context.Context, req types.CreateMonitorRequest) error {
	var result monitorEnvelope
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&result).
		SetError(&result).
		Post("/api/monitor/create")
	if err != nil {
		return fmt.Errorf("create monitor task: %w", err)
	}
	if resp.StatusCode() != http.StatusOK || !result.Success {
		return fmt.Errorf("create monitor task %s: status %d: %s", req.TaskID, resp.StatusCode(), result.Message)
	}
	return nil
}

// DeleteTask removes a monitor task. A missing task is not an error; cancel
// must be idempotent across re-syncs.
func (c *MonitorClient) DeleteTask(ctx context.Context, taskID string) error {
	resp, err := c.http.R().
		SetContext(ctx).
		Delete("/api/monitor/" + taskID)
	if err != nil {
		return fmt.Errorf("delete monitor task: %w", err)
	}
	if resp.StatusCode() != http.StatusOK && resp.StatusCode() != http.StatusNotFound {
		return fmt.Errorf("delete monitor task %s: status %d: %s", taskID, resp.StatusCode(), resp.String())
	}
	return nil
}
