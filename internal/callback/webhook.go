// Package callback holds hooks notified when runs reach terminal states.
package callback

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jamesturk/bobsled/internal/storage"
)

// Webhook POSTs a JSON summary of each terminal run to a configured URL.
// External systems (issue trackers, chat bots) consume the payload.
type Webhook struct {
	url        string
	log        *slog.Logger
	httpClient *http.Client
}

// NewWebhook creates a webhook callback for the given URL.
func NewWebhook(url string, log *slog.Logger) *Webhook {
	return &Webhook{
		url: url,
		log: log,
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

type payload struct {
	Event    string         `json:"event"`
	Task     string         `json:"task"`
	RunID    string         `json:"run_id"`
	Status   storage.Status `json:"status"`
	Start    time.Time      `json:"start"`
	End      *time.Time     `json:"end,omitempty"`
	ExitCode *int           `json:"exit_code,omitempty"`
}

func (w *Webhook) OnSuccess(ctx context.Context, run *storage.Run, store storage.Storage) error {
	return w.post(ctx, "success", run)
}

func (w *Webhook) OnError(ctx context.Context, run *storage.Run, store storage.Storage) error {
	return w.post(ctx, "error", run)
}

func (w *Webhook) post(ctx context.Context, event string, run *storage.Run) error {
	body, err := json.Marshal(payload{
		Event:    event,
		Task:     run.Task,
		RunID:    run.UUID,
		Status:   run.Status,
		Start:    run.Start,
		End:      run.End,
		ExitCode: run.ExitCode,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	w.log.Debug("webhook delivered", "event", event, "run_id", run.UUID)
	return nil
}
