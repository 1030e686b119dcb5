// Package replay ships drained queue batches to the remote hub.
package replay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"gudangsync/backend/internal/domain"
)

// batchRequest is the wire shape the hub accepts. The batch id lets the hub
// deduplicate a batch that was applied but whose acknowledgement never
// reached us.
type batchRequest struct {
	BatchID string              `json:"batch_id"`
	Actions []domain.SyncAction `json:"actions"`
}

type batchResponse struct {
	Accepted int    `json:"accepted"`
	Error    string `json:"error,omitempty"`
}

// Client posts action batches to the hub's replay endpoint.
type Client struct {
	endpoint string
	http     *http.Client
}

func NewClient(endpoint string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		endpoint: endpoint,
		http:     &http.Client{Timeout: timeout},
	}
}

// Send replays the batch in order. Any transport or non-2xx failure is
// returned as an error and the whole batch is treated as unapplied; the hub
// must apply batches atomically on its side.
func (c *Client) Send(ctx context.Context, actions []domain.SyncAction) error {
	if len(actions) == 0 {
		return nil
	}

	body, err := json.Marshal(batchRequest{
		BatchID: uuid.NewString(),
		Actions: actions,
	})
	if err != nil {
		return fmt.Errorf("encode batch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("post batch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var decoded batchResponse
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if json.Unmarshal(raw, &decoded) == nil && decoded.Error != "" {
			return fmt.Errorf("hub rejected batch: %s (status %d)", decoded.Error, resp.StatusCode)
		}
		return fmt.Errorf("hub rejected batch: status %d", resp.StatusCode)
	}
	return nil
}
