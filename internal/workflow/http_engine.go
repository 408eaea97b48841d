package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"signalflow/backend/pkg/models"
)

// HTTPEngine records the execution locally and dispatches it to an external
// runner over HTTP. A dispatch failure marks the execution failed.
type HTTPEngine struct {
	url    string
	client *http.Client
	store  store
	now    func() time.Time
}

// NewHTTPEngine creates a new HTTPEngine posting to url + "/executions".
func NewHTTPEngine(url string, timeout time.Duration, s store) *HTTPEngine {
	return &HTTPEngine{
		url:    url,
		client: &http.Client{Timeout: timeout},
		store:  s,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

type dispatchRequest struct {
	ExecutionID string `json:"execution_id"`
	TriggerRequest
}

func (e *HTTPEngine) Trigger(ctx context.Context, req TriggerRequest) (*models.WorkflowExecution, error) {
	exec, err := start(ctx, e.store, e.now(), req)
	if err != nil {
		return nil, err
	}

	if err := e.dispatch(ctx, dispatchRequest{ExecutionID: exec.ID, TriggerRequest: req}); err != nil {
		if ferr := e.store.FinishExecution(ctx, exec.ID, models.ExecutionFailed, e.now()); ferr != nil {
			return nil, fmt.Errorf("%w (and failed to mark execution failed: %v)", err, ferr)
		}
		return nil, err
	}
	return exec, nil
}

func (e *HTTPEngine) dispatch(ctx context.Context, body dispatchRequest) error {
	requestBody, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url+"/executions", bytes.NewBuffer(requestBody))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("failed to dispatch execution: status code %d", resp.StatusCode)
	}
	return nil
}
