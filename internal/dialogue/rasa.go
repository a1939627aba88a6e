package dialogue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const maxRasaResponse = 1 << 20

type rasaEngine struct {
	endpoint string
	http     *http.Client
}

type rasaRequest struct {
	Sender   string         `json:"sender"`
	Message  string         `json:"message"`
	Metadata map[string]any `json:"metadata"`
}

// NewRasaEngine posts turns to the REST input channel of a Rasa server.
func NewRasaEngine(endpoint string) Engine {
	return &rasaEngine{
		endpoint: strings.TrimRight(endpoint, "/"),
		http:     &http.Client{Timeout: 30 * time.Second},
	}
}

func (e *rasaEngine) Send(ctx context.Context, req Request) ([]Reply, error) {
	metadata := req.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	body, err := json.Marshal(rasaRequest{Sender: req.SessionID, Message: req.Message, Metadata: metadata})
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint+"/webhooks/rest/webhook", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := e.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("rasa request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxRasaResponse))
	if err != nil {
		return nil, fmt.Errorf("read rasa response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rasa returned status %s", resp.Status)
	}
	var replies []Reply
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	if err := json.Unmarshal(data, &replies); err != nil {
		return nil, fmt.Errorf("decode rasa response: %w", err)
	}
	return replies, nil
}
