package dialogue

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/loqalabs/loqa-callbot/internal/config"
)

const defaultOllamaModel = "llama3.2:latest"

const defaultSystemPrompt = "You are a friendly phone assistant for battery swap drivers. " +
	"Answer in one or two short spoken sentences in the caller's language."

// ollamaEngine answers turns with a local model. Control messages are
// acknowledged without a model call.
type ollamaEngine struct {
	endpoint    string
	model       string
	system      string
	maxTokens   int
	temperature float64
}

type ollamaRequest struct {
	Model   string        `json:"model"`
	Prompt  string        `json:"prompt"`
	System  string        `json:"system,omitempty"`
	Stream  bool          `json:"stream"`
	Options ollamaOptions `json:"options"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type ollamaStreamResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

func NewOllamaEngine(cfg config.DialogueConfig) Engine {
	model := cfg.Model
	if model == "" {
		model = defaultOllamaModel
	}
	system := cfg.System
	if system == "" {
		system = defaultSystemPrompt
	}
	return &ollamaEngine{
		endpoint:    strings.TrimRight(cfg.Endpoint, "/"),
		model:       model,
		system:      system,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
	}
}

func (g *ollamaEngine) Send(ctx context.Context, req Request) ([]Reply, error) {
	message := strings.TrimSpace(req.Message)
	if message == SessionStartMessage || message == SessionEndMessage || message == "" {
		return nil, nil
	}
	prompt := message
	if lang, _ := req.Metadata["language"].(string); lang != "" {
		prompt = fmt.Sprintf("[language=%s] %s", lang, message)
	}
	payload := ollamaRequest{
		Model:  g.model,
		Prompt: prompt,
		System: g.system,
		Stream: true,
		Options: ollamaOptions{
			Temperature: g.temperature,
			NumPredict:  g.maxTokens,
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("ollama returned status %s", resp.Status)
	}

	scanner := bufio.NewScanner(resp.Body)
	var accumulated strings.Builder
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var chunk ollamaStreamResponse
		if err := json.Unmarshal(line, &chunk); err != nil {
			return nil, err
		}
		accumulated.WriteString(chunk.Response)
		if chunk.Done {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	text := strings.TrimSpace(accumulated.String())
	if text == "" {
		return nil, nil
	}
	return []Reply{{Text: text}}, nil
}
