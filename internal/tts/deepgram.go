package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/loqalabs/loqa-callbot/internal/config"
)

const maxSpeakResponse = 16 << 20

// deepgramSynth calls the speak API and returns the WAVE body as one chunk.
type deepgramSynth struct {
	endpoint   string
	apiKey     string
	sampleRate int
	http       *http.Client
}

func NewDeepgramSynth(cfg config.TTSConfig) Synthesizer {
	return &deepgramSynth{
		endpoint:   strings.TrimRight(cfg.Endpoint, "/"),
		apiKey:     cfg.APIKey,
		sampleRate: cfg.SampleRate,
		http:       &http.Client{Timeout: 30 * time.Second},
	}
}

func (d *deepgramSynth) Synthesize(ctx context.Context, req SynthRequest) (<-chan SynthChunk, <-chan error) {
	chunks := make(chan SynthChunk, 1)
	errs := make(chan error, 1)
	go func() {
		defer close(chunks)
		defer close(errs)
		wav, err := d.speak(ctx, req)
		if err != nil {
			errs <- err
			return
		}
		chunks <- SynthChunk{
			SessionID:  req.SessionID,
			SampleRate: d.sampleRate,
			Channels:   1,
			Audio:      wav,
			Final:      true,
		}
	}()
	return chunks, errs
}

func (d *deepgramSynth) speak(ctx context.Context, req SynthRequest) ([]byte, error) {
	query := url.Values{
		"model":       {req.Voice},
		"encoding":    {"linear16"},
		"sample_rate": {strconv.Itoa(d.sampleRate)},
		"container":   {"wav"},
	}
	body, err := json.Marshal(map[string]string{"text": req.Text})
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint+"/v1/speak?"+query.Encode(), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Authorization", "Token "+d.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := d.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("deepgram speak: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxSpeakResponse))
	if err != nil {
		return nil, fmt.Errorf("read speak response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("deepgram speak returned status %s", resp.Status)
	}
	return data, nil
}
