package stt

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

const maxDeepgramResponse = 4 << 20

// deepgramRecognizer posts one utterance to the prerecorded listen API.
type deepgramRecognizer struct {
	endpoint string
	apiKey   string
	model    string
	keywords []string
	http     *http.Client
}

type deepgramResponse struct {
	Results struct {
		Channels []struct {
			DetectedLanguage string `json:"detected_language"`
			Alternatives     []struct {
				Transcript string  `json:"transcript"`
				Confidence float64 `json:"confidence"`
				Words      []Word  `json:"words"`
			} `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

func NewDeepgramRecognizer(cfg config.STTConfig) Recognizer {
	model := cfg.Model
	if model == "" {
		model = "nova-2"
	}
	return &deepgramRecognizer{
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		apiKey:   cfg.APIKey,
		model:    model,
		keywords: cfg.Keywords,
		http:     &http.Client{Timeout: 30 * time.Second},
	}
}

// short Hinglish utterances recognize better with the Hindi model than with
// multilingual detection
func deepgramLanguage(language string) string {
	if language == "en" {
		return "en"
	}
	return "hi"
}

func (d *deepgramRecognizer) Transcribe(ctx context.Context, pcm []byte, sampleRate int, language string) (TranscriptionResult, error) {
	query := url.Values{
		"model":        {d.model},
		"language":     {deepgramLanguage(language)},
		"encoding":     {"linear16"},
		"sample_rate":  {strconv.Itoa(sampleRate)},
		"channels":     {"1"},
		"punctuate":    {"true"},
		"smart_format": {"true"},
	}
	for _, kw := range d.keywords {
		query.Add("keywords", kw)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint+"/v1/listen?"+query.Encode(), bytes.NewReader(pcm))
	if err != nil {
		return TranscriptionResult{}, err
	}
	req.Header.Set("Authorization", "Token "+d.apiKey)
	req.Header.Set("Content-Type", "audio/raw")

	resp, err := d.http.Do(req)
	if err != nil {
		return TranscriptionResult{}, fmt.Errorf("deepgram request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDeepgramResponse))
	if err != nil {
		return TranscriptionResult{}, fmt.Errorf("read deepgram response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return TranscriptionResult{}, fmt.Errorf("deepgram returned status %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	var parsed deepgramResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return TranscriptionResult{}, fmt.Errorf("decode deepgram response: %w", err)
	}
	result := TranscriptionResult{IsFinal: true, DetectedLanguage: language}
	if len(parsed.Results.Channels) == 0 {
		return result, nil
	}
	channel := parsed.Results.Channels[0]
	if channel.DetectedLanguage != "" {
		result.DetectedLanguage = channel.DetectedLanguage
	}
	if len(channel.Alternatives) == 0 {
		return result, nil
	}
	alt := channel.Alternatives[0]
	result.Text = alt.Transcript
	result.Confidence = alt.Confidence
	result.Words = alt.Words
	return result, nil
}
