package tts

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"

	"github.com/mattn/go-shellwords"
)

const maxExecLine = 8 << 20

// execSynth writes one JSON request to the command's stdin and reads JSON
// lines carrying base64 audio from its stdout.
type execSynth struct {
	argv       []string
	sampleRate int
	channels   int
	mu         sync.Mutex
}

type execRequest struct {
	Text       string `json:"text"`
	Voice      string `json:"voice"`
	Language   string `json:"language"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
}

type execLine struct {
	PCMBase64 string `json:"pcm_base64"`
	Final     bool   `json:"final"`
}

func NewExecSynth(command string, sampleRate, channels int) (Synthesizer, error) {
	argv, err := shellwords.NewParser().Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse tts command: %w", err)
	}
	if len(argv) == 0 {
		return nil, errors.New("tts command empty")
	}
	return &execSynth{argv: argv, sampleRate: sampleRate, channels: channels}, nil
}

// Synthesize runs one command per utterance. Calls are serialized so a
// single-threaded local engine is never started twice at once.
func (e *execSynth) Synthesize(ctx context.Context, req SynthRequest) (<-chan SynthChunk, <-chan error) {
	chunks := make(chan SynthChunk)
	errs := make(chan error, 1)
	go func() {
		defer close(chunks)
		defer close(errs)
		e.mu.Lock()
		defer e.mu.Unlock()
		if err := e.run(ctx, req, chunks); err != nil {
			errs <- err
		}
	}()
	return chunks, errs
}

func (e *execSynth) run(ctx context.Context, req SynthRequest, out chan<- SynthChunk) error {
	payload, err := json.Marshal(execRequest{
		Text:       req.Text,
		Voice:      req.Voice,
		Language:   req.Language,
		SampleRate: e.sampleRate,
		Channels:   e.channels,
	})
	if err != nil {
		return err
	}

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, e.argv[0], e.argv[1:]...)
	cmd.Stdin = bytes.NewReader(payload)
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start tts command: %w", err)
	}

	template := SynthChunk{SessionID: req.SessionID, SampleRate: e.sampleRate, Channels: e.channels}
	readErr := readChunks(ctx, stdout, template, out)
	if readErr != nil {
		// Unblock the child before waiting on it.
		_, _ = io.Copy(io.Discard, stdout)
	}
	waitErr := cmd.Wait()
	if readErr != nil {
		return readErr
	}
	if waitErr != nil {
		return fmt.Errorf("tts command failed: %w: %s", waitErr, strings.TrimSpace(stderr.String()))
	}
	return nil
}

// readChunks decodes newline-delimited execLine records from r and sends
// each as a numbered chunk built from template. Blank lines are skipped.
func readChunks(ctx context.Context, r io.Reader, template SynthChunk, out chan<- SynthChunk) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxExecLine)
	for seq := 0; scanner.Scan(); {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var rec execLine
		if err := json.Unmarshal(line, &rec); err != nil {
			return fmt.Errorf("decode tts output: %w", err)
		}
		pcm, err := base64.StdEncoding.DecodeString(rec.PCMBase64)
		if err != nil {
			return fmt.Errorf("decode tts audio: %w", err)
		}
		chunk := template
		chunk.Sequence = seq
		chunk.Audio = pcm
		chunk.Final = rec.Final
		select {
		case out <- chunk:
		case <-ctx.Done():
			return ctx.Err()
		}
		seq++
	}
	return scanner.Err()
}
