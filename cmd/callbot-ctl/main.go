package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/loqalabs/loqa-callbot/internal/config"
	"github.com/loqalabs/loqa-callbot/internal/normalizer"
)

var version = "0.1.0-dev"

const requestTimeout = 15 * time.Second

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "expected 'dial', 'sessions', 'normalize' or 'version'")
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "dial":
		err = runDial(os.Args[2:])
	case "sessions":
		err = runSessions(os.Args[2:])
	case "normalize":
		err = runNormalize(os.Args[2:])
	case "version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", os.Args[1])
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type apiFlags struct {
	server string
	token  string
}

func (a *apiFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&a.server, "server", "http://localhost:8080", "Callbot HTTP address")
	fs.StringVar(&a.token, "token", os.Getenv("LOQA_HTTP_ADMIN_TOKEN"), "Admin bearer token")
}

func runDial(args []string) error {
	var (
		api apiFlags
		to  string
	)
	fs := flag.NewFlagSet("dial", flag.ExitOnError)
	api.register(fs)
	fs.StringVar(&to, "to", "", "Number to call")
	fs.Parse(args)
	if strings.TrimSpace(to) == "" {
		return errors.New("dial: -to is required")
	}

	body, err := json.Marshal(map[string]string{"to": to})
	if err != nil {
		return err
	}
	var result struct {
		SID    string `json:"sid"`
		Status string `json:"status"`
		To     string `json:"to"`
	}
	if err := api.do(http.MethodPost, "/api/v1/calls", body, &result); err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	fmt.Printf("call %s %s (%s)\n", result.SID, result.Status, result.To)
	return nil
}

func runSessions(args []string) error {
	var api apiFlags
	fs := flag.NewFlagSet("sessions", flag.ExitOnError)
	api.register(fs)
	fs.Parse(args)

	var result struct {
		Sessions []struct {
			SessionID string `json:"session_id"`
			Phone     string `json:"phone"`
			State     string `json:"state"`
			Language  string `json:"language"`
			Turns     int    `json:"turns"`
		} `json:"sessions"`
	}
	if err := api.do(http.MethodGet, "/api/v1/sessions", nil, &result); err != nil {
		return fmt.Errorf("sessions: %w", err)
	}
	if len(result.Sessions) == 0 {
		fmt.Println("no active sessions")
		return nil
	}
	for _, s := range result.Sessions {
		fmt.Printf("%s\t%s\t%s\t%s\tturns=%d\n", s.SessionID, s.Phone, s.State, s.Language, s.Turns)
	}
	return nil
}

func (a apiFlags) do(method, path string, body []byte, out any) error {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(a.server, "/")+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s (%d)", apiErr.Error, resp.StatusCode)
		}
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return json.Unmarshal(data, out)
}

func runNormalize(args []string) error {
	var configPath string
	fs := flag.NewFlagSet("normalize", flag.ExitOnError)
	fs.StringVar(&configPath, "config", "", "Configuration file with normalizer settings")
	fs.Parse(args)

	text := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if text == "" {
		return errors.New("normalize: text is required")
	}

	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	n, err := normalizer.New(cfg.Normalizer)
	if err != nil {
		return err
	}

	res := n.Normalize(text)
	fmt.Printf("original:   %s\n", res.Original)
	fmt.Printf("corrected:  %s\n", res.Corrected)
	fmt.Printf("language:   %s\n", normalizer.Detect(text))
	fmt.Printf("boost:      %.2f\n", res.ConfidenceBoost)
	if len(res.Rules) > 0 {
		fmt.Printf("rules:      %s\n", strings.Join(res.Rules, ", "))
	}
	return nil
}
