package dialogue

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"sync"

	"github.com/mattn/go-shellwords"
)

// execEngine runs a command per turn. The request is written to stdin as
// {"sender","message","metadata"} and stdout must hold a JSON array of replies.
type execEngine struct {
	cmd []string
	mu  sync.Mutex
}

func NewExecEngine(command string) (Engine, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse dialogue command: %w", err)
	}
	if len(args) == 0 {
		return nil, errors.New("dialogue command empty")
	}
	return &execEngine{cmd: args}, nil
}

func (g *execEngine) Send(ctx context.Context, req Request) ([]Reply, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	input, err := json.Marshal(rasaRequest{Sender: req.SessionID, Message: req.Message, Metadata: req.Metadata})
	if err != nil {
		return nil, err
	}

	cmd := exec.CommandContext(ctx, g.cmd[0], g.cmd[1:]...)
	cmd.Stdin = bytes.NewReader(input)
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("dialogue exec command failed: %w", err)
	}
	if len(bytes.TrimSpace(output)) == 0 {
		return nil, nil
	}
	var replies []Reply
	if err := json.Unmarshal(output, &replies); err != nil {
		return nil, fmt.Errorf("decode dialogue exec response: %w", err)
	}
	return replies, nil
}
