package translate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"

	"github.com/exaudilabs/exaudi-core/internal/config"
	"github.com/mattn/go-shellwords"
)

// execTranslator shells out to an external command. The text arrives
// on stdin; the command prints {"text": "..."} on stdout.
type execTranslator struct {
	cmd []string
	mu  sync.Mutex
}

type execResponse struct {
	Text string `json:"text"`
}

func NewExec(cfg config.TranslateConfig) (Translator, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse translate command: %w", err)
	}
	if len(args) == 0 {
		return nil, errors.New("translate command is empty")
	}
	return &execTranslator{cmd: args}, nil
}

func (t *execTranslator) Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	args := append([]string{}, t.cmd...)
	base := args[0]
	cmdArgs := append(args[1:], "--source", sourceLang, "--target", targetLang)

	command := exec.CommandContext(ctx, base, cmdArgs...)
	command.Stdin = strings.NewReader(text)
	var stdout, stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("%w: %v: %s", ErrUnavailable, err, stderr.String())
	}

	var resp execResponse
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return "", fmt.Errorf("%w: decode response: %v", ErrUnavailable, err)
	}
	return resp.Text, nil
}
