package tts

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"sync"

	"github.com/mattn/go-shellwords"

	"github.com/exaudilabs/exaudi-core/internal/ttsroute"
)

// execProvider shells out to a helper process per synthesis. The
// request goes to stdin as one JSON object; the helper answers with a
// single JSON object (unary) or JSON lines (stream). One synthesis at
// a time per provider.
type execProvider struct {
	cmd []string
	mu  sync.Mutex
}

type execSynthRequest struct {
	Text      string `json:"text"`
	Language  string `json:"language"`
	VoiceID   string `json:"voice_id"`
	VoiceName string `json:"voice_name"`
	Tier      string `json:"tier"`
	Engine    string `json:"engine"`
	Model     string `json:"model,omitempty"`
	Encoding  string `json:"encoding"`
	Stream    bool   `json:"stream"`
}

type execSynthResponse struct {
	AudioBase64  string `json:"audio_base64"`
	Mime         string `json:"mime,omitempty"`
	SampleRateHz int    `json:"sample_rate_hz,omitempty"`
	Last         bool   `json:"last,omitempty"`
	Error        string `json:"error,omitempty"`
}

// NewExecProvider builds a provider around a shell command line.
func NewExecProvider(command string) (Provider, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse tts command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("tts command empty")
	}
	return &execProvider{cmd: args}, nil
}

// execKindErr maps the helper's error tag to a failure sentinel.
func execKindErr(kind string) error {
	switch kind {
	case "permission_denied":
		return ErrPermissionDenied
	case "invalid_argument":
		return ErrInvalidArgument
	case "unsupported_voice":
		return ErrUnsupportedVoice
	case "rate_limited":
		return ErrRateLimited
	}
	return fmt.Errorf("tts helper error: %s", kind)
}

func synthPayload(req Request, route ttsroute.Route, stream bool) ([]byte, error) {
	return json.Marshal(execSynthRequest{
		Text:      req.Text,
		Language:  route.LanguageCode,
		VoiceID:   route.VoiceID,
		VoiceName: route.VoiceName,
		Tier:      route.Tier,
		Engine:    route.Engine,
		Model:     route.Model,
		Encoding:  route.AudioEncoding,
		Stream:    stream,
	})
}

func (e *execProvider) SynthesizeUnary(ctx context.Context, req Request, route ttsroute.Route) (Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	payload, err := synthPayload(req, route, false)
	if err != nil {
		return Result{}, err
	}
	cmd := exec.CommandContext(ctx, e.cmd[0], e.cmd[1:]...)
	cmd.Stdin = bytes.NewReader(payload)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		return Result{}, fmt.Errorf("tts helper: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	var resp execSynthResponse
	if err := json.Unmarshal(bytes.TrimSpace(stdout.Bytes()), &resp); err != nil {
		return Result{}, fmt.Errorf("decode tts helper response: %w", err)
	}
	if resp.Error != "" {
		return Result{}, execKindErr(resp.Error)
	}
	audio, err := base64.StdEncoding.DecodeString(resp.AudioBase64)
	if err != nil {
		return Result{}, fmt.Errorf("decode tts helper audio: %w", err)
	}
	res := Result{Audio: audio, Mime: resp.Mime, SampleRateHz: resp.SampleRateHz}
	if res.Mime == "" {
		res.Mime = MimeForEncoding(route.AudioEncoding)
	}
	if res.SampleRateHz == 0 {
		res.SampleRateHz = defaultSampleRateHz
	}
	return res, nil
}

func (e *execProvider) SynthesizeStream(ctx context.Context, req Request, route ttsroute.Route, onChunk func(chunk []byte, last bool) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	payload, err := synthPayload(req, route, true)
	if err != nil {
		return err
	}
	cmd := exec.CommandContext(ctx, e.cmd[0], e.cmd[1:]...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return err
	}
	if _, err := stdin.Write(payload); err != nil {
		cmd.Wait()
		return err
	}
	stdin.Close()

	scanner := bufio.NewScanner(stdout)
	// Base64 audio lines exceed the default token limit.
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var resp execSynthResponse
		if err := json.Unmarshal(line, &resp); err != nil {
			cmd.Wait()
			return fmt.Errorf("decode tts helper chunk: %w", err)
		}
		if resp.Error != "" {
			cmd.Wait()
			return execKindErr(resp.Error)
		}
		chunk, err := base64.StdEncoding.DecodeString(resp.AudioBase64)
		if err != nil {
			cmd.Wait()
			return fmt.Errorf("decode tts helper audio: %w", err)
		}
		if err := onChunk(chunk, resp.Last); err != nil {
			cmd.Wait()
			return err
		}
	}
	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("tts helper: %w", err)
	}
	return scanner.Err()
}
