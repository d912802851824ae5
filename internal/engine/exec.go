package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/joescharf/nwbbatch/internal/metadata"
	"github.com/joescharf/nwbbatch/internal/models"
)

// stderrTailLines is how many trailing stderr lines are kept as failure detail.
const stderrTailLines = 20

// ExecEngine runs an external converter command. Each operation invokes
//
//	<Command> <Args...> <metadata|inspect|convert>
//
// with a JSON request on stdin. metadata and inspect print a JSON record on
// stdout. The session ID and output path are also exported as
// NWBBATCH_SESSION_ID and NWBBATCH_OUTPUT_PATH.
type ExecEngine struct {
	Command string
	Args    []string
	// Stderr, when set, receives the command's stderr in real time in
	// addition to the captured copy.
	Stderr io.Writer
}

// NewExecEngine returns an ExecEngine for the given command line.
func NewExecEngine(command string, args ...string) *ExecEngine {
	return &ExecEngine{Command: command, Args: args}
}

type inspectRequest struct {
	Kind   models.SourceKind `json:"kind"`
	Source SourceConfig      `json:"source"`
}

func (e *ExecEngine) Metadata(ctx context.Context, job Job) (*metadata.Record, error) {
	out, err := e.run(ctx, "metadata", job, jobEnv(job))
	if err != nil {
		return nil, err
	}
	return decodeRecord("metadata", out)
}

func (e *ExecEngine) Inspect(ctx context.Context, kind models.SourceKind, src SourceConfig) (*metadata.Record, error) {
	out, err := e.run(ctx, "inspect", inspectRequest{Kind: kind, Source: src}, nil)
	if err != nil {
		return nil, err
	}
	return decodeRecord("inspect", out)
}

func (e *ExecEngine) Convert(ctx context.Context, job Job) error {
	_, err := e.run(ctx, "convert", job, jobEnv(job))
	return err
}

func (e *ExecEngine) run(ctx context.Context, op string, req any, env []string) ([]byte, error) {
	if e.Command == "" {
		return nil, &Failure{Op: op, Err: fmt.Errorf("no engine command configured")}
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, &Failure{Op: op, Err: fmt.Errorf("encode request: %w", err)}
	}

	args := append(append([]string{}, e.Args...), op)
	cmd := exec.CommandContext(ctx, e.Command, args...)
	cmd.Stdin = bytes.NewReader(payload)
	cmd.Env = append(os.Environ(), env...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	if e.Stderr != nil {
		cmd.Stderr = io.MultiWriter(&stderr, e.Stderr)
	} else {
		cmd.Stderr = &stderr
	}

	if err := cmd.Run(); err != nil {
		return nil, &Failure{Op: op, Detail: tail(stderr.String(), stderrTailLines), Err: err}
	}
	return stdout.Bytes(), nil
}

func jobEnv(job Job) []string {
	return []string{
		"NWBBATCH_SESSION_ID=" + job.SessionID,
		"NWBBATCH_OUTPUT_PATH=" + job.OutputPath,
	}
}

func decodeRecord(op string, out []byte) (*metadata.Record, error) {
	if len(bytes.TrimSpace(out)) == 0 {
		return nil, nil
	}
	var rec metadata.Record
	if err := json.Unmarshal(out, &rec); err != nil {
		return nil, &Failure{Op: op, Err: fmt.Errorf("decode engine output: %w", err)}
	}
	return &rec, nil
}

// tail returns the last n non-empty lines of s joined by newlines.
func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	lines := strings.Split(s, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
