package extract

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Runner executes external tools. Tests substitute a stub.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct {
	Logger *zerolog.Logger
}

func (r ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	logger := r.Logger
	if logger == nil {
		logger = &log.Logger
	}
	start := time.Now()
	cmd := exec.CommandContext(ctx, name, args...)
	var out, errb bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errb
	err := cmd.Run()
	ev := logger.Debug()
	if err != nil {
		ev = logger.Warn().Err(err).Str("stderr", truncate(errb.String(), 8<<10))
	}
	ev.Str("cmd", name).Str("args", strings.Join(args, " ")).Dur("duration", time.Since(start)).
		Int("stdout_bytes", out.Len()).Msg("exec")
	return out.Bytes(), errb.Bytes(), err
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "...(truncated)"
}
