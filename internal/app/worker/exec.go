package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/tutu-network/convoy/internal/domain"
)

// CodeExitStatus marks results of processes that exited non-zero.
const CodeExitStatus = "EXIT_STATUS"

// exitTempFail (EX_TEMPFAIL from sysexits.h) asks for a retry.
const exitTempFail = 75

// ExecCommand returns an executor that runs an external program per hook.
// The hook is written to the program's stdin as JSON. Its stdout becomes the
// result output: kept verbatim when it is valid JSON, wrapped as a JSON
// string otherwise. A non-zero exit yields a FAILED result that is only
// recoverable for exit status 75.
func ExecCommand(name string, args ...string) Executor {
	return func(ctx context.Context, hook *domain.Hook) (domain.HookResult, error) {
		payload, err := json.Marshal(hook)
		if err != nil {
			return domain.HookResult{}, fmt.Errorf("encode hook %s: %w", hook.ID, err)
		}

		cmd := exec.CommandContext(ctx, name, args...)
		cmd.Stdin = bytes.NewReader(payload)
		var stdout bytes.Buffer
		stderr := &limitedBuffer{max: 8192}
		cmd.Stdout = &stdout
		cmd.Stderr = stderr
		cmd.Env = append(os.Environ(),
			"CONVOY_HOOK_ID="+hook.ID,
			"CONVOY_ROLE="+string(hook.Role),
			"CONVOY_TASK_ID="+hook.Record.TaskID,
		)

		if err := cmd.Run(); err != nil {
			if ctx.Err() != nil {
				return domain.HookResult{}, ctx.Err()
			}
			var exitErr *exec.ExitError
			if !errors.As(err, &exitErr) {
				return domain.HookResult{}, fmt.Errorf("run %s: %w", name, err)
			}
			code := exitErr.ExitCode()
			msg := fmt.Sprintf("%s exited with status %d", name, code)
			if tail := strings.TrimSpace(stderr.String()); tail != "" {
				msg += ": " + tail
			}
			return domain.HookResult{
				Status: domain.HookFailed,
				Error:  &domain.HookError{Code: CodeExitStatus, Message: msg, Recoverable: code == exitTempFail},
			}, nil
		}

		return domain.HookResult{Status: domain.HookComplete, Output: outputOf(stdout.Bytes())}, nil
	}
}

func outputOf(stdout []byte) json.RawMessage {
	out := bytes.TrimSpace(stdout)
	if len(out) == 0 {
		return nil
	}
	if json.Valid(out) {
		return json.RawMessage(out)
	}
	b, _ := json.Marshal(string(out))
	return b
}

// limitedBuffer keeps only the last max bytes written to it.
type limitedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
	max int
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n, err := b.buf.Write(p)
	if b.buf.Len() > b.max {
		data := b.buf.Bytes()
		tail := append([]byte(nil), data[len(data)-b.max:]...)
		b.buf.Reset()
		b.buf.Write(tail)
	}
	return n, err
}

func (b *limitedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
