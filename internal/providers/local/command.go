package local

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/tributary-ai/intellihub-router/internal/types"
)

const commandTimeout = 10 * time.Second

// commandBackend runs a shell command with the prompt on stdin and reads the
// answer from stdout.
type commandBackend struct {
	command string
}

func (b *commandBackend) model() string {
	name := "cmd"
	if fields := strings.Fields(b.command); len(fields) > 0 {
		name = fields[0]
	}
	return "local/cmd:" + name
}

func (b *commandBackend) raw() json.RawMessage {
	return mustJSON(map[string]string{"backend": "cmd", "cmd": b.command})
}

func (b *commandBackend) call(ctx context.Context, req types.PromptRequest) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, "sh", "-c", b.command)
	cmd.Stdin = strings.NewReader(req.Prompt)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("local LLM command timed out after %s", commandTimeout)
		}
		return "", fmt.Errorf("local LLM command failed: %s", strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}
