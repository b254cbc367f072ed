// Package speech holds the server side speech boundaries: transcription via a
// whisper.cpp style CLI, synthesis via a command line TTS engine, and the LLM
// responder that produces chat replies.
package speech

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/rojolang/talker-go/pkg/talker"
)

// command is a whitespace separated argv template. Placeholders of the form
// {name} inside an argument are replaced before the process starts; an
// argument that expands to the empty string is dropped.
type command string

func (c command) expand(vars map[string]string) ([]string, error) {
	fields := strings.Fields(string(c))
	if len(fields) == 0 {
		return nil, talker.NewConfigError("empty command")
	}
	args := make([]string, 0, len(fields))
	for _, f := range fields {
		for k, v := range vars {
			f = strings.ReplaceAll(f, "{"+k+"}", v)
		}
		if f == "" {
			continue
		}
		args = append(args, f)
	}
	return args, nil
}

// run starts argv, feeds stdin and returns stdout. Stderr is attached to the
// error on failure.
func run(ctx context.Context, logger *talker.Logger, argv []string, stdin []byte) ([]byte, error) {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	logger.Debugf("Running %s", strings.Join(cmd.Args, " "))
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%s: %w: %s", argv[0], err, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}
