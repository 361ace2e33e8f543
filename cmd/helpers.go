// File: cmd/helpers.go
package cmd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	jsoniter "github.com/json-iterator/go"
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"

	"github.com/xkilldash9x/synapse-cli/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var errNoContexts = errors.New("no disruption contexts in input")

// Process exit codes.
const (
	ExitOK        = 0
	ExitFailure   = 1
	ExitInvalid   = 2
	ExitUnhandled = 3
)

// ExitCode maps a command error onto a process exit code so callers can tell
// bad input from scenarios that need escalation.
func ExitCode(err error) int {
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		return ExitOK
	case errors.Is(err, schemas.ErrInvalidContext):
		return ExitInvalid
	case errors.Is(err, schemas.ErrUnhandledScenario):
		return ExitUnhandled
	default:
		return ExitFailure
	}
}

// openInput opens the named file, or the command's stdin for "" and "-".
func openInput(cmd *cobra.Command, args []string) (io.ReadCloser, error) {
	if len(args) == 0 || args[0] == "-" {
		return io.NopCloser(cmd.InOrStdin()), nil
	}
	path, err := homedir.Expand(args[0])
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open input: %w", err)
	}
	return f, nil
}

// readContexts accepts a single object, a JSON array, or newline-delimited
// objects.
func readContexts(r io.Reader) ([]schemas.DisruptionContext, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read input: %w", err)
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, errNoContexts
	}

	if data[0] == '[' {
		var out []schemas.DisruptionContext
		if err := json.Unmarshal(data, &out); err != nil {
			return nil, fmt.Errorf("failed to decode context array: %w", err)
		}
		if len(out) == 0 {
			return nil, errNoContexts
		}
		return out, nil
	}

	var single schemas.DisruptionContext
	if err := json.Unmarshal(data, &single); err == nil {
		return []schemas.DisruptionContext{single}, nil
	}

	var out []schemas.DisruptionContext
	for i, line := range bytes.Split(data, []byte("\n")) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		var dctx schemas.DisruptionContext
		if err := json.Unmarshal(line, &dctx); err != nil {
			return nil, fmt.Errorf("failed to decode context on line %d: %w", i+1, err)
		}
		out = append(out, dctx)
	}
	return out, nil
}

// writeJSON prints v indented, or on one line when compact is set.
func writeJSON(w io.Writer, v interface{}, compact bool) error {
	var (
		data []byte
		err  error
	)
	if compact {
		data, err = json.Marshal(v)
	} else {
		data, err = json.MarshalIndent(v, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
