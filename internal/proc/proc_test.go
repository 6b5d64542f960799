package proc

import (
	"bytes"
	"context"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCopyFilteredDropsOnlyMatchingLines(t *testing.T) {
	input := strings.Join([]string{
		"loading checkpoint",
		"WARNING: incorrect regex pattern detected",
		"step 10 loss 1.23",
		"huggingface/tokenizers: The current process just got forked",
		"step 20 loss 1.01",
	}, "\n")

	var out bytes.Buffer
	err := CopyFiltered(&out, strings.NewReader(input), []string{
		"incorrect regex pattern",
		"huggingface/tokenizers: The current process just got forked",
	})
	require.NoError(t, err)

	assert.Equal(t, "loading checkpoint\nstep 10 loss 1.23\nstep 20 loss 1.01\n", out.String())
}

func TestCopyFilteredNoPatterns(t *testing.T) {
	var out bytes.Buffer
	err := CopyFiltered(&out, strings.NewReader("a\nb\n"), nil)
	require.NoError(t, err)
	assert.Equal(t, "a\nb\n", out.String())
}

func TestCommandString(t *testing.T) {
	cmd := Command{Name: "python3", Args: []string{"-m", "mlx_lm.lora", "--train"}}
	assert.Equal(t, "python3 -m mlx_lm.lora --train", cmd.String())
}

func TestExecRunnerRun(t *testing.T) {
	var out, errOut bytes.Buffer
	runner := ExecRunner{}

	err := runner.Run(context.Background(), Command{Name: "sh", Args: []string{"-c", "echo hello; echo oops 1>&2"}}, &out, &errOut)
	require.NoError(t, err)
	assert.Equal(t, "hello\n", out.String())
	assert.Equal(t, "oops\n", errOut.String())
}

func TestExecRunnerReportsExitCode(t *testing.T) {
	runner := ExecRunner{}

	err := runner.Run(context.Background(), Command{Name: "sh", Args: []string{"-c", "exit 3"}}, io.Discard, io.Discard)
	require.Error(t, err)

	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 3, exitErr.Code)
	assert.Contains(t, exitErr.Error(), "exit 3")
}

func TestExecRunnerScopedEnv(t *testing.T) {
	var out bytes.Buffer
	runner := ExecRunner{}

	cmd := Command{
		Name: "sh",
		Args: []string{"-c", "printf '%s' \"$SQLTUNE_TEST_FLAG\""},
		Env:  map[string]string{"SQLTUNE_TEST_FLAG": "scoped"},
	}
	require.NoError(t, runner.Run(context.Background(), cmd, &out, io.Discard))
	assert.Equal(t, "scoped", out.String())

	// The override must not leak into the parent process.
	assert.Empty(t, os.Getenv("SQLTUNE_TEST_FLAG"))
}

func TestExecRunnerRunFiltered(t *testing.T) {
	var out, errOut bytes.Buffer
	runner := ExecRunner{}

	cmd := Command{Name: "sh", Args: []string{"-c", "echo keep-out; echo drop-me 1>&2; echo keep-err 1>&2"}}
	err := runner.RunFiltered(context.Background(), cmd, &out, &errOut, []string{"drop-me"})
	require.NoError(t, err)
	assert.Equal(t, "keep-out\n", out.String())
	assert.Equal(t, "keep-err\n", errOut.String())
}

func TestExecRunnerRunFilteredExitCode(t *testing.T) {
	runner := ExecRunner{}

	cmd := Command{Name: "sh", Args: []string{"-c", "echo noise 1>&2; exit 7"}}
	err := runner.RunFiltered(context.Background(), cmd, io.Discard, io.Discard, nil)

	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 7, exitErr.Code)
}
