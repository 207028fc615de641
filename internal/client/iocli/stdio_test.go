package iocli

import (
	"bytes"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pipeWith(t *testing.T, input string) *os.File {
	t.Helper()
	r, w, err := os.Pipe()
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })

	go func() {
		_, _ = w.WriteString(input)
		_ = w.Close()
	}()

	return r
}

func TestStdio_PrintlnAndPrintf(t *testing.T) {
	var out bytes.Buffer
	stdio := newStdio(&out, os.Stdin)

	stdio.Println("syncing", "proj-1")
	stdio.Printf("saved version %d\n", 7)

	assert.Equal(t, "syncing proj-1\nsaved version 7\n", out.String())
}

func TestStdio_Write(t *testing.T) {
	var out bytes.Buffer
	stdio := newStdio(&out, os.Stdin)

	n, err := stdio.Write([]byte("task tree\n"))
	require.NoError(t, err)
	assert.Equal(t, 10, n)
	assert.Equal(t, "task tree\n", out.String())
}

func TestStdio_ReadInput(t *testing.T) {
	var out bytes.Buffer
	stdio := newStdio(&out, pipeWith(t, "  Design the schema  \n"))

	result, err := stdio.ReadInput("title: ")
	require.NoError(t, err)

	assert.Equal(t, "Design the schema", result, "input should be trimmed")
	assert.Equal(t, "title: ", out.String(), "prompt goes to the output stream")
}

func TestStdio_ReadInputSequential(t *testing.T) {
	var out bytes.Buffer
	stdio := newStdio(&out, pipeWith(t, "First task\nreference\n"))

	title, err := stdio.ReadInput("title: ")
	require.NoError(t, err)
	assert.Equal(t, "First task", title)

	kind, err := stdio.ReadInput("kind: ")
	require.NoError(t, err)
	assert.Equal(t, "reference", kind)
}

func TestStdio_ReadPasswordOutsideTerminal(t *testing.T) {
	// Pipe не терминал: пароль читается как обычная строка,
	// эхо скрывать нечего
	var out bytes.Buffer
	stdio := newStdio(&out, pipeWith(t, "hunter2\n"))

	password, err := stdio.ReadPassword("password: ")
	require.NoError(t, err)

	assert.Equal(t, "hunter2", password)
	assert.Equal(t, "password: ", out.String())
}
