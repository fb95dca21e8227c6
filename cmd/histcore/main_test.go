// File: cmd/histcore/main_test.go
package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetMocks() {
	osWriteFile = os.WriteFile
	osExit = os.Exit
}

func TestHandlePanic(t *testing.T) {
	t.Run("writes the panic log", func(t *testing.T) {
		defer resetMocks()
		var written []byte
		var path string
		osWriteFile = func(name string, data []byte, perm os.FileMode) error {
			path, written = name, data
			return nil
		}
		exitCode := -1
		osExit = func(code int) { exitCode = code }

		func() {
			defer handlePanic()
			panic("boom")
		}()

		assert.Equal(t, panicLogFile, path)
		assert.True(t, strings.HasPrefix(string(written), "panic: boom"))
		assert.Contains(t, string(written), "goroutine")
		assert.Equal(t, 2, exitCode)
	})

	t.Run("falls back to stderr when the log cannot be written", func(t *testing.T) {
		defer resetMocks()
		osWriteFile = func(string, []byte, os.FileMode) error { return errors.New("read-only fs") }
		exitCode := -1
		osExit = func(code int) { exitCode = code }

		func() {
			defer handlePanic()
			panic("boom")
		}()
		assert.Equal(t, 1, exitCode)
	})

	t.Run("does nothing without a panic", func(t *testing.T) {
		defer resetMocks()
		osExit = func(int) { t.Fatal("osExit must not be called") }
		func() {
			defer handlePanic()
		}()
	})
}

func TestRunShell(t *testing.T) {
	in := strings.NewReader("\nhelp\nquit\nhelp\n")
	var out bytes.Buffer

	require.NoError(t, runShell(context.Background(), in, &out))
	got := out.String()
	assert.Contains(t, got, "histcore > ")
	assert.Contains(t, got, "Available Commands:")
	assert.Equal(t, 1, strings.Count(got, "Available Commands:"), "lines after quit are not run")
	assert.Contains(t, got, "Exiting histcore.")
}

func TestRunShell_EOF(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, runShell(context.Background(), strings.NewReader("version-does-not-exist"), &out))
	assert.Contains(t, out.String(), "unknown command")
	assert.Contains(t, out.String(), "Exiting histcore.")
}
