package power

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	s, err := New(DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, &Command{Argv: []string{"sudo", "shutdown", "-h", "now"}}, s)

	s, err = New(Config{Method: MethodLogind})
	require.NoError(t, err)
	assert.IsType(t, &Logind{}, s)

	_, err = New(Config{Method: MethodCommand})
	assert.Error(t, err)

	_, err = New(Config{Method: "acpi"})
	assert.Error(t, err)
}

func TestCommandShutdown(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "halted")
	c := &Command{Argv: []string{"touch", marker}}

	require.NoError(t, c.Shutdown(context.Background()))
	assert.FileExists(t, marker)
}

func TestCommandShutdownFailure(t *testing.T) {
	c := &Command{Argv: []string{"false"}}
	assert.Error(t, c.Shutdown(context.Background()))
}

func TestCommandShutdownMissingBinary(t *testing.T) {
	c := &Command{Argv: []string{filepath.Join(os.TempDir(), "no-such-halt-binary")}}
	assert.Error(t, c.Shutdown(context.Background()))
}

func TestFakeShutdowner(t *testing.T) {
	f := &FakeShutdowner{}
	require.NoError(t, f.Shutdown(context.Background()))
	assert.Equal(t, 1, f.Calls)
}
