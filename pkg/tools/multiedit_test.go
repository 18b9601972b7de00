package tools

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/praxis-platform/praxis/pkg/fault"
)

func newTestWorkspace(t *testing.T) *Workspace {
	t.Helper()
	ws, err := NewWorkspace(t.TempDir())
	require.NoError(t, err)
	return ws
}

func writeTestFile(t *testing.T, ws *Workspace, name, content string) string {
	t.Helper()
	path := filepath.Join(ws.Root, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func readTestFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestApplyMultiEdit_AllSucceed(t *testing.T) {
	ws := newTestWorkspace(t)
	a := writeTestFile(t, ws, "a.txt", "hello world")
	b := writeTestFile(t, ws, "b.txt", "foo bar")

	result, err := ApplyMultiEdit(context.Background(), ws, []FileEdit{
		{Path: "a.txt", Old: "world", New: "there"},
		{Path: "b.txt", Old: "bar", New: "baz"},
	}, true)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Applied)
	assert.False(t, result.RollbackPerformed)
	assert.Equal(t, "hello there", readTestFile(t, a))
	assert.Equal(t, "foo baz", readTestFile(t, b))
}

func TestApplyMultiEdit_AtomicRollbackRestoresEarlierEdits(t *testing.T) {
	ws := newTestWorkspace(t)
	a := writeTestFile(t, ws, "a.txt", "hello world")
	b := writeTestFile(t, ws, "b.txt", "foo bar")

	result, err := ApplyMultiEdit(context.Background(), ws, []FileEdit{
		{Path: "a.txt", Old: "world", New: "there"},
		{Path: "b.txt", Old: "missing text", New: "x"},
	}, true)
	require.Error(t, err)
	assert.Equal(t, fault.CodeToolExecutionFailed, fault.CodeOf(err))
	assert.True(t, result.RollbackPerformed)

	assert.Equal(t, "hello world", readTestFile(t, a), "first edit must be rolled back")
	assert.Equal(t, "foo bar", readTestFile(t, b))
}

func TestApplyMultiEdit_RollbackRemovesCreatedFiles(t *testing.T) {
	ws := newTestWorkspace(t)

	result, err := ApplyMultiEdit(context.Background(), ws, []FileEdit{
		{Path: "new.txt", Old: "", New: "fresh content"},
		{Path: "ghost.txt", Old: "nope", New: "x"},
	}, true)
	require.Error(t, err)
	assert.True(t, result.RollbackPerformed)

	_, statErr := os.Stat(filepath.Join(ws.Root, "new.txt"))
	assert.True(t, os.IsNotExist(statErr), "created file must be removed on rollback")
}

func TestApplyMultiEdit_NonAtomicKeepsPartialResults(t *testing.T) {
	ws := newTestWorkspace(t)
	a := writeTestFile(t, ws, "a.txt", "hello world")

	result, err := ApplyMultiEdit(context.Background(), ws, []FileEdit{
		{Path: "a.txt", Old: "world", New: "there"},
		{Path: "a.txt", Old: "missing", New: "x"},
	}, false)
	require.Error(t, err)
	assert.Equal(t, 1, result.Applied)
	assert.False(t, result.RollbackPerformed)
	assert.Equal(t, "hello there", readTestFile(t, a), "non-atomic mode keeps applied edits")
}

func TestApplyMultiEdit_EmptyOldCreatesFile(t *testing.T) {
	ws := newTestWorkspace(t)

	result, err := ApplyMultiEdit(context.Background(), ws, []FileEdit{
		{Path: "created.txt", Old: "", New: "first line"},
	}, true)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Applied)
	assert.Equal(t, "first line", readTestFile(t, filepath.Join(ws.Root, "created.txt")))
}

func TestApplyMultiEdit_MissingFileWithOldText(t *testing.T) {
	ws := newTestWorkspace(t)

	_, err := ApplyMultiEdit(context.Background(), ws, []FileEdit{
		{Path: "absent.txt", Old: "something", New: "x"},
	}, true)
	require.Error(t, err)
	assert.Equal(t, fault.CodeToolExecutionFailed, fault.CodeOf(err))
}

func TestApplyMultiEdit_EscapingPathRejected(t *testing.T) {
	ws := newTestWorkspace(t)

	result, err := ApplyMultiEdit(context.Background(), ws, []FileEdit{
		{Path: "../outside.txt", Old: "", New: "x"},
	}, true)
	require.Error(t, err)
	assert.Equal(t, fault.CodeSecurityViolation, fault.CodeOf(err))
	assert.Equal(t, 0, result.Applied)
}

func TestApplyMultiEdit_CancelledContext(t *testing.T) {
	ws := newTestWorkspace(t)
	writeTestFile(t, ws, "a.txt", "hello")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := ApplyMultiEdit(ctx, ws, []FileEdit{
		{Path: "a.txt", Old: "hello", New: "bye"},
	}, true)
	require.Error(t, err)
	assert.Equal(t, fault.CodeCancelled, fault.CodeOf(err))
}
