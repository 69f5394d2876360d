package handlers

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cruciblehq/crucible/internal/config"
	"github.com/cruciblehq/crucible/internal/sandbox"
)

func newFileHandlerForTest(t *testing.T) (*FileHandler, string) {
	t.Helper()
	dataDir := t.TempDir()
	orch := sandbox.NewOrchestrator(nil, sandbox.NewRegistry(), config.SandboxConfig{}, config.AuthConfig{}, dataDir)
	return NewFileHandler(nil, orch), dataDir
}

func TestResolveStaysInsideWorkspace(t *testing.T) {
	h, dataDir := newFileHandlerForTest(t)
	root := filepath.Join(dataDir, "conversations", "conv_1")

	for rel, want := range map[string]string{
		"":               root,
		".":              root,
		"notes.md":       filepath.Join(root, "notes.md"),
		"sub/dir/a.txt":  filepath.Join(root, "sub", "dir", "a.txt"),
		"./sub/../a.txt": filepath.Join(root, "a.txt"),
	} {
		got, ok := h.resolve("conv_1", rel)
		require.True(t, ok, "rel=%q", rel)
		assert.Equal(t, want, got, "rel=%q", rel)
	}
}

func TestResolveNeutralizesTraversal(t *testing.T) {
	h, dataDir := newFileHandlerForTest(t)
	root := filepath.Join(dataDir, "conversations", "conv_1")

	// Parent references cannot climb above the workspace root.
	for _, rel := range []string{
		"../../etc/passwd",
		"..",
		"../../../",
		"sub/../../../../etc/shadow",
	} {
		got, ok := h.resolve("conv_1", rel)
		if !ok {
			continue
		}
		inside := got == root || strings.HasPrefix(got, root+string(filepath.Separator))
		assert.True(t, inside, "rel=%q escaped to %q", rel, got)
	}
}
