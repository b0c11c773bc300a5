package resolver_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"meeting-pipeline/internal/entity"
	"meeting-pipeline/internal/resolver"
)

func TestFileResolver_ResolvesFile(t *testing.T) {
	root := t.TempDir()
	data := make([]byte, 16000*3)
	require.NoError(t, os.WriteFile(filepath.Join(root, "standup.mp3"), data, 0o644))

	d, err := resolver.NewFileResolver(root).Resolve(context.Background(), "standup.mp3")
	require.NoError(t, err)

	assert.Equal(t, "standup.mp3", d.Ref)
	assert.Equal(t, "standup.mp3", d.Name)
	assert.Equal(t, int64(len(data)), d.SizeBytes)
	assert.Equal(t, 3*time.Second, d.Duration)
	assert.False(t, d.ModTime.IsZero())
}

func TestFileResolver_NotFound(t *testing.T) {
	r := resolver.NewFileResolver(t.TempDir())

	for _, ref := range []string{"missing.wav", "", "../etc/passwd", "/etc/passwd"} {
		_, err := r.Resolve(context.Background(), ref)
		assert.True(t, errors.Is(err, entity.ErrNotFound), "ref %q: %v", ref, err)
	}
}

func TestResolveAll_StopsAtFirstMissing(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.wav"), []byte("x"), 0o644))

	_, err := resolver.ResolveAll(context.Background(), resolver.NewFileResolver(root), []string{"a.wav", "b.wav"})
	assert.ErrorIs(t, err, entity.ErrNotFound)

	got, err := resolver.ResolveAll(context.Background(), resolver.NewFileResolver(root), []string{"a.wav"})
	require.NoError(t, err)
	assert.Len(t, got, 1)
}
