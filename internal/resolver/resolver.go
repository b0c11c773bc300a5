package resolver

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"meeting-pipeline/internal/entity"
)

// bytesPerSecond assumes 128 kbit/s audio when estimating duration from size.
const bytesPerSecond = 128 * 1000 / 8

type Resolver interface {
	Resolve(ctx context.Context, ref string) (entity.InputDescriptor, error)
}

// FileResolver resolves references to files below Root.
type FileResolver struct {
	Root string
}

func NewFileResolver(root string) *FileResolver {
	return &FileResolver{Root: root}
}

func (r *FileResolver) Resolve(ctx context.Context, ref string) (entity.InputDescriptor, error) {
	if err := ctx.Err(); err != nil {
		return entity.InputDescriptor{}, err
	}

	path, err := r.path(ref)
	if err != nil {
		return entity.InputDescriptor{}, err
	}

	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return entity.InputDescriptor{}, fmt.Errorf("input %q: %w", ref, entity.ErrNotFound)
		}
		return entity.InputDescriptor{}, err
	}
	if info.IsDir() {
		return entity.InputDescriptor{}, fmt.Errorf("input %q is a directory: %w", ref, entity.ErrNotFound)
	}

	return entity.InputDescriptor{
		Ref:       ref,
		Name:      info.Name(),
		SizeBytes: info.Size(),
		Duration:  time.Duration(info.Size()/bytesPerSecond) * time.Second,
		ModTime:   info.ModTime().UTC(),
	}, nil
}

func (r *FileResolver) path(ref string) (string, error) {
	if ref == "" {
		return "", fmt.Errorf("empty input reference: %w", entity.ErrNotFound)
	}
	if r.Root == "" {
		return filepath.Clean(ref), nil
	}

	rel := filepath.Clean(filepath.FromSlash(ref))
	if filepath.IsAbs(rel) || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("input %q escapes input root: %w", ref, entity.ErrNotFound)
	}
	return filepath.Join(r.Root, rel), nil
}

// ResolveAll resolves refs in order and stops at the first failure.
func ResolveAll(ctx context.Context, r Resolver, refs []string) ([]entity.InputDescriptor, error) {
	out := make([]entity.InputDescriptor, 0, len(refs))
	for _, ref := range refs {
		d, err := r.Resolve(ctx, ref)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}
