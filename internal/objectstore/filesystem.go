package objectstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/imyashkale/hera/internal/logger"
)

// FilesystemStore stores objects as files under root/bucket/path
type FilesystemStore struct {
	root string
}

// NewFilesystemStore creates the root directory if needed
func NewFilesystemStore(root string) (*FilesystemStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create object store root: %w", err)
	}
	return &FilesystemStore{root: root}, nil
}

func (s *FilesystemStore) resolve(bucket, path string) (string, error) {
	if bucket == "" || strings.ContainsAny(bucket, `/\`) || bucket == "." || bucket == ".." {
		return "", fmt.Errorf("invalid bucket %q", bucket)
	}
	clean := filepath.Clean("/" + path)
	if clean == "/" || strings.Contains(path, "..") {
		return "", fmt.Errorf("invalid object path %q", path)
	}
	return filepath.Join(s.root, bucket, filepath.FromSlash(clean)), nil
}

// Get reads an object
func (s *FilesystemStore) Get(ctx context.Context, bucket, path string) ([]byte, error) {
	full, err := s.resolve(bucket, path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read object %s/%s: %w", bucket, path, err)
	}
	return data, nil
}

// Put writes an object. Without Overwrite the final link is exclusive, so
// two concurrent writers cannot both succeed.
func (s *FilesystemStore) Put(ctx context.Context, bucket, path string, data []byte, opts PutOptions) error {
	full, err := s.resolve(bucket, path)
	if err != nil {
		return err
	}
	dir := filepath.Dir(full)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create object directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return fmt.Errorf("create temp object: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp object: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp object: %w", err)
	}

	if opts.Overwrite {
		if err := os.Rename(tmpPath, full); err != nil {
			return fmt.Errorf("store object: %w", err)
		}
	} else if err := os.Link(tmpPath, full); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("store object: %w", err)
	}

	logger.WithFields(map[string]interface{}{
		"bucket": bucket,
		"path":   path,
		"size":   len(data),
	}).Debug("Object stored on filesystem")
	return nil
}

// List returns objects whose path starts with prefix, sorted by path
func (s *FilesystemStore) List(ctx context.Context, bucket, prefix string) ([]ObjectInfo, error) {
	base := filepath.Join(s.root, bucket)
	var out []ObjectInfo
	err := filepath.WalkDir(base, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".upload-") {
			return nil
		}
		rel, err := filepath.Rel(base, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if !strings.HasPrefix(rel, prefix) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		sum := sha256.Sum256(data)
		out = append(out, ObjectInfo{
			Path:         rel,
			Size:         info.Size(),
			LastModified: info.ModTime(),
			ETag:         hex.EncodeToString(sum[:]),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list objects %s/%s: %w", bucket, prefix, err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

// Delete removes an object
func (s *FilesystemStore) Delete(ctx context.Context, bucket, path string) error {
	full, err := s.resolve(bucket, path)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrNotFound
		}
		return fmt.Errorf("delete object %s/%s: %w", bucket, path, err)
	}
	return nil
}
