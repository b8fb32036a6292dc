package blob

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

const fileScheme = "file://"

// LocalStore는 로컬 디렉토리에 blob을 저장합니다.
type LocalStore struct {
	root string
}

// NewLocalStore는 root 아래에 저장하는 LocalStore를 생성합니다.
func NewLocalStore(root string) (*LocalStore, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("blob: resolve root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("blob: create root: %w", err)
	}
	return &LocalStore{root: abs}, nil
}

// Put은 data를 key 경로에 기록하고 file:// URL을 반환합니다.
func (s *LocalStore) Put(_ context.Context, key, _ string, data []byte) (string, error) {
	p, err := s.pathFor(key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return "", fmt.Errorf("blob: create dir: %w", err)
	}
	if err := os.WriteFile(p, data, 0o644); err != nil {
		return "", fmt.Errorf("blob: write %s: %w", key, err)
	}
	return fileScheme + filepath.ToSlash(p), nil
}

// Read는 URL의 내용을 읽습니다.
func (s *LocalStore) Read(_ context.Context, url string) ([]byte, error) {
	p, err := s.pathFromURL(url)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("blob: read: %w", err)
	}
	return data, nil
}

// Delete는 URL의 파일을 삭제합니다. 없는 파일은 무시합니다.
func (s *LocalStore) Delete(_ context.Context, url string) error {
	p, err := s.pathFromURL(url)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("blob: delete: %w", err)
	}
	return nil
}

func (s *LocalStore) pathFor(key string) (string, error) {
	p := filepath.Join(s.root, filepath.FromSlash(key))
	if !s.within(p) {
		return "", fmt.Errorf("blob: key %q escapes root", key)
	}
	return p, nil
}

func (s *LocalStore) pathFromURL(url string) (string, error) {
	if !strings.HasPrefix(url, fileScheme) {
		return "", fmt.Errorf("blob: unsupported url %q", url)
	}
	p := filepath.Clean(filepath.FromSlash(strings.TrimPrefix(url, fileScheme)))
	if !s.within(p) {
		return "", fmt.Errorf("blob: url %q outside root", url)
	}
	return p, nil
}

func (s *LocalStore) within(p string) bool {
	rel, err := filepath.Rel(s.root, p)
	return err == nil && rel != "." && !strings.HasPrefix(rel, "..")
}
