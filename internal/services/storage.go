package services

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/genoplot/genoplot-backend/internal/logger"
	"github.com/genoplot/genoplot-backend/internal/utils"
)

// StorageService keeps raw uploads. Local disk only; uploads are small and
// ephemeral, object storage would be dead weight here.
type StorageService interface {
	Save(key string, r io.Reader) (int64, error)
	Open(key string) (io.ReadCloser, error)
	Delete(key string) error
}

type localStorageService struct {
	log *logger.Logger
	dir string
}

func NewLocalStorageService(log *logger.Logger) (StorageService, error) {
	serviceLog := log.With("service", "StorageService")

	dir := utils.GetEnv("UPLOAD_DIR", "uploads", log)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("Failed to create upload dir %s: %w", dir, err)
	}
	serviceLog.Info("Local storage ready", "dir", dir)

	return &localStorageService{log: serviceLog, dir: dir}, nil
}

func (s *localStorageService) path(key string) (string, error) {
	clean := filepath.Clean(key)
	if clean == "." || strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return "", fmt.Errorf("invalid storage key %q", key)
	}
	return filepath.Join(s.dir, clean), nil
}

func (s *localStorageService) Save(key string, r io.Reader) (int64, error) {
	p, err := s.path(key)
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return 0, fmt.Errorf("Failed to create storage subdir: %w", err)
	}
	f, err := os.Create(p)
	if err != nil {
		return 0, fmt.Errorf("Failed to create storage file: %w", err)
	}
	defer f.Close()
	n, err := io.Copy(f, r)
	if err != nil {
		return 0, fmt.Errorf("Failed to write storage file: %w", err)
	}
	return n, nil
}

func (s *localStorageService) Open(key string) (io.ReadCloser, error) {
	p, err := s.path(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		return nil, fmt.Errorf("Failed to open storage file: %w", err)
	}
	return f, nil
}

func (s *localStorageService) Delete(key string) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("Failed to delete storage file: %w", err)
	}
	return nil
}
