// internal/storage/media_store.go
package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	apperrors "github.com/Corphon/ChronoAtlas/internal/errors"
	"github.com/Corphon/ChronoAtlas/internal/utils"
)

var extensionsByMIME = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/webp": ".webp",
	"video/mp4":  ".mp4",
	"audio/wav":  ".wav",
}

// MediaStore 保存生成的图片和视频，文件名为 uuid
type MediaStore struct {
	BaseDir   string
	URLPrefix string
}

// NewMediaStore creates the media directory. URLPrefix is the public path the files
// are served under (e.g. "/media").
func NewMediaStore(baseDir, urlPrefix string) (*MediaStore, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("创建媒体目录失败: %w", err)
	}
	return &MediaStore{
		BaseDir:   baseDir,
		URLPrefix: strings.TrimSuffix(urlPrefix, "/"),
	}, nil
}

// Save writes data under a fresh name and returns the name and its public URL.
func (s *MediaStore) Save(data []byte, mimeType string) (string, string, error) {
	if len(data) == 0 {
		return "", "", apperrors.NewValidationError("empty media payload", nil)
	}

	name := uuid.NewString() + extensionFor(mimeType)
	fullPath := filepath.Join(s.BaseDir, name)

	// 原子性文件写入
	tempPath := fullPath + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return "", "", fmt.Errorf("保存临时文件失败: %w", err)
	}
	if err := os.Rename(tempPath, fullPath); err != nil {
		_ = os.Remove(tempPath)
		return "", "", fmt.Errorf("保存文件失败: %w", err)
	}

	return name, s.URL(name), nil
}

// URL returns the public URL of a stored file.
func (s *MediaStore) URL(name string) string {
	return s.URLPrefix + "/" + name
}

// Path resolves a stored name to its file path. Names that are not "<uuid><ext>"
// are rejected so clients cannot escape BaseDir.
func (s *MediaStore) Path(name string) (string, error) {
	ext := filepath.Ext(name)
	if _, err := uuid.Parse(strings.TrimSuffix(name, ext)); err != nil {
		return "", apperrors.NewValidationError("invalid media name", err)
	}

	fullPath := filepath.Join(s.BaseDir, name)
	if _, err := os.Stat(fullPath); err != nil {
		if os.IsNotExist(err) {
			return "", apperrors.NewNotFoundError("media not found", err)
		}
		return "", err
	}
	return fullPath, nil
}

// Cleanup removes files older than maxAge and returns how many were deleted.
func (s *MediaStore) Cleanup(maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(s.BaseDir)
	if err != nil {
		return 0, fmt.Errorf("读取媒体目录失败: %w", err)
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.BaseDir, entry.Name())); err == nil {
			removed++
		}
	}
	return removed, nil
}

// StartCleanup purges expired files every interval until ctx is done.
func (s *MediaStore) StartCleanup(ctx context.Context, interval, maxAge time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				removed, err := s.Cleanup(maxAge)
				if err != nil {
					utils.GetLogger().Warn("media cleanup failed", zap.Error(err))
				} else if removed > 0 {
					utils.GetLogger().Info("media cleanup", zap.Int("removed", removed))
				}
			}
		}
	}()
}

func extensionFor(mimeType string) string {
	base := strings.ToLower(strings.TrimSpace(strings.Split(mimeType, ";")[0]))
	if ext, ok := extensionsByMIME[base]; ok {
		return ext
	}
	return ".bin"
}
