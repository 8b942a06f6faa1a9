// internal/storage/timeline_archive.go
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	apperrors "github.com/Corphon/ChronoAtlas/internal/errors"
	"github.com/Corphon/ChronoAtlas/internal/models"
	"github.com/Corphon/ChronoAtlas/internal/utils"
)

const archiveExt = ".json"

// ArchivedTimeline 一次已完成检索的结果
type ArchivedTimeline struct {
	TaskID      string               `json:"task_id"`
	Query       string               `json:"query"`
	CompletedAt time.Time            `json:"completed_at"`
	Timeline    *models.TimelineData `json:"timeline"`
}

// ArchiveSummary 列表中使用的摘要，不含完整时间线
type ArchiveSummary struct {
	TaskID      string    `json:"task_id"`
	Query       string    `json:"query"`
	Location    string    `json:"location"`
	Eras        int       `json:"eras"`
	CompletedAt time.Time `json:"completed_at"`
}

// TimelineArchive 把已完成的时间线保存为 JSON 文件，每个任务一个文件
type TimelineArchive struct {
	BaseDir string

	// 文件级别锁 path -> *sync.RWMutex
	fileLocks sync.Map
}

// NewTimelineArchive 创建归档目录
func NewTimelineArchive(baseDir string) (*TimelineArchive, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("创建归档目录失败: %w", err)
	}
	return &TimelineArchive{BaseDir: baseDir}, nil
}

func (a *TimelineArchive) getFileLock(fullPath string) *sync.RWMutex {
	value, _ := a.fileLocks.LoadOrStore(fullPath, &sync.RWMutex{})
	return value.(*sync.RWMutex)
}

// path 只接受 uuid 形式的任务ID
func (a *TimelineArchive) path(taskID string) (string, error) {
	if _, err := uuid.Parse(taskID); err != nil {
		return "", apperrors.NewValidationError("invalid task id", err)
	}
	return filepath.Join(a.BaseDir, taskID+archiveExt), nil
}

// Save 原子写入一条归档
func (a *TimelineArchive) Save(record ArchivedTimeline) error {
	if record.Timeline == nil {
		return apperrors.NewValidationError("timeline is required", nil)
	}
	fullPath, err := a.path(record.TaskID)
	if err != nil {
		return err
	}
	if record.CompletedAt.IsZero() {
		record.CompletedAt = time.Now()
	}

	content, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("序列化JSON失败: %w", err)
	}

	lock := a.getFileLock(fullPath)
	lock.Lock()
	defer lock.Unlock()

	// 原子性文件写入
	tempPath := fullPath + ".tmp"
	if err := os.WriteFile(tempPath, content, 0644); err != nil {
		return fmt.Errorf("保存临时文件失败: %w", err)
	}
	if err := os.Rename(tempPath, fullPath); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("保存文件失败: %w", err)
	}
	return nil
}

// Load 读取一条归档
func (a *TimelineArchive) Load(taskID string) (*ArchivedTimeline, error) {
	fullPath, err := a.path(taskID)
	if err != nil {
		return nil, err
	}

	lock := a.getFileLock(fullPath)
	lock.RLock()
	content, err := os.ReadFile(fullPath)
	lock.RUnlock()

	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperrors.NewNotFoundError("archived timeline not found", err)
		}
		return nil, apperrors.WrapError(err, "读取归档失败", apperrors.ErrorTypeError)
	}

	var record ArchivedTimeline
	if err := json.Unmarshal(content, &record); err != nil {
		return nil, apperrors.WrapError(err, "解析归档失败", apperrors.ErrorTypeError)
	}
	return &record, nil
}

// List 返回所有归档的摘要，最新的在前。无法解析的文件被跳过。
func (a *TimelineArchive) List() ([]ArchiveSummary, error) {
	entries, err := os.ReadDir(a.BaseDir)
	if err != nil {
		return nil, fmt.Errorf("读取归档目录失败: %w", err)
	}

	summaries := make([]ArchiveSummary, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, archiveExt) {
			continue
		}

		record, err := a.Load(strings.TrimSuffix(name, archiveExt))
		if err != nil {
			continue
		}
		summaries = append(summaries, ArchiveSummary{
			TaskID:      record.TaskID,
			Query:       record.Query,
			Location:    record.Timeline.Location,
			Eras:        len(record.Timeline.Eras),
			CompletedAt: record.CompletedAt,
		})
	}

	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].CompletedAt.After(summaries[j].CompletedAt)
	})
	return summaries, nil
}

// Cleanup 删除修改时间早于 maxAge 的归档，返回删除数量
func (a *TimelineArchive) Cleanup(maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(a.BaseDir)
	if err != nil {
		return 0, fmt.Errorf("读取归档目录失败: %w", err)
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), archiveExt) {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}

		fullPath := filepath.Join(a.BaseDir, entry.Name())
		lock := a.getFileLock(fullPath)
		lock.Lock()
		err = os.Remove(fullPath)
		lock.Unlock()

		if err == nil {
			a.fileLocks.Delete(fullPath)
			removed++
		}
	}
	return removed, nil
}

// StartCleanup 定期删除过期归档，直到 ctx 结束
func (a *TimelineArchive) StartCleanup(ctx context.Context, interval, maxAge time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				removed, err := a.Cleanup(maxAge)
				if err != nil {
					utils.GetLogger().Warn("archive cleanup failed", zap.Error(err))
				} else if removed > 0 {
					utils.GetLogger().Info("archive cleanup", zap.Int("removed", removed))
				}
			}
		}
	}()
}
