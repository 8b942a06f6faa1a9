// internal/services/progress_service.go
package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Corphon/ChronoAtlas/internal/models"
)

// 任务状态
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// ProgressUpdate 表示进度更新
type ProgressUpdate struct {
	TaskID   string               `json:"task_id"`
	Progress int                  `json:"progress"` // 进度百分比 (0-100)
	Message  string               `json:"message"`  // 描述性消息
	Status   string               `json:"status"`   // 状态：running, completed, failed, cancelled
	Snapshot *models.TimelineData `json:"snapshot,omitempty"`
}

// ProgressTracker 跟踪一次检索任务的进度以及最新的时间线快照
type ProgressTracker struct {
	TaskID      string                       // 任务唯一标识符
	Query       string                       // 用户输入的地点
	Progress    int                          // 进度百分比 (0-100)
	Message     string                       // 当前状态描述
	Status      string                       // 状态
	Snapshot    *models.TimelineData         // 最新的累积结果
	StartTime   time.Time                    // 开始时间
	UpdateTime  time.Time                    // 最后更新时间
	Subscribers map[chan ProgressUpdate]bool // 订阅进度更新的通道
	Done        chan struct{}                // 任务结束信号

	mutex    sync.Mutex
	doneOnce sync.Once
	cancel   context.CancelFunc
}

// ProgressService 管理所有进度跟踪器
type ProgressService struct {
	trackers map[string]*ProgressTracker
	mutex    sync.RWMutex
}

// NewProgressService 创建进度服务实例
func NewProgressService() *ProgressService {
	return &ProgressService{
		trackers: make(map[string]*ProgressTracker),
	}
}

// CreateTracker 创建新的进度跟踪器
func (s *ProgressService) CreateTracker(taskID string) *ProgressTracker {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	// 如果已存在，返回现有追踪器
	if tracker, exists := s.trackers[taskID]; exists {
		return tracker
	}

	now := time.Now()
	tracker := &ProgressTracker{
		TaskID:      taskID,
		Progress:    0,
		Message:     "Queued",
		Status:      StatusRunning,
		StartTime:   now,
		UpdateTime:  now,
		Subscribers: make(map[chan ProgressUpdate]bool),
		Done:        make(chan struct{}),
	}

	s.trackers[taskID] = tracker
	return tracker
}

// GetTracker 获取进度跟踪器
func (s *ProgressService) GetTracker(taskID string) (*ProgressTracker, bool) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	tracker, exists := s.trackers[taskID]
	return tracker, exists
}

// Count 返回当前保留的跟踪器数量
func (s *ProgressService) Count() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return len(s.trackers)
}

// CleanupCompletedTasks 清理已结束且超过 maxAge 未更新的任务，返回清理数量
func (s *ProgressService) CleanupCompletedTasks(maxAge time.Duration) int {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	now := time.Now()
	removed := 0
	for id, tracker := range s.trackers {
		tracker.mutex.Lock()
		finished := tracker.Status != StatusRunning
		isOld := now.Sub(tracker.UpdateTime) > maxAge
		tracker.mutex.Unlock()

		if finished && isOld {
			delete(s.trackers, id)
			removed++
		}
	}
	return removed
}

// StartCleanup 周期性清理过期任务，直到 ctx 结束
func (s *ProgressService) StartCleanup(ctx context.Context, interval, maxAge time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.CleanupCompletedTasks(maxAge)
			}
		}
	}()
}

// SetCancel 绑定运行上下文的取消函数
func (t *ProgressTracker) SetCancel(cancel context.CancelFunc) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.cancel = cancel
}

// UpdateProgress 更新任务进度；进度只增不减
func (t *ProgressTracker) UpdateProgress(progress int, message string) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if t.Status != StatusRunning {
		return
	}
	if progress > t.Progress {
		t.Progress = progress
	}
	if message != "" {
		t.Message = message
	}
	t.UpdateTime = time.Now()
	t.broadcastLocked()
}

// UpdateSnapshot 记录新的时间线快照并通知订阅者
func (t *ProgressTracker) UpdateSnapshot(snapshot *models.TimelineData) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if t.Status != StatusRunning {
		return
	}
	t.Snapshot = snapshot
	t.UpdateTime = time.Now()
	t.broadcastLocked()
}

// Complete 标记任务完成
func (t *ProgressTracker) Complete(message string, result *models.TimelineData) {
	t.finish(StatusCompleted, 100, message, result)
}

// Fail 标记任务失败
func (t *ProgressTracker) Fail(errorMsg string) {
	t.finish(StatusFailed, -1, fmt.Sprintf("Task failed: %s", errorMsg), nil)
}

// Cancel 取消运行中的任务；对已结束的任务无效
func (t *ProgressTracker) Cancel() bool {
	t.mutex.Lock()
	cancel := t.cancel
	running := t.Status == StatusRunning
	t.mutex.Unlock()

	if !running {
		return false
	}
	if cancel != nil {
		cancel()
	}
	t.finish(StatusCancelled, -1, "Task cancelled", nil)
	return true
}

// finish 只生效一次，progress 为负时保留当前进度
func (t *ProgressTracker) finish(status string, progress int, message string, result *models.TimelineData) {
	t.doneOnce.Do(func() {
		t.mutex.Lock()
		defer t.mutex.Unlock()

		t.Status = status
		if progress >= 0 {
			t.Progress = progress
		}
		if message != "" {
			t.Message = message
		}
		if result != nil {
			t.Snapshot = result
		}
		t.UpdateTime = time.Now()
		t.broadcastLocked()

		// 通知Done通道
		close(t.Done)
	})
}

// State 返回当前状态的副本
func (t *ProgressTracker) State() ProgressUpdate {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return t.currentLocked()
}

func (t *ProgressTracker) currentLocked() ProgressUpdate {
	return ProgressUpdate{
		TaskID:   t.TaskID,
		Progress: t.Progress,
		Message:  t.Message,
		Status:   t.Status,
		Snapshot: t.Snapshot,
	}
}

func (t *ProgressTracker) broadcastLocked() {
	update := t.currentLocked()
	for subscriber := range t.Subscribers {
		// 非阻塞发送，如果通道已满则跳过
		select {
		case subscriber <- update:
			continue
		default:
		}
		if update.Status == StatusRunning {
			continue
		}
		// 终态不能丢：挤掉最旧的一条再发送
		select {
		case <-subscriber:
		default:
		}
		select {
		case subscriber <- update:
		default:
		}
	}
}

// Subscribe 订阅进度更新
func (t *ProgressTracker) Subscribe() chan ProgressUpdate {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	// 创建订阅通道，缓冲区设为10以避免阻塞
	subscriber := make(chan ProgressUpdate, 10)
	t.Subscribers[subscriber] = true

	// 立即发送当前状态
	subscriber <- t.currentLocked()

	return subscriber
}

// Unsubscribe 取消订阅
func (t *ProgressTracker) Unsubscribe(subscriber chan ProgressUpdate) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if _, ok := t.Subscribers[subscriber]; !ok {
		return
	}
	delete(t.Subscribers, subscriber)
	close(subscriber)
}

// Observer 把流水线的状态消息和快照写入跟踪器
func (t *ProgressTracker) Observer() PipelineObserver {
	return PipelineObserverFuncs{
		StatusFunc: func(progress int, message string) {
			t.UpdateProgress(progress, message)
		},
		SnapshotFunc: t.UpdateSnapshot,
	}
}
