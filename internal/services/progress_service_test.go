// internal/services/progress_service_test.go
package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/Corphon/ChronoAtlas/internal/models"
)

func TestProgressTracker_SubscribeReceivesCurrentState(t *testing.T) {
	service := NewProgressService()
	tracker := service.CreateTracker("task-1")
	tracker.UpdateProgress(20, MsgTimeline)

	ch := tracker.Subscribe()
	first := <-ch
	assert.Equal(t, "task-1", first.TaskID)
	assert.Equal(t, 20, first.Progress)
	assert.Equal(t, MsgTimeline, first.Message)
	assert.Equal(t, StatusRunning, first.Status)

	// 进度只增不减，空消息保留原消息
	tracker.UpdateProgress(10, "")
	update := <-ch
	assert.Equal(t, 20, update.Progress)
	assert.Equal(t, MsgTimeline, update.Message)

	snapshot := &models.TimelineData{Location: "Paris"}
	tracker.UpdateSnapshot(snapshot)
	update = <-ch
	assert.Same(t, snapshot, update.Snapshot)

	tracker.Unsubscribe(ch)
	_, open := <-ch
	assert.False(t, open)

	// 重复取消订阅不会 panic
	tracker.Unsubscribe(ch)
}

func TestProgressTracker_CompleteIsIdempotent(t *testing.T) {
	service := NewProgressService()
	tracker := service.CreateTracker("task-2")
	result := &models.TimelineData{Location: "Rome"}

	tracker.Complete("done", result)
	tracker.Complete("again", nil)
	tracker.Fail("late failure")

	select {
	case <-tracker.Done:
	default:
		t.Fatal("Done should be closed")
	}

	state := tracker.State()
	assert.Equal(t, StatusCompleted, state.Status)
	assert.Equal(t, 100, state.Progress)
	assert.Equal(t, "done", state.Message)
	assert.Same(t, result, state.Snapshot)

	// 结束后的更新被忽略
	tracker.UpdateProgress(50, "ignored")
	assert.Equal(t, "done", tracker.State().Message)
	assert.False(t, tracker.Cancel())
}

func TestProgressTracker_CancelStopsContext(t *testing.T) {
	service := NewProgressService()
	tracker := service.CreateTracker("task-3")
	ctx, cancel := context.WithCancel(context.Background())
	tracker.SetCancel(cancel)
	tracker.UpdateProgress(35, MsgSites)

	assert.True(t, tracker.Cancel())
	assert.ErrorIs(t, ctx.Err(), context.Canceled)

	state := tracker.State()
	assert.Equal(t, StatusCancelled, state.Status)
	assert.Equal(t, 35, state.Progress)
	<-tracker.Done
}

func TestProgressService_CreateAndCleanup(t *testing.T) {
	service := NewProgressService()
	first := service.CreateTracker("a")
	assert.Same(t, first, service.CreateTracker("a"))

	running := service.CreateTracker("b")
	first.Fail("boom")
	assert.Equal(t, "Task failed: boom", first.State().Message)

	assert.Equal(t, 0, service.CleanupCompletedTasks(time.Hour))
	assert.Equal(t, 1, service.CleanupCompletedTasks(-time.Second))

	_, exists := service.GetTracker("a")
	assert.False(t, exists)
	got, exists := service.GetTracker("b")
	require.True(t, exists)
	assert.Same(t, running, got)
	assert.Equal(t, 1, service.Count())
}

func TestProgressService_StartCleanupStopsWithContext(t *testing.T) {
	defer goleak.VerifyNone(t)

	service := NewProgressService()
	service.CreateTracker("x").Complete("", nil)

	ctx, cancel := context.WithCancel(context.Background())
	service.StartCleanup(ctx, time.Millisecond, 0)

	require.Eventually(t, func() bool { return service.Count() == 0 }, time.Second, 5*time.Millisecond)
	cancel()
	// 等待清理协程退出
	time.Sleep(10 * time.Millisecond)
}

func TestProgressTracker_ObserverFeedsSubscribers(t *testing.T) {
	tracker := NewProgressService().CreateTracker("obs")
	observer := tracker.Observer()

	observer.OnStatus(50, MsgEntityImages)
	observer.OnSnapshot(&models.TimelineData{Location: "Kyoto"})

	state := tracker.State()
	assert.Equal(t, 50, state.Progress)
	assert.Equal(t, MsgEntityImages, state.Message)
	assert.Equal(t, "Kyoto", state.Snapshot.Location)
}

func TestProgressTracker_FinalStatusSurvivesFullBuffer(t *testing.T) {
	tracker := NewProgressService().CreateTracker("slow")
	ch := tracker.Subscribe()
	defer tracker.Unsubscribe(ch)

	// 订阅者不读取，缓冲区被填满
	for i := 1; i <= 12; i++ {
		tracker.UpdateProgress(i*5, MsgEntityImages)
	}
	tracker.Complete(MsgFinalizing, &models.TimelineData{Location: "Kyoto"})

	var last ProgressUpdate
	received := 0
	for drained := false; !drained; {
		select {
		case update := <-ch:
			last = update
			received++
		default:
			drained = true
		}
	}

	assert.Equal(t, cap(ch), received)
	assert.Equal(t, StatusCompleted, last.Status)
	assert.Equal(t, 100, last.Progress)
	assert.Equal(t, "Kyoto", last.Snapshot.Location)
}
