// internal/storage/timeline_archive_test.go
package storage

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Corphon/ChronoAtlas/internal/errors"
	"github.com/Corphon/ChronoAtlas/internal/models"
)

func newTestArchive(t *testing.T) *TimelineArchive {
	t.Helper()
	archive, err := NewTimelineArchive(filepath.Join(t.TempDir(), "timelines"))
	require.NoError(t, err)
	return archive
}

func TestTimelineArchive_SaveLoad(t *testing.T) {
	archive := newTestArchive(t)
	taskID := uuid.NewString()

	require.NoError(t, archive.Save(ArchivedTimeline{
		TaskID:   taskID,
		Query:    "Rome",
		Timeline: models.FallbackTimeline(),
	}))

	record, err := archive.Load(taskID)
	require.NoError(t, err)
	assert.Equal(t, "Rome", record.Query)
	assert.False(t, record.CompletedAt.IsZero())
	assert.Equal(t, models.FallbackTimeline().Eras, record.Timeline.Eras)
}

func TestTimelineArchive_Errors(t *testing.T) {
	archive := newTestArchive(t)

	_, err := archive.Load("../../etc/passwd")
	assert.True(t, apperrors.IsValidationError(err))

	_, err = archive.Load(uuid.NewString())
	assert.True(t, apperrors.IsNotFoundError(err))

	err = archive.Save(ArchivedTimeline{TaskID: uuid.NewString()})
	assert.True(t, apperrors.IsValidationError(err))
}

func TestTimelineArchive_ListNewestFirst(t *testing.T) {
	archive := newTestArchive(t)
	older, newer := uuid.NewString(), uuid.NewString()
	now := time.Now()

	require.NoError(t, archive.Save(ArchivedTimeline{TaskID: older, Query: "Rome", CompletedAt: now.Add(-time.Hour), Timeline: models.FallbackTimeline()}))
	require.NoError(t, archive.Save(ArchivedTimeline{TaskID: newer, Query: "Kyoto", CompletedAt: now, Timeline: models.FallbackTimelineFor("Kyoto")}))
	require.NoError(t, os.WriteFile(filepath.Join(archive.BaseDir, "notes.txt"), []byte("x"), 0644))

	list, err := archive.List()
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, newer, list[0].TaskID)
	assert.Equal(t, "Kyoto", list[0].Location)
	assert.Equal(t, len(models.FallbackTimeline().Eras), list[0].Eras)
	assert.Equal(t, older, list[1].TaskID)
}

func TestTimelineArchive_Cleanup(t *testing.T) {
	archive := newTestArchive(t)
	stale, fresh := uuid.NewString(), uuid.NewString()

	for _, id := range []string{stale, fresh} {
		require.NoError(t, archive.Save(ArchivedTimeline{TaskID: id, Timeline: models.FallbackTimeline()}))
	}
	old := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(archive.BaseDir, stale+archiveExt), old, old))

	removed, err := archive.Cleanup(time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = archive.Load(fresh)
	assert.NoError(t, err)
	_, err = archive.Load(stale)
	assert.True(t, apperrors.IsNotFoundError(err))
}
