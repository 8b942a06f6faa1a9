// internal/storage/media_store_test.go
package storage

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Corphon/ChronoAtlas/internal/errors"
)

func TestMediaStore_SaveAndPath(t *testing.T) {
	store, err := NewMediaStore(filepath.Join(t.TempDir(), "media"), "/media/")
	require.NoError(t, err)

	name, url, err := store.Save([]byte("png-bytes"), "image/png")
	require.NoError(t, err)

	assert.True(t, strings.HasSuffix(name, ".png"))
	assert.Equal(t, "/media/"+name, url)

	path, err := store.Path(name)
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte("png-bytes"), data)

	// 没有遗留的临时文件
	entries, err := os.ReadDir(store.BaseDir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestMediaStore_Extensions(t *testing.T) {
	assert.Equal(t, ".mp4", extensionFor("video/mp4"))
	assert.Equal(t, ".jpg", extensionFor("image/jpeg; charset=binary"))
	assert.Equal(t, ".bin", extensionFor("application/x-unknown"))
}

func TestMediaStore_RejectsBadNames(t *testing.T) {
	store, err := NewMediaStore(t.TempDir(), "/media")
	require.NoError(t, err)

	_, err = store.Path("../config.yaml")
	assert.True(t, apperrors.IsValidationError(err))

	_, err = store.Path("0b5a4f3e-6a2c-4b8e-9a61-7d9a2f1c3e55.png")
	assert.True(t, apperrors.IsNotFoundError(err))

	_, _, err = store.Save(nil, "image/png")
	assert.True(t, apperrors.IsValidationError(err))
}

func TestMediaStore_Cleanup(t *testing.T) {
	store, err := NewMediaStore(t.TempDir(), "/media")
	require.NoError(t, err)

	oldName, _, err := store.Save([]byte("old"), "video/mp4")
	require.NoError(t, err)
	newName, _, err := store.Save([]byte("new"), "video/mp4")
	require.NoError(t, err)

	past := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(store.BaseDir, oldName), past, past))

	removed, err := store.Cleanup(24 * time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = store.Path(oldName)
	assert.True(t, apperrors.IsNotFoundError(err))
	_, err = store.Path(newName)
	assert.NoError(t, err)
}
