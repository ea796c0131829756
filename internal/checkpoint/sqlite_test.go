package checkpoint

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "checkpoint.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteStore_SaveAndGet(t *testing.T) {
	store := newTestStore(t)

	record, err := store.GetRecord("assets", "images/logo.png")
	require.NoError(t, err)
	assert.Nil(t, record)

	require.NoError(t, store.SaveRecord(&Record{
		Bucket:      "assets",
		Key:         "images/logo.png",
		Status:      StatusFailed,
		ContentType: "application/octet-stream",
		Expected:    "image/png",
		RunID:       "run-1",
		LastError:   "copy failed",
	}))
	require.NoError(t, store.SaveRecord(&Record{
		Bucket:      "assets",
		Key:         "images/logo.png",
		Status:      StatusFixed,
		ContentType: "application/octet-stream",
		Expected:    "image/png",
		RunID:       "run-2",
	}))

	record, err = store.GetRecord("assets", "images/logo.png")
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, StatusFixed, record.Status)
	assert.Equal(t, "image/png", record.Expected)
	assert.Equal(t, "run-2", record.RunID)
	assert.Equal(t, 2, record.Attempts)
	assert.Empty(t, record.LastError)
	assert.False(t, record.UpdatedAt.IsZero())
}

func TestSQLiteStore_ListByStatus(t *testing.T) {
	store := newTestStore(t)

	for _, r := range []*Record{
		{Bucket: "assets", Key: "a.png", Status: StatusMatched},
		{Bucket: "assets", Key: "b.png", Status: StatusFailed, LastError: "boom"},
		{Bucket: "assets", Key: "c.png", Status: StatusFailed, LastError: "bang"},
	} {
		require.NoError(t, store.SaveRecord(r))
	}

	failed, err := store.ListByStatus(StatusFailed)
	require.NoError(t, err)
	require.Len(t, failed, 2)
	assert.Equal(t, "b.png", failed[0].Key)
	assert.Equal(t, "boom", failed[0].LastError)

	fixed, err := store.ListByStatus(StatusFixed)
	require.NoError(t, err)
	assert.Empty(t, fixed)
}

func TestSQLiteStore_Closed(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Close())
	require.NoError(t, store.Close())

	_, err := store.GetRecord("assets", "a.png")
	assert.Error(t, err)
	assert.Error(t, store.SaveRecord(&Record{Bucket: "assets", Key: "a.png", Status: StatusMatched}))
}

func TestStatus_Done(t *testing.T) {
	assert.True(t, StatusMatched.Done())
	assert.True(t, StatusFixed.Done())
	assert.False(t, StatusFailed.Done())
	assert.False(t, StatusSkipped.Done())
}

func TestIsSQLiteBusyError(t *testing.T) {
	assert.True(t, isSQLiteBusyError(errors.New("database is locked (5) (SQLITE_BUSY)")))
	assert.False(t, isSQLiteBusyError(errors.New("no such table")))
	assert.False(t, isSQLiteBusyError(nil))
}
