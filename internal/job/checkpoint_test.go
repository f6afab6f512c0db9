package job

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreSaveAndLoadRoundTrip(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	cp := Checkpoint{
		JobID:            "job-1",
		Seed:             9,
		RoundIdx:         2,
		CurrentIteration: 5,
		TotalIterations:  20,
		Status:           StatusRunning,
		UpdatedAt:        time.Now(),
	}
	require.NoError(t, store.Save(cp))

	loaded, err := store.Load("job-1")
	require.NoError(t, err)
	assert.Equal(t, cp.JobID, loaded.JobID)
	assert.Equal(t, cp.Seed, loaded.Seed)
	assert.Equal(t, cp.CurrentIteration, loaded.CurrentIteration)
	assert.Equal(t, cp.Status, loaded.Status)
}

func TestStoreSaveLeavesNoTempFileBehind(t *testing.T) {
	root := t.TempDir()
	store, err := NewStore(root)
	require.NoError(t, err)

	require.NoError(t, store.Save(Checkpoint{JobID: "job-2", Status: StatusRunning}))

	matches, err := filepath.Glob(filepath.Join(root, ".tmp-*"))
	require.NoError(t, err)
	assert.Empty(t, matches, "temp files must be renamed away, not left behind")
}

func TestStoreLoadMissingJobErrors(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	_, err = store.Load("missing")
	assert.Error(t, err)
}

func TestNewJobIDIsUnique(t *testing.T) {
	a, b := NewJobID(), NewJobID()
	assert.NotEqual(t, a, b)
}
