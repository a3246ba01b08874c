package persistence

import (
	"testing"
	"time"

	"futures-grid-engine/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRepo(t *testing.T) SnapshotRepository {
	t.Helper()
	repo, err := NewBadgerRepository(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func TestSaveLoadRoundTrip(t *testing.T) {
	repo := newRepo(t)

	snap := models.Snapshot{
		Instrument: "IF2609",
		SessionID:  "s-1",
		Lines: map[float64]models.SnapshotLine{
			999.8: {RemainingVolume: 3},
			1020:  {RemainingVolume: 2},
		},
		SavedAt: time.Now(),
	}
	require.NoError(t, repo.SaveSnapshot(snap))

	loaded, err := repo.LoadSnapshot("IF2609")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, "IF2609", loaded.Instrument)
	assert.Equal(t, "s-1", loaded.SessionID)
	require.Len(t, loaded.Lines, 2)
	assert.Equal(t, int64(3), loaded.Lines[999.8].RemainingVolume)
	assert.Equal(t, int64(2), loaded.Lines[1020].RemainingVolume)
}

func TestLoadMissingInstrument(t *testing.T) {
	repo := newRepo(t)

	loaded, err := repo.LoadSnapshot("IC2609")
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestSaveOverwrites(t *testing.T) {
	repo := newRepo(t)

	require.NoError(t, repo.SaveSnapshot(models.Snapshot{
		Instrument: "IF2609",
		Lines:      map[float64]models.SnapshotLine{1012: {RemainingVolume: 5}},
	}))
	require.NoError(t, repo.SaveSnapshot(models.Snapshot{
		Instrument: "IF2609",
		Lines:      map[float64]models.SnapshotLine{1008: {RemainingVolume: 1}},
	}))

	loaded, err := repo.LoadSnapshot("IF2609")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	require.Len(t, loaded.Lines, 1)
	assert.Equal(t, int64(1), loaded.Lines[1008].RemainingVolume)
}

func TestSnapshotsKeyedPerInstrument(t *testing.T) {
	repo := newRepo(t)

	require.NoError(t, repo.SaveSnapshot(models.Snapshot{
		Instrument: "IF2609",
		Lines:      map[float64]models.SnapshotLine{1012: {RemainingVolume: 5}},
	}))
	require.NoError(t, repo.SaveSnapshot(models.Snapshot{
		Instrument: "IC2609",
		Lines:      map[float64]models.SnapshotLine{5000: {RemainingVolume: 2}},
	}))

	a, err := repo.LoadSnapshot("IF2609")
	require.NoError(t, err)
	b, err := repo.LoadSnapshot("IC2609")
	require.NoError(t, err)
	assert.Equal(t, int64(5), a.Lines[1012].RemainingVolume)
	assert.Equal(t, int64(2), b.Lines[5000].RemainingVolume)
}
