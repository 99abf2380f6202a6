package archive

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"publicsquare/pkg/config"
	"publicsquare/pkg/lifecycle"
	"publicsquare/pkg/models"
	"publicsquare/pkg/registry"
	"publicsquare/pkg/store"
)

type stubAnalyzer struct{}

func (stubAnalyzer) Moderate(context.Context, string) *models.ModerationResult {
	return &models.ModerationResult{Confidence: 1}
}
func (stubAnalyzer) FactCheck(_ context.Context, claim string) *models.FactCheck {
	return &models.FactCheck{Claim: claim, Verdict: models.VerdictUnverified}
}
func (stubAnalyzer) ContainsClaim(string) bool { return false }

type nopPublisher struct{}

func (nopPublisher) Broadcast(string, models.Event) {}

func testConfig(dir string) config.Config {
	var cfg config.Config
	cfg.ApplyDefaults()
	cfg.Archive.Enabled = true
	cfg.Archive.Dir = dir
	cfg.Archive.Period = config.Duration(0)
	return cfg
}

func TestRunOnceArchivesClosedRooms(t *testing.T) {
	dir := t.TempDir()
	st := store.NewMemory()
	reg := registry.New(st)
	mgr := lifecycle.New(st, stubAnalyzer{}, nopPublisher{}, reg)

	room, err := mgr.CreateRoom("to be archived")
	require.NoError(t, err)
	_, err = mgr.Submit(room.ID, "u1", "", "last words")
	require.NoError(t, err)
	_, err = reg.Upsert(room.ID, "a final claim here", models.FactCheck{Verdict: models.VerdictMixed})
	require.NoError(t, err)

	open, err := mgr.CreateRoom("still open")
	require.NoError(t, err)

	require.NoError(t, mgr.CloseRoom(room.ID))

	s := NewSweeper(testConfig(dir), st, mgr, reg)
	require.NoError(t, s.RunOnce())

	// artifact written with the room's full contents
	b, err := os.ReadFile(filepath.Join(dir, "room-"+room.ID+".json"))
	require.NoError(t, err)
	var art artifact
	require.NoError(t, json.Unmarshal(b, &art))
	require.Equal(t, room.ID, art.Room.ID)
	require.Len(t, art.Messages, 1)
	require.Len(t, art.FactChecks, 1)
	require.NotEmpty(t, art.ArchivedAt)

	// live state gone
	_, err = st.LoadRoom(room.ID)
	require.ErrorIs(t, err, store.ErrNotFound)
	_, ok := mgr.Room(room.ID)
	require.False(t, ok)

	// the open room is untouched
	_, ok = mgr.Room(open.ID)
	require.True(t, ok)
	_, err = os.Stat(filepath.Join(dir, "room-"+open.ID+".json"))
	require.True(t, os.IsNotExist(err))
}

func TestRunOnceRespectsPeriod(t *testing.T) {
	dir := t.TempDir()
	st := store.NewMemory()
	reg := registry.New(st)
	mgr := lifecycle.New(st, stubAnalyzer{}, nopPublisher{}, reg)

	room, err := mgr.CreateRoom("recently closed")
	require.NoError(t, err)
	require.NoError(t, mgr.CloseRoom(room.ID))

	cfg := testConfig(dir)
	cfg.Archive.Period = config.Duration(time.Hour)

	s := NewSweeper(cfg, st, mgr, reg)
	require.NoError(t, s.RunOnce())

	// closed but inside the grace period: still live
	_, ok := mgr.Room(room.ID)
	require.True(t, ok)
}

func TestStartDisabled(t *testing.T) {
	var cfg config.Config
	cfg.ApplyDefaults()
	st := store.NewMemory()
	reg := registry.New(st)
	mgr := lifecycle.New(st, stubAnalyzer{}, nopPublisher{}, reg)

	cancel, err := Start(context.Background(), cfg, st, mgr, reg)
	require.NoError(t, err)
	cancel()
}

func TestStartRejectsInvalidCron(t *testing.T) {
	cfg := testConfig(t.TempDir())
	cfg.Archive.Cron = "not a cron"
	st := store.NewMemory()
	reg := registry.New(st)
	mgr := lifecycle.New(st, stubAnalyzer{}, nopPublisher{}, reg)

	_, err := Start(context.Background(), cfg, st, mgr, reg)
	require.Error(t, err)
}
