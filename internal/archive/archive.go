package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/adhocore/gronx"

	"publicsquare/pkg/config"
	"publicsquare/pkg/lifecycle"
	"publicsquare/pkg/logger"
	"publicsquare/pkg/models"
	"publicsquare/pkg/registry"
	"publicsquare/pkg/store"
)

// Sweeper archives rooms that have been closed longer than the
// configured period: it writes a JSON artifact and purges the live
// keys. Archival is terminal; an archived room cannot be reopened.
type Sweeper struct {
	cfg config.Config
	st  store.Storage
	mgr *lifecycle.Manager
	reg *registry.Registry
}

// artifact is the on-disk archive shape, one file per room.
type artifact struct {
	Room       models.Room        `json:"room"`
	Messages   []models.Message   `json:"messages"`
	FactChecks []models.FactCheck `json:"fact_checks"`
	ArchivedAt string             `json:"archived_at"`
}

func NewSweeper(cfg config.Config, st store.Storage, mgr *lifecycle.Manager, reg *registry.Registry) *Sweeper {
	return &Sweeper{cfg: cfg, st: st, mgr: mgr, reg: reg}
}

// Start starts the archive scheduler if enabled. Returns a cancel func.
func Start(ctx context.Context, cfg config.Config, st store.Storage, mgr *lifecycle.Manager, reg *registry.Registry) (context.CancelFunc, error) {
	if !cfg.Archive.Enabled {
		logger.Info("archive_disabled")
		return func() {}, nil
	}

	if err := os.MkdirAll(cfg.Archive.Dir, 0o700); err != nil {
		logger.Error("archive_dir_create_failed", "path", cfg.Archive.Dir, "error", err)
		return nil, err
	}

	cronExpr := cfg.Archive.Cron
	if cronExpr == "" {
		cronExpr = "0 3 * * *"
	}
	if !gronx.IsValid(cronExpr) {
		logger.Error("archive_invalid_cron", "cron", cfg.Archive.Cron)
		return nil, fmt.Errorf("invalid archive cron expression: %s", cfg.Archive.Cron)
	}

	s := NewSweeper(cfg, st, mgr, reg)
	logger.Info("archive_enabled", "cron", cronExpr, "period", cfg.Archive.Period.Duration().String(), "dir", cfg.Archive.Dir)
	ctx2, cancel := context.WithCancel(ctx)
	go s.runScheduler(ctx2, cronExpr)
	return cancel, nil
}

// runScheduler computes the next cron tick with gronx and sleeps until
// then; a scheduling failure backs off instead of spinning.
func (s *Sweeper) runScheduler(ctx context.Context, cronExpr string) {
	for {
		select {
		case <-ctx.Done():
			logger.Info("archive_scheduler_stopping")
			return
		default:
		}

		now := time.Now().UTC()
		next, err := gronx.NextTickAfter(cronExpr, now, false)
		if err != nil {
			logger.Error("archive_nexttick_failed", "cron", cronExpr, "error", err)
			select {
			case <-time.After(30 * time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}

		wait := time.Until(next)
		if wait <= 0 {
			wait = time.Second
		}
		select {
		case <-time.After(wait):
			if err := s.RunOnce(); err != nil {
				logger.Error("archive_run_error", "error", err)
			}
		case <-ctx.Done():
			logger.Info("archive_scheduler_stopping")
			return
		}
	}
}

// RunOnce archives every eligible room. Exposed for tests and admin
// triggers.
func (s *Sweeper) RunOnce() error {
	cutoff := time.Now().UTC().Add(-s.cfg.Archive.Period.Duration()).UnixNano()
	var firstErr error
	for _, room := range s.mgr.Rooms() {
		if !room.Closed || room.ClosedTS > cutoff {
			continue
		}
		if err := s.archiveRoom(room); err != nil {
			logger.Error("archive_room_failed", "room", room.ID, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (s *Sweeper) archiveRoom(room models.Room) error {
	msgs, err := s.st.LoadMessages(room.ID)
	if err != nil {
		return fmt.Errorf("load messages: %w", err)
	}
	fcs, err := s.st.LoadFactChecks(room.ID)
	if err != nil {
		return fmt.Errorf("load fact-checks: %w", err)
	}

	art := artifact{
		Room:       room,
		Messages:   msgs,
		FactChecks: fcs,
		ArchivedAt: time.Now().UTC().Format(time.RFC3339),
	}

	// write-then-rename so a crash never leaves a half-written artifact
	f, err := os.CreateTemp(s.cfg.Archive.Dir, ".room-*.tmp")
	if err != nil {
		return err
	}
	tmpName := f.Name()
	defer func() { _ = os.Remove(tmpName) }()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(art); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	final := filepath.Join(s.cfg.Archive.Dir, fmt.Sprintf("room-%s.json", room.ID))
	if err := os.Rename(tmpName, final); err != nil {
		return err
	}

	if err := s.st.PurgeRoom(room.ID); err != nil {
		return fmt.Errorf("purge: %w", err)
	}
	s.mgr.Evict(room.ID)
	logger.Info("room_archived", "room", room.ID, "path", final, "messages", len(msgs), "fact_checks", len(fcs))
	return nil
}
