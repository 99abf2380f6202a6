package registry

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"publicsquare/pkg/models"
	"publicsquare/pkg/store"
)

// NormalizeClaim canonicalizes a claim for dedup: trim, case-fold,
// collapse internal whitespace. Near-duplicate claims (paraphrases) are
// deliberately treated as distinct.
func NormalizeClaim(claim string) string {
	return strings.Join(strings.Fields(strings.ToLower(claim)), " ")
}

// Registry holds at most one current FactCheck per normalized claim
// and room. Re-submission of the same claim overwrites the entry
// (last-writer-wins by CreatedTS) instead of duplicating it, so a
// claim repeated by multiple participants is analyzed and billed once.
type Registry struct {
	st store.Storage

	mu    sync.RWMutex
	rooms map[string]map[string]models.FactCheck
}

func New(st store.Storage) *Registry {
	return &Registry{st: st, rooms: map[string]map[string]models.FactCheck{}}
}

// LoadRoom rehydrates a room's entries from storage (used at boot).
func (r *Registry) LoadRoom(roomID string) error {
	fcs, err := r.st.LoadFactChecks(roomID)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	byClaim := map[string]models.FactCheck{}
	for _, fc := range fcs {
		byClaim[fc.Claim] = fc
	}
	r.rooms[roomID] = byClaim
	return nil
}

// Upsert stores fc under the normalized form of claim and returns the
// stored entry. CreatedAt is set to the time of this call; the ID of an
// existing entry is preserved so observers track one logical record.
func (r *Registry) Upsert(roomID, claim string, fc models.FactCheck) (models.FactCheck, error) {
	norm := NormalizeClaim(claim)

	r.mu.Lock()
	byClaim, ok := r.rooms[roomID]
	if !ok {
		byClaim = map[string]models.FactCheck{}
		r.rooms[roomID] = byClaim
	}
	fc.Room = roomID
	fc.Claim = norm
	fc.CreatedTS = time.Now().UTC().UnixNano()
	if prev, seen := byClaim[norm]; seen {
		fc.ID = prev.ID
	} else if fc.ID == "" {
		fc.ID = uuid.NewString()
	}
	byClaim[norm] = fc
	r.mu.Unlock()

	if err := r.st.SaveFactCheck(fc); err != nil {
		return models.FactCheck{}, err
	}
	return fc, nil
}

// Lookup returns the current entry for claim, matching on the
// normalized form only.
func (r *Registry) Lookup(roomID, claim string) (models.FactCheck, bool) {
	norm := NormalizeClaim(claim)
	r.mu.RLock()
	defer r.mu.RUnlock()
	fc, ok := r.rooms[roomID][norm]
	return fc, ok
}

// List returns a room's entries most recent first.
func (r *Registry) List(roomID string) []models.FactCheck {
	r.mu.RLock()
	out := make([]models.FactCheck, 0, len(r.rooms[roomID]))
	for _, fc := range r.rooms[roomID] {
		out = append(out, fc)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedTS != out[j].CreatedTS {
			return out[i].CreatedTS > out[j].CreatedTS
		}
		return out[i].Claim < out[j].Claim
	})
	return out
}

// Purge drops a room's entries from memory (storage purge is owned by
// the archive sweeper).
func (r *Registry) Purge(roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rooms, roomID)
}
