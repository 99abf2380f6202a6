package store

import (
	"errors"
	"sort"
	"sync"

	"publicsquare/pkg/models"
)

// ErrNotFound is returned when a room or message is absent.
var ErrNotFound = errors.New("store: not found")

// Storage is the persistence capability behind the lifecycle manager
// and the fact-check registry. Implementations are selected at process
// start: Memory for tests and db-less runs, Pebble for production.
type Storage interface {
	SaveRoom(room models.Room) error
	LoadRoom(roomID string) (models.Room, error)
	LoadRooms() ([]models.Room, error)

	// SaveMessage is idempotent per message ID: rewriting after a status
	// transition overwrites the stored record in place.
	SaveMessage(msg models.Message) error
	// LoadMessages returns a room's messages in creation order.
	LoadMessages(roomID string) ([]models.Message, error)

	// SaveFactCheck stores fc keyed by its (already normalized) claim.
	SaveFactCheck(fc models.FactCheck) error
	LoadFactChecks(roomID string) ([]models.FactCheck, error)

	// PurgeRoom removes a room and everything under it.
	PurgeRoom(roomID string) error

	Close() error
}

// Memory is the in-memory Storage used by tests and db-less runs.
type Memory struct {
	mu    sync.RWMutex
	rooms map[string]models.Room
	// msgs preserves insertion order per room; byID allows in-place
	// rewrites on status transitions.
	msgs map[string][]string
	byID map[string]map[string]models.Message
	fcs  map[string]map[string]models.FactCheck
}

func NewMemory() *Memory {
	return &Memory{
		rooms: map[string]models.Room{},
		msgs:  map[string][]string{},
		byID:  map[string]map[string]models.Message{},
		fcs:   map[string]map[string]models.FactCheck{},
	}
}

func (m *Memory) SaveRoom(room models.Room) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rooms[room.ID] = room
	return nil
}

func (m *Memory) LoadRoom(roomID string) (models.Room, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rooms[roomID]
	if !ok {
		return models.Room{}, ErrNotFound
	}
	return r, nil
}

func (m *Memory) LoadRooms() ([]models.Room, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Room, 0, len(m.rooms))
	for _, r := range m.rooms {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedTS < out[j].CreatedTS })
	return out, nil
}

func (m *Memory) SaveMessage(msg models.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	byID, ok := m.byID[msg.Room]
	if !ok {
		byID = map[string]models.Message{}
		m.byID[msg.Room] = byID
	}
	if _, seen := byID[msg.ID]; !seen {
		m.msgs[msg.Room] = append(m.msgs[msg.Room], msg.ID)
	}
	byID[msg.ID] = msg
	return nil
}

func (m *Memory) LoadMessages(roomID string) ([]models.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := m.msgs[roomID]
	out := make([]models.Message, 0, len(ids))
	for _, id := range ids {
		out = append(out, m.byID[roomID][id])
	}
	return out, nil
}

func (m *Memory) SaveFactCheck(fc models.FactCheck) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	room, ok := m.fcs[fc.Room]
	if !ok {
		room = map[string]models.FactCheck{}
		m.fcs[fc.Room] = room
	}
	room[fc.Claim] = fc
	return nil
}

func (m *Memory) LoadFactChecks(roomID string) ([]models.FactCheck, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.FactCheck, 0, len(m.fcs[roomID]))
	for _, fc := range m.fcs[roomID] {
		out = append(out, fc)
	}
	return out, nil
}

func (m *Memory) PurgeRoom(roomID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rooms, roomID)
	delete(m.msgs, roomID)
	delete(m.byID, roomID)
	delete(m.fcs, roomID)
	return nil
}

func (m *Memory) Close() error { return nil }
