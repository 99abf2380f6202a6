package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"publicsquare/pkg/logger"
	"publicsquare/pkg/models"
	"publicsquare/pkg/registry"
	"publicsquare/pkg/store"
	"publicsquare/pkg/telemetry"
)

// ErrUnknownRoom is returned for operations against a room that does
// not exist (or was archived).
var ErrUnknownRoom = errors.New("lifecycle: unknown room")

// Analyzer produces moderation and fact-check results. It never fails:
// the terminal tier degrades to a heuristic result instead.
type Analyzer interface {
	Moderate(ctx context.Context, content string) *models.ModerationResult
	FactCheck(ctx context.Context, claim string) *models.FactCheck
	ContainsClaim(content string) bool
}

// Publisher pushes events to a room's realtime subscribers.
type Publisher interface {
	Broadcast(roomID string, ev models.Event)
}

// Manager owns the canonical state of every submitted message and is
// the only component that mutates Message.Status. Analysis results are
// produced elsewhere and applied here, idempotently.
type Manager struct {
	st  store.Storage
	an  Analyzer
	pub Publisher
	reg *registry.Registry

	mu    sync.RWMutex
	rooms map[string]*roomState

	idSeq uint64
}

type roomState struct {
	mu    sync.Mutex
	meta  models.Room
	order []string
	byID  map[string]*models.Message
}

func New(st store.Storage, an Analyzer, pub Publisher, reg *registry.Registry) *Manager {
	return &Manager{st: st, an: an, pub: pub, reg: reg, rooms: map[string]*roomState{}}
}

// LoadFromStore rehydrates rooms, messages and fact-check entries at
// boot. Messages still pending after a restart are re-analyzed so they
// cannot be stuck pending forever.
func (m *Manager) LoadFromStore() error {
	rooms, err := m.st.LoadRooms()
	if err != nil {
		return err
	}
	for _, r := range rooms {
		msgs, err := m.st.LoadMessages(r.ID)
		if err != nil {
			return fmt.Errorf("load messages for room %s: %w", r.ID, err)
		}
		rs := &roomState{meta: r, byID: map[string]*models.Message{}}
		// participant counts are live-only
		rs.meta.Participants = 0
		for i := range msgs {
			msg := msgs[i]
			rs.order = append(rs.order, msg.ID)
			rs.byID[msg.ID] = &msg
		}
		m.mu.Lock()
		m.rooms[r.ID] = rs
		m.mu.Unlock()
		if err := m.reg.LoadRoom(r.ID); err != nil {
			return fmt.Errorf("load fact-checks for room %s: %w", r.ID, err)
		}
		for i := range msgs {
			if msgs[i].Status == models.StatusPending {
				go m.runModeration(r.ID, rs.byID[msgs[i].ID].ID, msgs[i].Content)
			}
		}
	}
	return nil
}

// CreateRoom creates and persists a new open room.
func (m *Manager) CreateRoom(topic string) (models.Room, error) {
	room := models.Room{
		ID:        uuid.NewString(),
		Topic:     topic,
		CreatedTS: time.Now().UTC().UnixNano(),
	}
	if err := m.st.SaveRoom(room); err != nil {
		return models.Room{}, err
	}
	m.mu.Lock()
	m.rooms[room.ID] = &roomState{meta: room, byID: map[string]*models.Message{}}
	m.mu.Unlock()
	logger.Info("room_created", "room", room.ID, "topic", topic)
	return room, nil
}

func (m *Manager) room(roomID string) (*roomState, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rs, ok := m.rooms[roomID]
	return rs, ok
}

// Room returns a snapshot of the room's metadata.
func (m *Manager) Room(roomID string) (models.Room, bool) {
	rs, ok := m.room(roomID)
	if !ok {
		return models.Room{}, false
	}
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.meta, true
}

// Rooms returns snapshots of all rooms in creation order.
func (m *Manager) Rooms() []models.Room {
	m.mu.RLock()
	states := make([]*roomState, 0, len(m.rooms))
	for _, rs := range m.rooms {
		states = append(states, rs)
	}
	m.mu.RUnlock()
	out := make([]models.Room, 0, len(states))
	for _, rs := range states {
		rs.mu.Lock()
		out = append(out, rs.meta)
		rs.mu.Unlock()
	}
	sortRooms(out)
	return out
}

// CloseRoom marks a room closed; the archive sweeper purges it later.
func (m *Manager) CloseRoom(roomID string) error {
	rs, ok := m.room(roomID)
	if !ok {
		return ErrUnknownRoom
	}
	rs.mu.Lock()
	if !rs.meta.Closed {
		rs.meta.Closed = true
		rs.meta.ClosedTS = time.Now().UTC().UnixNano()
	}
	meta := rs.meta
	rs.mu.Unlock()
	if err := m.st.SaveRoom(meta); err != nil {
		return err
	}
	logger.Info("room_closed", "room", roomID)
	return nil
}

// Evict drops an archived room from memory. Called by the archive
// sweeper after the storage purge.
func (m *Manager) Evict(roomID string) {
	m.mu.Lock()
	delete(m.rooms, roomID)
	m.mu.Unlock()
	m.reg.Purge(roomID)
}

// AdjustParticipants tracks live subscriber counts from the hub.
func (m *Manager) AdjustParticipants(roomID string, delta int) {
	rs, ok := m.room(roomID)
	if !ok {
		return
	}
	rs.mu.Lock()
	rs.meta.Participants += delta
	if rs.meta.Participants < 0 {
		rs.meta.Participants = 0
	}
	rs.mu.Unlock()
}

// Submit creates a pending message, publishes its creation immediately
// and schedules analysis in the background. It returns without waiting
// on any analysis: observers see the message the instant it exists.
func (m *Manager) Submit(roomID, authorID, authorName, content string) (models.Message, error) {
	rs, ok := m.room(roomID)
	if !ok {
		return models.Message{}, ErrUnknownRoom
	}
	msg := models.Message{
		ID:         m.genID(),
		Room:       roomID,
		AuthorID:   authorID,
		AuthorName: authorName,
		Content:    content,
		Status:     models.StatusPending,
		CreatedTS:  time.Now().UTC().UnixNano(),
	}

	rs.mu.Lock()
	if rs.meta.Closed {
		rs.mu.Unlock()
		return models.Message{}, ErrUnknownRoom
	}
	stored := msg
	rs.order = append(rs.order, msg.ID)
	rs.byID[msg.ID] = &stored
	rs.mu.Unlock()

	if err := m.st.SaveMessage(msg); err != nil {
		logger.Error("save_message_failed", "room", roomID, "id", msg.ID, "error", err)
	}
	telemetry.MessagesByStatus.WithLabelValues(string(models.StatusPending)).Inc()

	// Creation is observed before any status transition: publish now,
	// schedule analysis after.
	m.pub.Broadcast(roomID, models.NewMessageCreated(msg))
	go m.runModeration(roomID, msg.ID, msg.Content)
	if m.an.ContainsClaim(msg.Content) {
		go m.runFactCheck(roomID, msg.Content)
	}
	return msg, nil
}

// runModeration is detached from the submitting request: analysis
// outlives the HTTP call that triggered it.
func (m *Manager) runModeration(roomID, msgID, content string) {
	res := m.an.Moderate(context.Background(), content)
	m.ApplyModerationResult(roomID, msgID, res)
}

func (m *Manager) runFactCheck(roomID, claim string) {
	fc := m.an.FactCheck(context.Background(), claim)
	stored, err := m.reg.Upsert(roomID, claim, *fc)
	if err != nil {
		logger.Error("factcheck_upsert_failed", "room", roomID, "error", err)
		return
	}
	m.pub.Broadcast(roomID, models.NewFactCheckAdded(stored))
}

// ApplyModerationResult transitions a pending message to its terminal
// status. Applying to an already-terminal message is a no-op; an
// unknown message id is treated as a stale callback and only logged.
func (m *Manager) ApplyModerationResult(roomID, msgID string, res *models.ModerationResult) {
	status := models.StatusApproved
	if res.IsToxic {
		status = models.StatusFlagged
	}
	m.applyStatus(roomID, msgID, status, res)
}

func (m *Manager) applyStatus(roomID, msgID string, status models.MessageStatus, res *models.ModerationResult) {
	if !status.Terminal() {
		return
	}
	rs, ok := m.room(roomID)
	if !ok {
		logger.Warn("stale_result_unknown_room", "room", roomID, "id", msgID)
		return
	}
	rs.mu.Lock()
	msg, ok := rs.byID[msgID]
	if !ok {
		rs.mu.Unlock()
		logger.Warn("stale_result_unknown_message", "room", roomID, "id", msgID)
		return
	}
	if msg.Status.Terminal() {
		// duplicate or delayed callback; first writer won
		rs.mu.Unlock()
		return
	}
	msg.Status = status
	msg.Moderation = res
	updated := *msg
	rs.mu.Unlock()

	if err := m.st.SaveMessage(updated); err != nil {
		logger.Error("save_message_failed", "room", roomID, "id", msgID, "error", err)
	}
	telemetry.MessagesByStatus.WithLabelValues(string(status)).Inc()
	if res != nil && res.Degraded {
		logger.Info("message_status_degraded", "room", roomID, "id", msgID, "status", status)
	}
	m.pub.Broadcast(roomID, models.NewMessageStatusChanged(roomID, models.StatusChange{
		ID:         msgID,
		Status:     status,
		Moderation: res,
	}))
}

// Messages returns a room's messages in creation order. The result is
// a snapshot copy; the call never blocks on analysis.
func (m *Manager) Messages(roomID string) ([]models.Message, error) {
	rs, ok := m.room(roomID)
	if !ok {
		return nil, ErrUnknownRoom
	}
	rs.mu.Lock()
	defer rs.mu.Unlock()
	out := make([]models.Message, 0, len(rs.order))
	for _, id := range rs.order {
		out = append(out, *rs.byID[id])
	}
	return out, nil
}

// ApplyEvent ingests an externally-originated event (from a remote
// participant via the dispatch channel) into local state. All shapes
// are applied idempotently; duplicates after reconnect-replay are safe.
func (m *Manager) ApplyEvent(roomID string, ev models.Event) {
	switch ev.Type {
	case models.EventMessageCreated:
		var msg models.Message
		if err := json.Unmarshal(ev.Payload, &msg); err != nil || msg.ID == "" {
			logger.Warn("drop_invalid_event", "room", roomID, "type", ev.Type, "error", err)
			return
		}
		m.ingestMessage(roomID, msg)
	case models.EventMessageStatusChanged:
		var sc models.StatusChange
		if err := json.Unmarshal(ev.Payload, &sc); err != nil || sc.ID == "" {
			logger.Warn("drop_invalid_event", "room", roomID, "type", ev.Type, "error", err)
			return
		}
		m.applyStatus(roomID, sc.ID, sc.Status, sc.Moderation)
	case models.EventFactCheckAdded:
		var fc models.FactCheck
		if err := json.Unmarshal(ev.Payload, &fc); err != nil || fc.Claim == "" {
			logger.Warn("drop_invalid_event", "room", roomID, "type", ev.Type, "error", err)
			return
		}
		stored, err := m.reg.Upsert(roomID, fc.Claim, fc)
		if err != nil {
			logger.Error("factcheck_upsert_failed", "room", roomID, "error", err)
			return
		}
		m.pub.Broadcast(roomID, models.NewFactCheckAdded(stored))
	default:
		logger.Debug("ignore_event", "room", roomID, "type", ev.Type)
	}
}

// ingestMessage inserts a message created elsewhere, keyed by its id.
// A message we already hold is left untouched.
func (m *Manager) ingestMessage(roomID string, msg models.Message) {
	rs, ok := m.room(roomID)
	if !ok {
		logger.Warn("drop_event_unknown_room", "room", roomID, "id", msg.ID)
		return
	}
	msg.Room = roomID
	if msg.Status == "" {
		msg.Status = models.StatusPending
	}
	if msg.CreatedTS == 0 {
		msg.CreatedTS = time.Now().UTC().UnixNano()
	}
	rs.mu.Lock()
	if _, seen := rs.byID[msg.ID]; seen {
		rs.mu.Unlock()
		return
	}
	stored := msg
	rs.order = append(rs.order, msg.ID)
	rs.byID[msg.ID] = &stored
	rs.mu.Unlock()

	if err := m.st.SaveMessage(msg); err != nil {
		logger.Error("save_message_failed", "room", roomID, "id", msg.ID, "error", err)
	}
	m.pub.Broadcast(roomID, models.NewMessageCreated(msg))
	if msg.Status == models.StatusPending {
		go m.runModeration(roomID, msg.ID, msg.Content)
	}
}

func (m *Manager) genID() string {
	n := time.Now().UTC().UnixNano()
	s := atomic.AddUint64(&m.idSeq, 1)
	return fmt.Sprintf("msg-%d-%d", n, s)
}

func sortRooms(rooms []models.Room) {
	for i := 1; i < len(rooms); i++ {
		for j := i; j > 0 && rooms[j].CreatedTS < rooms[j-1].CreatedTS; j-- {
			rooms[j], rooms[j-1] = rooms[j-1], rooms[j]
		}
	}
}
