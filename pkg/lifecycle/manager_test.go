package lifecycle

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"publicsquare/pkg/models"
	"publicsquare/pkg/registry"
	"publicsquare/pkg/store"
)

type stubAnalyzer struct {
	toxic    bool
	claim    bool
	verdict  models.Verdict
	modCalls int
	fcCalls  int
	mu       sync.Mutex
}

func (s *stubAnalyzer) Moderate(_ context.Context, _ string) *models.ModerationResult {
	s.mu.Lock()
	s.modCalls++
	s.mu.Unlock()
	return &models.ModerationResult{IsToxic: s.toxic, Confidence: 0.9, Source: models.SourcePrimary}
}

func (s *stubAnalyzer) FactCheck(_ context.Context, claim string) *models.FactCheck {
	s.mu.Lock()
	s.fcCalls++
	s.mu.Unlock()
	v := s.verdict
	if v == "" {
		v = models.VerdictTrue
	}
	return &models.FactCheck{Claim: claim, Verdict: v, Confidence: 0.8}
}

func (s *stubAnalyzer) ContainsClaim(string) bool { return s.claim }

type capturePublisher struct {
	mu     sync.Mutex
	events []models.Event
}

func (p *capturePublisher) Broadcast(_ string, ev models.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
}

func (p *capturePublisher) snapshot() []models.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]models.Event{}, p.events...)
}

func (p *capturePublisher) count(t models.EventType) int {
	n := 0
	for _, ev := range p.snapshot() {
		if ev.Type == t {
			n++
		}
	}
	return n
}

func newTestManager(t *testing.T, an Analyzer) (*Manager, *capturePublisher, models.Room) {
	t.Helper()
	st := store.NewMemory()
	pub := &capturePublisher{}
	mgr := New(st, an, pub, registry.New(st))
	room, err := mgr.CreateRoom("test topic")
	require.NoError(t, err)
	return mgr, pub, room
}

func TestSubmitPublishesCreationBeforeStatus(t *testing.T) {
	mgr, pub, room := newTestManager(t, &stubAnalyzer{})

	msg, err := mgr.Submit(room.ID, "u1", "Alice", "a perfectly normal remark")
	require.NoError(t, err)
	require.Equal(t, models.StatusPending, msg.Status)

	// creation is visible synchronously, before any analysis completes
	evs := pub.snapshot()
	require.NotEmpty(t, evs)
	require.Equal(t, models.EventMessageCreated, evs[0].Type)

	require.Eventually(t, func() bool {
		return pub.count(models.EventMessageStatusChanged) == 1
	}, 2*time.Second, 10*time.Millisecond)

	msgs, err := mgr.Messages(room.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, models.StatusApproved, msgs[0].Status)
	require.NotNil(t, msgs[0].Moderation)
}

func TestToxicContentIsFlagged(t *testing.T) {
	mgr, _, room := newTestManager(t, &stubAnalyzer{toxic: true})

	_, err := mgr.Submit(room.ID, "u1", "", "something nasty")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		msgs, _ := mgr.Messages(room.ID)
		return len(msgs) == 1 && msgs[0].Status == models.StatusFlagged
	}, 2*time.Second, 10*time.Millisecond)
}

func TestStatusTransitionIsIdempotent(t *testing.T) {
	mgr, pub, room := newTestManager(t, &stubAnalyzer{})

	msg, err := mgr.Submit(room.ID, "u1", "", "hello")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		msgs, _ := mgr.Messages(room.ID)
		return msgs[0].Status.Terminal()
	}, 2*time.Second, 10*time.Millisecond)

	// duplicate and contradictory late results are no-ops
	mgr.ApplyModerationResult(room.ID, msg.ID, &models.ModerationResult{IsToxic: true})
	mgr.ApplyModerationResult(room.ID, msg.ID, &models.ModerationResult{IsToxic: false})

	msgs, err := mgr.Messages(room.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusApproved, msgs[0].Status)
	require.Equal(t, 1, pub.count(models.EventMessageStatusChanged))
}

func TestStaleResultForUnknownMessageIsIgnored(t *testing.T) {
	mgr, pub, room := newTestManager(t, &stubAnalyzer{})
	mgr.ApplyModerationResult(room.ID, "msg-never-existed", &models.ModerationResult{IsToxic: true})
	mgr.ApplyModerationResult("room-never-existed", "msg-1", &models.ModerationResult{})
	require.Zero(t, pub.count(models.EventMessageStatusChanged))
}

func TestSubmitToUnknownOrClosedRoom(t *testing.T) {
	mgr, _, room := newTestManager(t, &stubAnalyzer{})

	_, err := mgr.Submit("nope", "u1", "", "hi")
	require.ErrorIs(t, err, ErrUnknownRoom)

	require.NoError(t, mgr.CloseRoom(room.ID))
	_, err = mgr.Submit(room.ID, "u1", "", "hi")
	require.ErrorIs(t, err, ErrUnknownRoom)
}

func TestClaimTriggersFactCheck(t *testing.T) {
	st := store.NewMemory()
	pub := &capturePublisher{}
	reg := registry.New(st)
	an := &stubAnalyzer{claim: true}
	mgr := New(st, an, pub, reg)
	room, err := mgr.CreateRoom("facts")
	require.NoError(t, err)

	_, err = mgr.Submit(room.ID, "u1", "", "The tower is 330 meters tall")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return pub.count(models.EventFactCheckAdded) == 1
	}, 2*time.Second, 10*time.Millisecond)

	fcs := reg.List(room.ID)
	require.Len(t, fcs, 1)
	require.Equal(t, "the tower is 330 meters tall", fcs[0].Claim)
	require.Equal(t, models.VerdictTrue, fcs[0].Verdict)
}

func TestNoFactCheckWithoutClaim(t *testing.T) {
	an := &stubAnalyzer{claim: false}
	mgr, pub, room := newTestManager(t, an)

	_, err := mgr.Submit(room.ID, "u1", "", "just chatting")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return pub.count(models.EventMessageStatusChanged) == 1
	}, 2*time.Second, 10*time.Millisecond)

	an.mu.Lock()
	defer an.mu.Unlock()
	require.Zero(t, an.fcCalls)
}

func TestApplyEventIngestsRemoteMessageOnce(t *testing.T) {
	mgr, pub, room := newTestManager(t, &stubAnalyzer{})

	remote := models.Message{ID: "msg-remote-1", AuthorID: "u9", Content: "from elsewhere", Status: models.StatusApproved}
	ev := models.NewMessageCreated(remote)

	mgr.ApplyEvent(room.ID, ev)
	mgr.ApplyEvent(room.ID, ev) // replay after reconnect

	msgs, err := mgr.Messages(room.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, "msg-remote-1", msgs[0].ID)
	require.Equal(t, 1, pub.count(models.EventMessageCreated))
}

func TestApplyEventStatusChange(t *testing.T) {
	mgr, _, room := newTestManager(t, &stubAnalyzer{})

	remote := models.Message{ID: "msg-remote-2", AuthorID: "u9", Content: "pending remotely", Status: models.StatusPending}
	mgr.ApplyEvent(room.ID, models.NewMessageCreated(remote))

	mgr.ApplyEvent(room.ID, models.NewMessageStatusChanged(room.ID, models.StatusChange{
		ID: "msg-remote-2", Status: models.StatusFlagged,
		Moderation: &models.ModerationResult{IsToxic: true},
	}))

	require.Eventually(t, func() bool {
		msgs, _ := mgr.Messages(room.ID)
		return msgs[0].Status.Terminal()
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRehydratePendingMessagesReanalyzed(t *testing.T) {
	st := store.NewMemory()
	room := models.Room{ID: "room-1", Topic: "restart", CreatedTS: time.Now().UnixNano()}
	require.NoError(t, st.SaveRoom(room))
	require.NoError(t, st.SaveMessage(models.Message{
		ID: "msg-stuck", Room: room.ID, AuthorID: "u1", Content: "stuck pending", Status: models.StatusPending,
	}))

	pub := &capturePublisher{}
	mgr := New(st, &stubAnalyzer{}, pub, registry.New(st))
	require.NoError(t, mgr.LoadFromStore())

	require.Eventually(t, func() bool {
		msgs, _ := mgr.Messages(room.ID)
		return len(msgs) == 1 && msgs[0].Status == models.StatusApproved
	}, 2*time.Second, 10*time.Millisecond)
}

func TestParticipantCountNeverNegative(t *testing.T) {
	mgr, _, room := newTestManager(t, &stubAnalyzer{})
	mgr.AdjustParticipants(room.ID, -3)
	got, ok := mgr.Room(room.ID)
	require.True(t, ok)
	require.Zero(t, got.Participants)

	mgr.AdjustParticipants(room.ID, 2)
	got, _ = mgr.Room(room.ID)
	require.Equal(t, 2, got.Participants)
}
