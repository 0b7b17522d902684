package service

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"chatrelay/internal/database"
	"chatrelay/internal/errors"
	"chatrelay/internal/models"
	"chatrelay/internal/registry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func testRouter(store MessageStore, reg ChannelRegistry) *Router {
	logger := testLogger()
	tracker := NewTracker(store, logger)
	return NewRouter(store, reg, tracker, RouterConfig{
		MaxContentLength: 100,
		DispatchTimeout:  time.Second,
	}, logger)
}

func TestSubmitDeliversToOnlineRecipient(t *testing.T) {
	store := &mockMessageStore{}
	reg := &mockChannelRegistry{}
	ch := &mockChannel{}
	router := testRouter(store, reg)

	store.On("AppendMessage", mock.Anything, mock.Anything).Return(int64(1), nil).Once()
	reg.On("Resolve", "bob").Return(ch, true).Once()
	ch.On("Send", mock.Anything, mock.MatchedBy(func(f *models.ServerFrame) bool {
		return f.Type == models.FrameTypeMessage && f.Message != nil && f.Message.ID == 1
	})).Return(nil).Once()
	store.On("UpdateDeliveryState", mock.Anything, int64(1), models.DeliveryStateDelivered).
		Return(models.DeliveryStateDelivered, nil).Once()

	before := time.Now().UTC()
	msg, err := router.Submit(context.Background(), models.MessageDraft{
		ReceiverID: "bob",
		Content:    "hello",
	}, "alice")
	after := time.Now().UTC()

	require.NoError(t, err)
	assert.Equal(t, int64(1), msg.ID)
	assert.Equal(t, "alice", msg.SenderID)
	assert.Equal(t, "bob", msg.ReceiverID)
	assert.Equal(t, models.DeliveryStateDelivered, msg.State)
	// Timestamp is server-assigned.
	assert.False(t, msg.SentAt.Before(before))
	assert.False(t, msg.SentAt.After(after))

	store.AssertExpectations(t)
	reg.AssertExpectations(t)
	ch.AssertExpectations(t)
}

func TestSubmitOfflineRecipientStaysPending(t *testing.T) {
	store := &mockMessageStore{}
	reg := &mockChannelRegistry{}
	router := testRouter(store, reg)

	store.On("AppendMessage", mock.Anything, mock.Anything).Return(int64(2), nil).Once()
	reg.On("Resolve", "bob").Return(nil, false).Once()

	msg, err := router.Submit(context.Background(), models.MessageDraft{
		ReceiverID: "bob",
		Content:    "hello",
	}, "alice")

	require.NoError(t, err)
	assert.Equal(t, models.DeliveryStatePending, msg.State)

	store.AssertNotCalled(t, "UpdateDeliveryState", mock.Anything, mock.Anything, mock.Anything)
}

func TestSubmitValidation(t *testing.T) {
	tests := []struct {
		name   string
		draft  models.MessageDraft
		sender string
	}{
		{"empty receiver", models.MessageDraft{Content: "hi"}, "alice"},
		{"self target", models.MessageDraft{ReceiverID: "alice", Content: "hi"}, "alice"},
		{"empty content", models.MessageDraft{ReceiverID: "bob"}, "alice"},
		{"oversized content", models.MessageDraft{ReceiverID: "bob", Content: strings.Repeat("x", 101)}, "alice"},
		{"receiver with spaces", models.MessageDraft{ReceiverID: "bad id", Content: "hi"}, "alice"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &mockMessageStore{}
			reg := &mockChannelRegistry{}
			router := testRouter(store, reg)

			_, err := router.Submit(context.Background(), tt.draft, tt.sender)
			assert.True(t, errors.IsValidation(err))

			// Rejection leaves no partial state.
			store.AssertNotCalled(t, "AppendMessage", mock.Anything, mock.Anything)
		})
	}
}

func TestSubmitSpoofedSenderRejected(t *testing.T) {
	store := &mockMessageStore{}
	reg := &mockChannelRegistry{}
	router := testRouter(store, reg)

	_, err := router.Submit(context.Background(), models.MessageDraft{
		SenderID:   "carol",
		ReceiverID: "bob",
		Content:    "hi",
	}, "alice")

	assert.True(t, errors.IsAuthorization(err))
	store.AssertNotCalled(t, "AppendMessage", mock.Anything, mock.Anything)
}

func TestSubmitMatchingSenderAccepted(t *testing.T) {
	store := &mockMessageStore{}
	reg := &mockChannelRegistry{}
	router := testRouter(store, reg)

	store.On("AppendMessage", mock.Anything, mock.Anything).Return(int64(3), nil).Once()
	reg.On("Resolve", "bob").Return(nil, false).Once()

	msg, err := router.Submit(context.Background(), models.MessageDraft{
		SenderID:   "alice",
		ReceiverID: "bob",
		Content:    "hi",
	}, "alice")

	require.NoError(t, err)
	assert.Equal(t, "alice", msg.SenderID)
}

func TestSubmitStorageFailure(t *testing.T) {
	store := &mockMessageStore{}
	reg := &mockChannelRegistry{}
	router := testRouter(store, reg)

	store.On("AppendMessage", mock.Anything, mock.Anything).Return(int64(0), assert.AnError).Once()

	_, err := router.Submit(context.Background(), models.MessageDraft{
		ReceiverID: "bob",
		Content:    "hi",
	}, "alice")

	assert.True(t, errors.HasCode(err, errors.ErrCodeStorageFailure))
	assert.True(t, errors.IsRetryable(err))

	// Nothing is dispatched for a message that was never persisted.
	reg.AssertNotCalled(t, "Resolve", mock.Anything)
}

func TestSubmitDispatchTimeoutAbsorbed(t *testing.T) {
	store := &mockMessageStore{}
	reg := &mockChannelRegistry{}
	ch := &mockChannel{}
	router := testRouter(store, reg)

	store.On("AppendMessage", mock.Anything, mock.Anything).Return(int64(4), nil).Once()
	reg.On("Resolve", "bob").Return(ch, true).Once()
	ch.On("Send", mock.Anything, mock.Anything).Return(context.DeadlineExceeded).Once()

	msg, err := router.Submit(context.Background(), models.MessageDraft{
		ReceiverID: "bob",
		Content:    "hi",
	}, "alice")

	// Timeout degrades to pending; submission still succeeds.
	require.NoError(t, err)
	assert.Equal(t, models.DeliveryStatePending, msg.State)

	store.AssertNotCalled(t, "UpdateDeliveryState", mock.Anything, mock.Anything, mock.Anything)
	reg.AssertNotCalled(t, "UnbindChannel", mock.Anything, mock.Anything)
}

func TestSubmitDeadChannelUnbound(t *testing.T) {
	store := &mockMessageStore{}
	reg := &mockChannelRegistry{}
	ch := &mockChannel{}
	router := testRouter(store, reg)

	store.On("AppendMessage", mock.Anything, mock.Anything).Return(int64(5), nil).Once()
	reg.On("Resolve", "bob").Return(ch, true).Once()
	ch.On("Send", mock.Anything, mock.Anything).Return(assert.AnError).Once()
	reg.On("UnbindChannel", "bob", ch).Return(true).Once()

	msg, err := router.Submit(context.Background(), models.MessageDraft{
		ReceiverID: "bob",
		Content:    "hi",
	}, "alice")

	require.NoError(t, err)
	assert.Equal(t, models.DeliveryStatePending, msg.State)

	reg.AssertExpectations(t)
}

func TestSubmitSurvivesDeliveryRecordFailure(t *testing.T) {
	store := &mockMessageStore{}
	reg := &mockChannelRegistry{}
	ch := &mockChannel{}
	router := testRouter(store, reg)

	store.On("AppendMessage", mock.Anything, mock.Anything).Return(int64(6), nil).Once()
	reg.On("Resolve", "bob").Return(ch, true).Once()
	ch.On("Send", mock.Anything, mock.Anything).Return(nil).Once()
	store.On("UpdateDeliveryState", mock.Anything, int64(6), models.DeliveryStateDelivered).
		Return(models.DeliveryState(""), assert.AnError).Once()

	msg, err := router.Submit(context.Background(), models.MessageDraft{
		ReceiverID: "bob",
		Content:    "hi",
	}, "alice")

	require.NoError(t, err)
	assert.Equal(t, models.DeliveryStatePending, msg.State)
}

// orderedStore assigns sequential IDs; orderedChannel records the order
// frames arrive in.
type orderedStore struct {
	nextID atomic.Int64
}

func (s *orderedStore) AppendMessage(ctx context.Context, msg *models.Message) (int64, error) {
	msg.ID = s.nextID.Add(1)
	return msg.ID, nil
}

func (s *orderedStore) GetMessage(ctx context.Context, id int64) (*models.Message, error) {
	return nil, nil
}

func (s *orderedStore) UpdateDeliveryState(ctx context.Context, id int64, target models.DeliveryState) (models.DeliveryState, error) {
	return target, nil
}

func (s *orderedStore) FetchPending(ctx context.Context, receiverID string) ([]*models.Message, error) {
	return nil, nil
}

type orderedChannel struct {
	mu  sync.Mutex
	ids []int64
}

func (c *orderedChannel) Send(ctx context.Context, frame *models.ServerFrame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ids = append(c.ids, frame.Message.ID)
	return nil
}

func (c *orderedChannel) Close() error { return nil }

type staticRegistry struct {
	ch registry.Channel
}

func (r *staticRegistry) Resolve(identity string) (registry.Channel, bool) {
	return r.ch, r.ch != nil
}

func (r *staticRegistry) UnbindChannel(identity string, ch registry.Channel) bool {
	return false
}

func TestSubmitDispatchOrderMatchesCommitOrder(t *testing.T) {
	store := &orderedStore{}
	ch := &orderedChannel{}
	router := testRouter(store, &staticRegistry{ch: ch})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := router.Submit(context.Background(), models.MessageDraft{
				ReceiverID: "bob",
				Content:    "hi",
			}, "alice")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	ch.mu.Lock()
	defer ch.mu.Unlock()
	require.Len(t, ch.ids, 20)
	for i := 1; i < len(ch.ids); i++ {
		assert.Greater(t, ch.ids[i], ch.ids[i-1],
			"messages must reach the channel in store-commit order")
	}
}

// pendingStore is an in-memory store with real pending semantics, for
// tests that need append, state transitions, and backlog fetch to agree.
type pendingStore struct {
	mu     sync.Mutex
	nextID int64
	msgs   []*models.Message
}

func (s *pendingStore) AppendMessage(ctx context.Context, msg *models.Message) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	msg.ID = s.nextID
	kept := *msg
	s.msgs = append(s.msgs, &kept)
	return msg.ID, nil
}

func (s *pendingStore) GetMessage(ctx context.Context, id int64) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.msgs {
		if m.ID == id {
			found := *m
			return &found, nil
		}
	}
	return nil, nil
}

func (s *pendingStore) UpdateDeliveryState(ctx context.Context, id int64, target models.DeliveryState) (models.DeliveryState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.msgs {
		if m.ID == id {
			if m.State.CanAdvanceTo(target) {
				m.State = target
			}
			return m.State, nil
		}
	}
	return "", database.ErrMessageNotFound
}

func (s *pendingStore) FetchPending(ctx context.Context, receiverID string) ([]*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var pending []*models.Message
	for _, m := range s.msgs {
		if m.ReceiverID == receiverID && m.State == models.DeliveryStatePending {
			found := *m
			pending = append(pending, &found)
		}
	}
	return pending, nil
}

func TestSubmitDuringReplayWindowKeepsCommitOrder(t *testing.T) {
	store := &pendingStore{}
	reg := &staticRegistry{}
	router := testRouter(store, reg)

	// Message committed while bob was offline.
	first, err := router.Submit(context.Background(), models.MessageDraft{
		ReceiverID: "bob",
		Content:    "first",
	}, "alice")
	require.NoError(t, err)
	require.Equal(t, models.DeliveryStatePending, first.State)

	// Bob connects: the replay fence goes up before the channel is
	// resolvable, then a fresh submission races ahead of the replay.
	ch := &orderedChannel{}
	router.ExpectReplay("bob")
	reg.ch = ch

	second, err := router.Submit(context.Background(), models.MessageDraft{
		ReceiverID: "bob",
		Content:    "second",
	}, "carol")
	require.NoError(t, err)
	assert.Equal(t, models.DeliveryStatePending, second.State)
	assert.Empty(t, ch.ids, "a submission must not overtake an undrained backlog")

	count, err := router.DeliverPending(context.Background(), "bob")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.Equal(t, []int64{first.ID, second.ID}, ch.ids)

	// With the backlog drained, fresh submissions dispatch directly.
	third, err := router.Submit(context.Background(), models.MessageDraft{
		ReceiverID: "bob",
		Content:    "third",
	}, "alice")
	require.NoError(t, err)
	assert.Equal(t, models.DeliveryStateDelivered, third.State)
	assert.Equal(t, []int64{first.ID, second.ID, third.ID}, ch.ids)
}

type flakyChannel struct {
	orderedChannel
	failures int
}

func (c *flakyChannel) Send(ctx context.Context, frame *models.ServerFrame) error {
	if c.failures > 0 {
		c.failures--
		return assert.AnError
	}
	return c.orderedChannel.Send(ctx, frame)
}

func TestReplayFenceHoldsAfterPartialDrain(t *testing.T) {
	store := &pendingStore{}
	reg := &staticRegistry{}
	router := testRouter(store, reg)

	first, err := router.Submit(context.Background(), models.MessageDraft{
		ReceiverID: "bob",
		Content:    "first",
	}, "alice")
	require.NoError(t, err)

	ch := &flakyChannel{failures: 1}
	router.ExpectReplay("bob")
	reg.ch = ch

	// First replay attempt dies on the send; the backlog stays pending
	// and the fence stays up.
	count, err := router.DeliverPending(context.Background(), "bob")
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	second, err := router.Submit(context.Background(), models.MessageDraft{
		ReceiverID: "bob",
		Content:    "second",
	}, "carol")
	require.NoError(t, err)
	assert.Equal(t, models.DeliveryStatePending, second.State)
	assert.Empty(t, ch.ids)

	// A later replay drains everything in commit order.
	count, err = router.DeliverPending(context.Background(), "bob")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.Equal(t, []int64{first.ID, second.ID}, ch.ids)
}

func TestDeliverPendingReplaysInOrder(t *testing.T) {
	store := &mockMessageStore{}
	reg := &mockChannelRegistry{}
	ch := &mockChannel{}
	router := testRouter(store, reg)

	backlog := []*models.Message{
		{ID: 1, SenderID: "alice", ReceiverID: "bob", Content: "first", State: models.DeliveryStatePending},
		{ID: 2, SenderID: "carol", ReceiverID: "bob", Content: "second", State: models.DeliveryStatePending},
	}

	store.On("FetchPending", mock.Anything, "bob").Return(backlog, nil).Once()
	reg.On("Resolve", "bob").Return(ch, true).Times(2)

	var delivered []int64
	ch.On("Send", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		frame := args.Get(1).(*models.ServerFrame)
		delivered = append(delivered, frame.Message.ID)
	}).Return(nil).Times(2)

	store.On("UpdateDeliveryState", mock.Anything, int64(1), models.DeliveryStateDelivered).
		Return(models.DeliveryStateDelivered, nil).Once()
	store.On("UpdateDeliveryState", mock.Anything, int64(2), models.DeliveryStateDelivered).
		Return(models.DeliveryStateDelivered, nil).Once()

	count, err := router.DeliverPending(context.Background(), "bob")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.Equal(t, []int64{1, 2}, delivered)

	store.AssertExpectations(t)
}

func TestDeliverPendingStopsWhenChannelDies(t *testing.T) {
	store := &mockMessageStore{}
	reg := &mockChannelRegistry{}
	ch := &mockChannel{}
	router := testRouter(store, reg)

	backlog := []*models.Message{
		{ID: 1, ReceiverID: "bob", State: models.DeliveryStatePending},
		{ID: 2, ReceiverID: "bob", State: models.DeliveryStatePending},
	}

	store.On("FetchPending", mock.Anything, "bob").Return(backlog, nil).Once()
	reg.On("Resolve", "bob").Return(ch, true).Once()
	ch.On("Send", mock.Anything, mock.Anything).Return(assert.AnError).Once()

	count, err := router.DeliverPending(context.Background(), "bob")
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	// The remainder stays pending.
	store.AssertNotCalled(t, "UpdateDeliveryState", mock.Anything, mock.Anything, mock.Anything)
}

func TestDeliverPendingNoChannel(t *testing.T) {
	store := &mockMessageStore{}
	reg := &mockChannelRegistry{}
	router := testRouter(store, reg)

	backlog := []*models.Message{
		{ID: 1, ReceiverID: "bob", State: models.DeliveryStatePending},
	}

	store.On("FetchPending", mock.Anything, "bob").Return(backlog, nil).Once()
	reg.On("Resolve", "bob").Return(nil, false).Once()

	count, err := router.DeliverPending(context.Background(), "bob")
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestDeliverPendingEmptyBacklog(t *testing.T) {
	store := &mockMessageStore{}
	reg := &mockChannelRegistry{}
	router := testRouter(store, reg)

	store.On("FetchPending", mock.Anything, "bob").Return([]*models.Message{}, nil).Once()

	count, err := router.DeliverPending(context.Background(), "bob")
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestDeliverPendingFetchFailure(t *testing.T) {
	store := &mockMessageStore{}
	reg := &mockChannelRegistry{}
	router := testRouter(store, reg)

	store.On("FetchPending", mock.Anything, "bob").Return(nil, assert.AnError).Once()

	_, err := router.DeliverPending(context.Background(), "bob")
	assert.True(t, errors.HasCode(err, errors.ErrCodeStorageFailure))
	assert.True(t, errors.IsRetryable(err))
}
