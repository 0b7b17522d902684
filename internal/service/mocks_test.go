package service

import (
	"context"
	"time"

	"chatrelay/internal/models"
	"chatrelay/internal/registry"

	"github.com/stretchr/testify/mock"
)

type mockMessageStore struct {
	mock.Mock
}

func (m *mockMessageStore) AppendMessage(ctx context.Context, msg *models.Message) (int64, error) {
	args := m.Called(ctx, msg)
	id := args.Get(0).(int64)
	if args.Error(1) == nil {
		msg.ID = id
	}
	return id, args.Error(1)
}

func (m *mockMessageStore) GetMessage(ctx context.Context, id int64) (*models.Message, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Message), args.Error(1)
}

func (m *mockMessageStore) UpdateDeliveryState(ctx context.Context, id int64, target models.DeliveryState) (models.DeliveryState, error) {
	args := m.Called(ctx, id, target)
	return args.Get(0).(models.DeliveryState), args.Error(1)
}

func (m *mockMessageStore) FetchPending(ctx context.Context, receiverID string) ([]*models.Message, error) {
	args := m.Called(ctx, receiverID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Message), args.Error(1)
}

type mockChannel struct {
	mock.Mock
}

func (m *mockChannel) Send(ctx context.Context, frame *models.ServerFrame) error {
	args := m.Called(ctx, frame)
	return args.Error(0)
}

func (m *mockChannel) Close() error {
	args := m.Called()
	return args.Error(0)
}

type mockChannelRegistry struct {
	mock.Mock
}

func (m *mockChannelRegistry) Resolve(identity string) (registry.Channel, bool) {
	args := m.Called(identity)
	if args.Get(0) == nil {
		return nil, args.Bool(1)
	}
	return args.Get(0).(registry.Channel), args.Bool(1)
}

func (m *mockChannelRegistry) UnbindChannel(identity string, ch registry.Channel) bool {
	args := m.Called(identity, ch)
	return args.Bool(0)
}

type mockJanitor struct {
	mock.Mock
}

func (m *mockJanitor) CleanupOldMessages(ctx context.Context, retentionDays int) (int64, error) {
	args := m.Called(ctx, retentionDays)
	return args.Get(0).(int64), args.Error(1)
}

type mockStaleCounter struct {
	mock.Mock
}

func (m *mockStaleCounter) CountStalePending(ctx context.Context, threshold time.Duration) (int, error) {
	args := m.Called(ctx, threshold)
	return args.Int(0), args.Error(1)
}
