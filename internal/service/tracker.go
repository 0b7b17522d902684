package service

import (
	"context"
	stderrors "errors"
	"fmt"

	"chatrelay/internal/database"
	"chatrelay/internal/errors"
	"chatrelay/internal/metrics"
	"chatrelay/internal/models"
	"chatrelay/internal/privacy"

	"github.com/sirupsen/logrus"
)

// MessageStore is the narrow contract implemented by the durable storage
// collaborator. Append must be durable before it returns; FetchPending
// returns messages in ascending sent_at order, ties broken by ascending
// message ID.
type MessageStore interface {
	AppendMessage(ctx context.Context, msg *models.Message) (int64, error)
	GetMessage(ctx context.Context, id int64) (*models.Message, error)
	UpdateDeliveryState(ctx context.Context, id int64, target models.DeliveryState) (models.DeliveryState, error)
	FetchPending(ctx context.Context, receiverID string) ([]*models.Message, error)
}

// Tracker is the only component allowed to advance delivery state, and
// it only moves it forward. Both operations are total with respect to
// state: an already-advanced message is clamped, never an error, so
// retried client acknowledgments are safe.
type Tracker struct {
	store  MessageStore
	logger *errors.Logger
}

func NewTracker(store MessageStore, logger *errors.Logger) *Tracker {
	return &Tracker{
		store:  store,
		logger: logger,
	}
}

// MarkDelivered records that a message reached its recipient's channel.
// Only a Pending message actually transitions; any other starting state
// is a no-op and the current state is returned.
func (t *Tracker) MarkDelivered(ctx context.Context, messageID int64) (models.DeliveryState, error) {
	state, err := t.store.UpdateDeliveryState(ctx, messageID, models.DeliveryStateDelivered)
	if err != nil {
		if stderrors.Is(err, database.ErrMessageNotFound) {
			return "", errors.New(errors.ErrCodeNotFound,
				fmt.Sprintf("message %d not found", messageID))
		}
		return "", errors.WrapRetryable(err, errors.ErrCodeStorageFailure, "failed to mark delivered")
	}

	return state, nil
}

// MarkRead records a read receipt. Only the message's receiver may mark
// it read; anyone else gets an authorization error and the state is left
// unchanged. Valid from Pending or Delivered; an already-read message is
// a no-op. Returns the message with its resulting state.
func (t *Tracker) MarkRead(ctx context.Context, messageID int64, readerIdentity string) (*models.Message, error) {
	msg, err := t.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, errors.WrapRetryable(err, errors.ErrCodeStorageFailure, "failed to load message")
	}
	if msg == nil {
		return nil, errors.New(errors.ErrCodeNotFound,
			fmt.Sprintf("message %d not found", messageID))
	}

	if msg.ReceiverID != readerIdentity {
		authErr := errors.New(errors.ErrCodeAuthorization, "only the receiver may mark a message read")
		t.logger.LogSecurityEvent(authErr, "Read receipt from identity that is not the receiver", logrus.Fields{
			LogFieldMessageID:  messageID,
			"reader_id":        privacy.MaskIdentity(readerIdentity),
			LogFieldReceiverID: privacy.MaskIdentity(msg.ReceiverID),
		})
		metrics.IncrementCounter("tracker_authorization_failures_total", nil,
			"Read receipts rejected because the reader is not the receiver")
		return nil, authErr
	}

	if msg.State == models.DeliveryStateRead {
		return msg, nil
	}

	state, err := t.store.UpdateDeliveryState(ctx, messageID, models.DeliveryStateRead)
	if err != nil {
		if stderrors.Is(err, database.ErrMessageNotFound) {
			return nil, errors.New(errors.ErrCodeNotFound,
				fmt.Sprintf("message %d not found", messageID))
		}
		return nil, errors.WrapRetryable(err, errors.ErrCodeStorageFailure, "failed to mark read")
	}

	metrics.IncrementCounter("messages_read_total", nil, "Messages marked read by their receiver")
	msg.State = state
	t.logger.WithFields(logrus.Fields{
		LogFieldMessageID:     messageID,
		LogFieldDeliveryState: state,
	}).Debug("Message marked read")
	return msg, nil
}
