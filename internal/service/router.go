package service

import (
	"context"
	stderrors "errors"
	"sync"
	"time"

	"chatrelay/internal/constants"
	"chatrelay/internal/errors"
	"chatrelay/internal/metrics"
	"chatrelay/internal/models"
	"chatrelay/internal/privacy"
	"chatrelay/internal/registry"
	"chatrelay/internal/tracing"
	"chatrelay/internal/validation"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// ChannelRegistry is the connection-lookup contract the router needs
// from the registry. Absence of a channel means the recipient is
// offline.
type ChannelRegistry interface {
	Resolve(identity string) (registry.Channel, bool)
	UnbindChannel(identity string, ch registry.Channel) bool
}

// RouterConfig bounds router behavior.
type RouterConfig struct {
	MaxContentLength int
	DispatchTimeout  time.Duration
}

func (c *RouterConfig) applyDefaults() {
	if c.MaxContentLength <= 0 {
		c.MaxContentLength = constants.DefaultMaxContentLength
	}
	if c.DispatchTimeout <= 0 {
		c.DispatchTimeout = time.Duration(constants.DefaultDispatchTimeoutMs) * time.Millisecond
	}
}

// Router accepts inbound messages, stamps them with server-authoritative
// metadata, persists them, and dispatches them to the registry-resolved
// recipient. Acceptance is defined by persistence; delivery is a
// deferred, best-effort side effect that degrades to Pending.
type Router struct {
	store    MessageStore
	registry ChannelRegistry
	tracker  *Tracker
	logger   *errors.Logger
	cfg      RouterConfig

	// Serializes persist+dispatch per recipient so messages reach a
	// recipient's channel in store-commit order. Unrelated recipients
	// proceed in parallel.
	recipientLocks *keyedMutex

	// Identities owed a backlog replay after a connect. While an identity
	// is listed, fresh submissions stay pending instead of dispatching,
	// otherwise a submission racing the replay could reach the channel
	// ahead of older committed messages.
	replayMu   sync.Mutex
	replayOwed map[string]struct{}
}

func NewRouter(store MessageStore, reg ChannelRegistry, tracker *Tracker, cfg RouterConfig, logger *errors.Logger) *Router {
	cfg.applyDefaults()
	return &Router{
		store:          store,
		registry:       reg,
		tracker:        tracker,
		logger:         logger,
		cfg:            cfg,
		recipientLocks: newKeyedMutex(),
		replayOwed:     make(map[string]struct{}),
	}
}

// ExpectReplay marks identity as owed a backlog replay. Must be called
// before the new channel becomes resolvable, so every submission that
// can see the channel also sees the pending replay. DeliverPending
// lifts the mark once the backlog is fully drained.
func (r *Router) ExpectReplay(identity string) {
	r.replayMu.Lock()
	r.replayOwed[identity] = struct{}{}
	r.replayMu.Unlock()
}

func (r *Router) isReplayOwed(identity string) bool {
	r.replayMu.Lock()
	_, owed := r.replayOwed[identity]
	r.replayMu.Unlock()
	return owed
}

func (r *Router) clearReplayOwed(identity string) {
	r.replayMu.Lock()
	delete(r.replayOwed, identity)
	r.replayMu.Unlock()
}

// Submit ingests one message from an authenticated sender. On success
// the returned message carries the server-assigned ID, timestamp, and
// delivery state; it is an acknowledgment of acceptance, independent of
// whether delivery happened. Client-supplied timestamps and states are
// discarded.
func (r *Router) Submit(ctx context.Context, draft models.MessageDraft, senderIdentity string) (*models.Message, error) {
	ctx, span := tracing.StartSpan(ctx, "router.submit",
		attribute.String("receiver_id", privacy.MaskIdentity(draft.ReceiverID)),
	)
	defer span.End()
	start := time.Now()

	if err := r.validate(draft, senderIdentity); err != nil {
		metrics.IncrementCounter("messages_rejected_total", map[string]string{
			"reason": string(errors.GetCode(err)),
		}, "Messages rejected before persistence")
		tracing.RecordError(ctx, err)
		return nil, err
	}

	msg := &models.Message{
		SenderID:   senderIdentity,
		ReceiverID: draft.ReceiverID,
		Content:    draft.Content,
		SentAt:     time.Now().UTC(),
		State:      models.DeliveryStatePending,
	}

	// Sender disconnect must not cancel persistence that has started,
	// nor the dispatch to the receiver that follows it.
	opCtx := context.WithoutCancel(ctx)

	unlock := r.recipientLocks.Lock(msg.ReceiverID)
	defer unlock()

	if _, err := r.store.AppendMessage(opCtx, msg); err != nil {
		tracing.RecordError(ctx, err)
		return nil, errors.WrapRetryable(err, errors.ErrCodeStorageFailure, "failed to persist message")
	}
	tracing.AddSpanAttributes(ctx, attribute.Int64("message_id", msg.ID))

	metrics.IncrementCounter("messages_submitted_total", nil, "Messages accepted and persisted")
	metrics.RecordTimer("router_submit_duration", time.Since(start), nil, "Submit latency")

	r.dispatch(opCtx, msg)
	tracing.SetSpanStatus(ctx, codes.Ok, "")

	return msg, nil
}

// validate enforces the adapter-layer contract before anything is
// persisted. No partial state survives a rejection.
func (r *Router) validate(draft models.MessageDraft, senderIdentity string) error {
	if draft.SenderID != "" && draft.SenderID != senderIdentity {
		authErr := errors.New(errors.ErrCodeAuthorization, "sender_id does not match authenticated identity")
		r.logger.LogSecurityEvent(authErr, "Sender identity mismatch on submit", logrus.Fields{
			"claimed_sender": privacy.MaskIdentity(draft.SenderID),
			LogFieldSenderID: privacy.MaskIdentity(senderIdentity),
		})
		return authErr
	}

	if err := validation.ValidateIdentity(draft.ReceiverID, "receiver_id"); err != nil {
		return err
	}
	if draft.ReceiverID == senderIdentity {
		return errors.New(errors.ErrCodeValidationFailed, "message cannot target its own sender")
	}

	return validation.ValidateContent(draft.Content, r.cfg.MaxContentLength)
}

// dispatch attempts best-effort delivery of a persisted message. Every
// failure mode leaves the message Pending and retrievable later; none of
// them fail the submission.
func (r *Router) dispatch(ctx context.Context, msg *models.Message) {
	// An undrained reconnect backlog goes first; this message is pending
	// and will be picked up by the replay in commit order.
	if r.isReplayOwed(msg.ReceiverID) {
		r.logger.WithFields(logrus.Fields{
			LogFieldMessageID:  msg.ID,
			LogFieldReceiverID: privacy.MaskIdentity(msg.ReceiverID),
		}).Debug("Dispatch deferred to in-progress backlog replay")
		metrics.IncrementCounter("dispatches_deferred_total", nil,
			"Dispatches deferred to an in-progress reconnect replay")
		return
	}

	ch, ok := r.registry.Resolve(msg.ReceiverID)
	if !ok {
		r.logger.WithFields(logrus.Fields{
			LogFieldMessageID:  msg.ID,
			LogFieldReceiverID: privacy.MaskIdentity(msg.ReceiverID),
		}).Debug("Recipient offline, message left pending")
		metrics.IncrementCounter("messages_queued_total", nil, "Messages persisted with recipient offline")
		return
	}

	sendCtx, cancel := context.WithTimeout(ctx, r.cfg.DispatchTimeout)
	defer cancel()

	if err := ch.Send(sendCtx, &models.ServerFrame{
		Type:    models.FrameTypeMessage,
		Message: msg,
	}); err != nil {
		if stderrors.Is(err, context.DeadlineExceeded) {
			// Stalled recipient channel; treat as effectively offline.
			r.logger.WithFields(logrus.Fields{
				LogFieldMessageID:  msg.ID,
				LogFieldReceiverID: privacy.MaskIdentity(msg.ReceiverID),
			}).Debug("Dispatch timed out, message left pending")
			metrics.IncrementCounter("dispatch_timeouts_total", nil, "Dispatches abandoned on timeout")
			return
		}

		// Dead channel: release the binding so later submits skip it.
		r.registry.UnbindChannel(msg.ReceiverID, ch)
		r.logger.WithError(err).WithFields(logrus.Fields{
			LogFieldMessageID:  msg.ID,
			LogFieldReceiverID: privacy.MaskIdentity(msg.ReceiverID),
		}).Debug("Dispatch failed, unbound channel and left message pending")
		metrics.IncrementCounter("dispatch_failures_total", nil, "Dispatches failed on a dead channel")
		return
	}

	state, err := r.tracker.MarkDelivered(ctx, msg.ID)
	if err != nil {
		r.logger.LogRetryableError(err, "Dispatched message but failed to record delivery",
			logrus.Fields{LogFieldMessageID: msg.ID})
		return
	}

	msg.State = state
	metrics.IncrementCounter("messages_dispatched_total", nil, "Messages delivered to a live channel")
}

// DeliverPending replays all stored pending messages for an identity to
// its current channel in commit order, marking each delivered. Called
// after a successful bind so reconnecting clients receive what they
// missed. Stops early if the channel goes away; the remainder stays
// pending. Returns how many messages were delivered.
func (r *Router) DeliverPending(ctx context.Context, identity string) (int, error) {
	unlock := r.recipientLocks.Lock(identity)
	defer unlock()

	msgs, err := r.store.FetchPending(ctx, identity)
	if err != nil {
		return 0, errors.WrapRetryable(err, errors.ErrCodeStorageFailure, "failed to fetch pending messages")
	}

	delivered := 0
	for _, msg := range msgs {
		ch, ok := r.registry.Resolve(identity)
		if !ok {
			break
		}

		sendCtx, cancel := context.WithTimeout(ctx, r.cfg.DispatchTimeout)
		err := ch.Send(sendCtx, &models.ServerFrame{
			Type:    models.FrameTypeMessage,
			Message: msg,
		})
		cancel()
		if err != nil {
			break
		}

		if state, err := r.tracker.MarkDelivered(ctx, msg.ID); err == nil {
			msg.State = state
		}
		delivered++
	}

	// Lift the replay fence only once the backlog is fully drained; a
	// partial drain leaves older messages pending, and dispatching fresh
	// ones past them would break commit order.
	if delivered == len(msgs) {
		r.clearReplayOwed(identity)
	}

	if delivered > 0 {
		r.logger.WithFields(logrus.Fields{
			LogFieldIdentity: privacy.MaskIdentity(identity),
			LogFieldCount:    delivered,
		}).Info("Replayed pending messages on connect")
		metrics.AddToCounter("messages_replayed_total", float64(delivered), nil,
			"Pending messages delivered on reconnect")
	}

	return delivered, nil
}
