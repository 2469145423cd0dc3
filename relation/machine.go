// Package relation owns the pairwise relationship state between users:
// pending requests, friendships and blocks. Machine is the only writer of
// relationship rows; Store is its persistence.
package relation

import (
	"context"

	"github.com/kasuganosora/socialgraph/metrics"
	"github.com/kasuganosora/socialgraph/model"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Action names a state machine operation.
type Action string

const (
	ActionRequest Action = "request"
	ActionAccept  Action = "accept"
	ActionDecline Action = "decline"
	ActionCancel  Action = "cancel"
	ActionRemove  Action = "remove"
	ActionBlock   Action = "block"
	ActionUnblock Action = "unblock"

	// actionRespond labels Respond calls rejected before accept or decline is known.
	actionRespond Action = "respond"
)

// Transition describes a committed state change. Row is the row as written,
// or as it was just before deletion.
type Transition struct {
	Action  Action
	Actor   int64
	Row     model.Relationship
	Created bool // block only: a new row was inserted
}

// Notifier receives every committed transition.
type Notifier interface {
	Dispatch(ctx context.Context, t Transition)
}

// UserChecker reports whether a user id exists.
type UserChecker interface {
	UserExists(ctx context.Context, id int64) (bool, error)
}

type nopNotifier struct{}

func (nopNotifier) Dispatch(context.Context, Transition) {}

// blockAttempts bounds the read-then-write retries of Block when it races
// with other writers on the same pair.
const blockAttempts = 3

// Machine validates and executes relationship transitions.
type Machine struct {
	store    *Store
	users    UserChecker
	notifier Notifier
	logger   *zap.Logger
}

// NewMachine creates a Machine. A nil notifier discards transitions.
func NewMachine(store *Store, users UserChecker, notifier Notifier, logger *zap.Logger) *Machine {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Machine{store: store, users: users, notifier: notifier, logger: logger}
}

// Request creates a pending row from actor to target.
func (m *Machine) Request(ctx context.Context, actor, target int64) (*model.Relationship, error) {
	if err := m.checkTarget(ctx, actor, target); err != nil {
		return nil, m.fail(ActionRequest, actor, err)
	}
	existing, err := m.store.FindByPair(ctx, actor, target)
	if err != nil {
		return nil, m.fail(ActionRequest, actor, Internal(err, "load relationship"))
	}
	if existing != nil {
		return nil, m.fail(ActionRequest, actor, newError(KindConflict, conflictMessage(existing)))
	}

	row := &model.Relationship{
		RequesterID: actor,
		AddresseeID: target,
		Status:      model.StatusPending,
	}
	if err := m.store.Create(ctx, row); err != nil {
		if errors.Is(err, ErrDuplicatePair) {
			return nil, m.fail(ActionRequest, actor, newError(KindConflict, MsgRequestExists))
		}
		return nil, m.fail(ActionRequest, actor, Internal(err, "create relationship"))
	}

	m.commit(ctx, Transition{Action: ActionRequest, Actor: actor, Row: *row})
	return row, nil
}

// Respond accepts or declines the pending request requestID addressed to
// actor. Decline returns the removed row.
func (m *Machine) Respond(ctx context.Context, actor, requestID int64, action Action) (*model.Relationship, error) {
	if action != ActionAccept && action != ActionDecline {
		return nil, m.fail(actionRespond, actor, newError(KindInvalidOperation, MsgUnknownAction))
	}
	row, err := m.store.FindByID(ctx, requestID)
	if err != nil {
		return nil, m.fail(action, actor, Internal(err, "load relationship"))
	}
	if row == nil {
		return nil, m.fail(action, actor, newError(KindNotFound, MsgRequestNotFound))
	}
	if row.AddresseeID != actor {
		return nil, m.fail(action, actor, newError(KindForbidden, MsgNotAddressee))
	}
	if row.Status != model.StatusPending {
		return nil, m.fail(action, actor, newError(KindConflict, MsgNotPending))
	}

	if action == ActionAccept {
		row.Status = model.StatusAccepted
		err = m.store.Update(ctx, row, model.StatusPending)
	} else {
		err = m.store.Delete(ctx, row.ID, model.StatusPending)
	}
	if err != nil {
		if errors.Is(err, ErrStaleRow) {
			return nil, m.fail(action, actor, newError(KindConflict, MsgNotPending))
		}
		return nil, m.fail(action, actor, Internal(err, "respond to request"))
	}

	m.commit(ctx, Transition{Action: action, Actor: actor, Row: *row})
	return row, nil
}

// Cancel withdraws a pending request actor sent. A missing row and a row
// actor may not cancel look the same to the caller.
func (m *Machine) Cancel(ctx context.Context, actor, requestID int64) (*model.Relationship, error) {
	row, err := m.store.FindByID(ctx, requestID)
	if err != nil {
		return nil, m.fail(ActionCancel, actor, Internal(err, "load relationship"))
	}
	if row == nil || row.RequesterID != actor || row.Status != model.StatusPending {
		return nil, m.fail(ActionCancel, actor, newError(KindNotFound, MsgRequestNotFound))
	}
	if err := m.store.Delete(ctx, row.ID, model.StatusPending); err != nil {
		if errors.Is(err, ErrStaleRow) {
			return nil, m.fail(ActionCancel, actor, newError(KindNotFound, MsgRequestNotFound))
		}
		return nil, m.fail(ActionCancel, actor, Internal(err, "cancel request"))
	}

	m.commit(ctx, Transition{Action: ActionCancel, Actor: actor, Row: *row})
	return row, nil
}

// Remove ends the friendship between actor and other.
func (m *Machine) Remove(ctx context.Context, actor, other int64) (*model.Relationship, error) {
	row, err := m.store.FindByPair(ctx, actor, other)
	if err != nil {
		return nil, m.fail(ActionRemove, actor, Internal(err, "load relationship"))
	}
	if row == nil || row.Status != model.StatusAccepted {
		return nil, m.fail(ActionRemove, actor, newError(KindNotFound, MsgNotFriends))
	}
	if err := m.store.Delete(ctx, row.ID, model.StatusAccepted); err != nil {
		if errors.Is(err, ErrStaleRow) {
			return nil, m.fail(ActionRemove, actor, newError(KindNotFound, MsgNotFriends))
		}
		return nil, m.fail(ActionRemove, actor, Internal(err, "remove friend"))
	}

	m.commit(ctx, Transition{Action: ActionRemove, Actor: actor, Row: *row})
	return row, nil
}

// Block makes actor the blocker of target. An existing row of any status is
// rewritten in place; otherwise a new blocked row is inserted and created
// is true.
func (m *Machine) Block(ctx context.Context, actor, target int64) (*model.Relationship, bool, error) {
	if err := m.checkTarget(ctx, actor, target); err != nil {
		return nil, false, m.fail(ActionBlock, actor, err)
	}

	for attempt := 0; attempt < blockAttempts; attempt++ {
		existing, err := m.store.FindByPair(ctx, actor, target)
		if err != nil {
			return nil, false, m.fail(ActionBlock, actor, Internal(err, "load relationship"))
		}

		if existing == nil {
			row := &model.Relationship{
				RequesterID: actor,
				AddresseeID: target,
				Status:      model.StatusBlocked,
			}
			err = m.store.Create(ctx, row)
			if errors.Is(err, ErrDuplicatePair) {
				continue
			}
			if err != nil {
				return nil, false, m.fail(ActionBlock, actor, Internal(err, "create block"))
			}
			m.commit(ctx, Transition{Action: ActionBlock, Actor: actor, Row: *row, Created: true})
			return row, true, nil
		}

		prev := existing.Status
		existing.RequesterID = actor
		existing.AddresseeID = target
		existing.Status = model.StatusBlocked
		err = m.store.Update(ctx, existing, prev)
		if errors.Is(err, ErrStaleRow) {
			continue
		}
		if err != nil {
			return nil, false, m.fail(ActionBlock, actor, Internal(err, "update block"))
		}
		m.commit(ctx, Transition{Action: ActionBlock, Actor: actor, Row: *existing})
		return existing, false, nil
	}

	return nil, false, m.fail(ActionBlock, actor, newError(KindConflict, "relationship changed concurrently, retry"))
}

// Unblock lifts a block actor imposed on target. A missing block and a
// block imposed by target look the same to the caller.
func (m *Machine) Unblock(ctx context.Context, actor, target int64) (*model.Relationship, error) {
	row, err := m.store.FindByPair(ctx, actor, target)
	if err != nil {
		return nil, m.fail(ActionUnblock, actor, Internal(err, "load relationship"))
	}
	if row == nil || row.RequesterID != actor || row.AddresseeID != target || row.Status != model.StatusBlocked {
		return nil, m.fail(ActionUnblock, actor, newError(KindUnauthorized, MsgNotBlocked))
	}
	if err := m.store.Delete(ctx, row.ID, model.StatusBlocked); err != nil {
		if errors.Is(err, ErrStaleRow) {
			return nil, m.fail(ActionUnblock, actor, newError(KindUnauthorized, MsgNotBlocked))
		}
		return nil, m.fail(ActionUnblock, actor, Internal(err, "unblock"))
	}

	m.commit(ctx, Transition{Action: ActionUnblock, Actor: actor, Row: *row})
	return row, nil
}

// checkTarget rejects self-targeting and unknown targets.
func (m *Machine) checkTarget(ctx context.Context, actor, target int64) error {
	if actor == target {
		return newError(KindInvalidOperation, MsgSelf)
	}
	ok, err := m.users.UserExists(ctx, target)
	if err != nil {
		return Internal(err, "load user")
	}
	if !ok {
		return newError(KindNotFound, MsgUserNotFound)
	}
	return nil
}

func (m *Machine) commit(ctx context.Context, t Transition) {
	metrics.RelationshipTransitions.WithLabelValues(string(t.Action), metrics.OutcomeOK).Inc()
	m.logger.Debug("relationship transition",
		zap.String("action", string(t.Action)),
		zap.Int64("actor", t.Actor),
		zap.Int64("relationship_id", t.Row.ID),
		zap.String("status", string(t.Row.Status)),
		zap.Bool("created", t.Created))
	m.notifier.Dispatch(ctx, t)
}

func (m *Machine) fail(action Action, actor int64, err error) error {
	if KindOf(err) == KindInternal {
		metrics.RelationshipTransitions.WithLabelValues(string(action), metrics.OutcomeError).Inc()
		m.logger.Warn("relationship transition failed",
			zap.String("action", string(action)),
			zap.Int64("actor", actor),
			zap.Error(err))
		return err
	}
	metrics.RelationshipTransitions.WithLabelValues(string(action), metrics.OutcomeRejected).Inc()
	return err
}
