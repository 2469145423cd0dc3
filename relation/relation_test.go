package relation

import (
	"context"
	"sync"
	"testing"

	"github.com/kasuganosora/socialgraph/model"
	"github.com/kasuganosora/socialgraph/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type userSet map[int64]bool

func (u userSet) UserExists(_ context.Context, id int64) (bool, error) {
	return u[id], nil
}

type recorder struct {
	mu  sync.Mutex
	got []Transition
}

func (r *recorder) Dispatch(_ context.Context, t Transition) {
	r.mu.Lock()
	r.got = append(r.got, t)
	r.mu.Unlock()
}

func (r *recorder) actions() []Action {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Action, len(r.got))
	for i, t := range r.got {
		out[i] = t.Action
	}
	return out
}

func newTestMachine(t *testing.T) (*Machine, *recorder, *gorm.DB) {
	t.Helper()
	db := testutil.SetupTestDB(t)
	rec := &recorder{}
	users := userSet{1: true, 2: true, 3: true, 4: true}
	return NewMachine(NewStore(db), users, rec, nil), rec, db
}

func countPair(t *testing.T, db *gorm.DB, a, b int64) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(&model.Relationship{}).
		Where("(requester_id = ? AND addressee_id = ?) OR (requester_id = ? AND addressee_id = ?)", a, b, b, a).
		Count(&n).Error)
	return n
}

func assertKind(t *testing.T, err error, kind Kind) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, kind, KindOf(err), "error: %v", err)
}

func TestOtherParty(t *testing.T) {
	row := &model.Relationship{RequesterID: 1, AddresseeID: 2}
	assert.Equal(t, int64(2), OtherParty(row, 1))
	assert.Equal(t, int64(1), OtherParty(row, 2))
}

func TestKindOf_PlainError(t *testing.T) {
	assert.Equal(t, KindInternal, KindOf(assert.AnError))
	assert.Equal(t, "InternalFailure", KindOf(assert.AnError).String())
}

func TestRequest_Self(t *testing.T) {
	m, rec, _ := newTestMachine(t)
	for _, u := range []int64{1, 2, 99} {
		_, err := m.Request(context.Background(), u, u)
		assertKind(t, err, KindInvalidOperation)
	}
	assert.Empty(t, rec.actions())
}

func TestRequest_UnknownTarget(t *testing.T) {
	m, _, _ := newTestMachine(t)
	_, err := m.Request(context.Background(), 1, 99)
	assertKind(t, err, KindNotFound)
}

func TestRequest_ConflictMessages(t *testing.T) {
	m, _, _ := newTestMachine(t)
	ctx := context.Background()

	row, err := m.Request(ctx, 1, 2)
	require.NoError(t, err)

	_, err = m.Request(ctx, 2, 1)
	assertKind(t, err, KindConflict)
	assert.Contains(t, err.Error(), MsgRequestExists)

	_, err = m.Respond(ctx, 2, row.ID, ActionAccept)
	require.NoError(t, err)
	_, err = m.Request(ctx, 1, 2)
	assertKind(t, err, KindConflict)
	assert.Contains(t, err.Error(), MsgAlreadyFriends)

	_, _, err = m.Block(ctx, 3, 4)
	require.NoError(t, err)
	_, err = m.Request(ctx, 4, 3)
	assertKind(t, err, KindConflict)
	assert.Contains(t, err.Error(), MsgBlocked)
}

func TestRequest_ConcurrentSamePair(t *testing.T) {
	m, _, db := newTestMachine(t)
	ctx := context.Background()

	const n = 10
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			actor, target := int64(1), int64(2)
			if i%2 == 1 {
				actor, target = target, actor
			}
			_, err := m.Request(ctx, actor, target)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes++
			} else if KindOf(err) == KindConflict {
				conflicts++
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, n-1, conflicts)
	assert.Equal(t, int64(1), countPair(t, db, 1, 2))
}

func TestFriendshipScenario(t *testing.T) {
	m, rec, db := newTestMachine(t)
	ctx := context.Background()

	row, err := m.Request(ctx, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(1), row.RequesterID)
	assert.Equal(t, int64(2), row.AddresseeID)
	assert.Equal(t, model.StatusPending, row.Status)

	accepted, err := m.Respond(ctx, 2, row.ID, ActionAccept)
	require.NoError(t, err)
	assert.Equal(t, row.ID, accepted.ID)
	assert.Equal(t, model.StatusAccepted, accepted.Status)

	removed, err := m.Remove(ctx, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, row.ID, removed.ID)
	assert.Equal(t, int64(0), countPair(t, db, 1, 2))

	assert.Equal(t, []Action{ActionRequest, ActionAccept, ActionRemove}, rec.actions())
}

func TestRespond_Validation(t *testing.T) {
	m, _, db := newTestMachine(t)
	ctx := context.Background()

	row, err := m.Request(ctx, 1, 2)
	require.NoError(t, err)

	_, err = m.Respond(ctx, 2, row.ID, Action("maybe"))
	assertKind(t, err, KindInvalidOperation)

	_, err = m.Respond(ctx, 2, 9999, ActionAccept)
	assertKind(t, err, KindNotFound)

	_, err = m.Respond(ctx, 1, row.ID, ActionAccept)
	assertKind(t, err, KindForbidden)

	_, err = m.Respond(ctx, 2, row.ID, ActionAccept)
	require.NoError(t, err)
	_, err = m.Respond(ctx, 2, row.ID, ActionDecline)
	assertKind(t, err, KindConflict)

	var stored model.Relationship
	require.NoError(t, db.First(&stored, row.ID).Error)
	assert.Equal(t, model.StatusAccepted, stored.Status)
}

func TestRespond_Decline(t *testing.T) {
	m, rec, db := newTestMachine(t)
	ctx := context.Background()

	row, err := m.Request(ctx, 1, 2)
	require.NoError(t, err)

	declined, err := m.Respond(ctx, 2, row.ID, ActionDecline)
	require.NoError(t, err)
	assert.Equal(t, row.ID, declined.ID)
	assert.Equal(t, int64(0), countPair(t, db, 1, 2))
	assert.Equal(t, []Action{ActionRequest, ActionDecline}, rec.actions())
}

func TestCancel(t *testing.T) {
	m, rec, db := newTestMachine(t)
	ctx := context.Background()

	row, err := m.Request(ctx, 1, 2)
	require.NoError(t, err)

	// Only the requester may cancel; anyone else sees not-found.
	_, err = m.Cancel(ctx, 2, row.ID)
	assertKind(t, err, KindNotFound)
	_, err = m.Cancel(ctx, 1, 9999)
	assertKind(t, err, KindNotFound)

	_, err = m.Cancel(ctx, 1, row.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), countPair(t, db, 1, 2))
	assert.Equal(t, []Action{ActionRequest, ActionCancel}, rec.actions())

	_, err = m.Cancel(ctx, 1, row.ID)
	assertKind(t, err, KindNotFound)
}

func TestCancel_AcceptedRow(t *testing.T) {
	m, _, _ := newTestMachine(t)
	ctx := context.Background()

	row, err := m.Request(ctx, 1, 2)
	require.NoError(t, err)
	_, err = m.Respond(ctx, 2, row.ID, ActionAccept)
	require.NoError(t, err)

	_, err = m.Cancel(ctx, 1, row.ID)
	assertKind(t, err, KindNotFound)
}

func TestRemove_NotFriends(t *testing.T) {
	m, _, db := newTestMachine(t)
	ctx := context.Background()

	_, err := m.Remove(ctx, 1, 2)
	assertKind(t, err, KindNotFound)

	_, err = m.Request(ctx, 1, 2)
	require.NoError(t, err)
	_, err = m.Remove(ctx, 1, 2)
	assertKind(t, err, KindNotFound)
	assert.Equal(t, int64(1), countPair(t, db, 1, 2))
}

func TestBlock_FromEveryState(t *testing.T) {
	ctx := context.Background()
	setups := map[string]func(t *testing.T, m *Machine){
		"absent": func(*testing.T, *Machine) {},
		"pending": func(t *testing.T, m *Machine) {
			_, err := m.Request(ctx, 4, 3)
			require.NoError(t, err)
		},
		"accepted": func(t *testing.T, m *Machine) {
			row, err := m.Request(ctx, 4, 3)
			require.NoError(t, err)
			_, err = m.Respond(ctx, 3, row.ID, ActionAccept)
			require.NoError(t, err)
		},
		"blocked by other": func(t *testing.T, m *Machine) {
			_, _, err := m.Block(ctx, 4, 3)
			require.NoError(t, err)
		},
	}
	for name, setup := range setups {
		t.Run(name, func(t *testing.T) {
			m, _, db := newTestMachine(t)
			setup(t, m)

			row, _, err := m.Block(ctx, 3, 4)
			require.NoError(t, err)
			assert.Equal(t, model.StatusBlocked, row.Status)
			assert.Equal(t, int64(3), row.RequesterID)
			assert.Equal(t, int64(4), row.AddresseeID)
			assert.Equal(t, int64(1), countPair(t, db, 3, 4))
		})
	}
}

func TestBlock_CreateThenUpdate(t *testing.T) {
	m, rec, db := newTestMachine(t)
	ctx := context.Background()

	first, created, err := m.Block(ctx, 3, 4)
	require.NoError(t, err)
	assert.True(t, created)

	second, created, err := m.Block(ctx, 3, 4)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, int64(1), countPair(t, db, 3, 4))

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.got, 2)
	assert.True(t, rec.got[0].Created)
	assert.False(t, rec.got[1].Created)
}

func TestBlock_Validation(t *testing.T) {
	m, _, _ := newTestMachine(t)
	ctx := context.Background()

	_, _, err := m.Block(ctx, 3, 3)
	assertKind(t, err, KindInvalidOperation)
	_, _, err = m.Block(ctx, 3, 99)
	assertKind(t, err, KindNotFound)
}

func TestUnblock(t *testing.T) {
	m, _, db := newTestMachine(t)
	ctx := context.Background()

	_, err := m.Unblock(ctx, 3, 4)
	assertKind(t, err, KindUnauthorized)

	_, _, err = m.Block(ctx, 3, 4)
	require.NoError(t, err)

	// The blocked party cannot lift the block.
	_, err = m.Unblock(ctx, 4, 3)
	assertKind(t, err, KindUnauthorized)

	_, err = m.Unblock(ctx, 3, 4)
	require.NoError(t, err)
	assert.Equal(t, int64(0), countPair(t, db, 3, 4))

	_, err = m.Request(ctx, 3, 4)
	assert.NoError(t, err)
}

func TestBlock_ConcurrentSingleRow(t *testing.T) {
	m, _, db := newTestMachine(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			actor, target := int64(3), int64(4)
			if i%2 == 1 {
				actor, target = target, actor
			}
			_, _, errs[i] = m.Block(ctx, actor, target)
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			assert.Equal(t, KindConflict, KindOf(err))
		}
	}
	assert.Equal(t, int64(1), countPair(t, db, 3, 4))
}

func TestStore_ListAndPeers(t *testing.T) {
	db := testutil.SetupTestDB(t)
	s := NewStore(db)
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, &model.Relationship{RequesterID: 1, AddresseeID: 2, Status: model.StatusAccepted}))
	require.NoError(t, s.Create(ctx, &model.Relationship{RequesterID: 3, AddresseeID: 1, Status: model.StatusPending}))
	require.NoError(t, s.Create(ctx, &model.Relationship{RequesterID: 1, AddresseeID: 4, Status: model.StatusBlocked}))

	accepted, err := s.ListByUser(ctx, 1, model.StatusAccepted)
	require.NoError(t, err)
	require.Len(t, accepted, 1)
	assert.Equal(t, int64(2), accepted[0].AddresseeID)

	received, err := s.ListAddressedTo(ctx, 1, model.StatusPending)
	require.NoError(t, err)
	require.Len(t, received, 1)
	assert.Equal(t, int64(3), received[0].RequesterID)

	blocked, err := s.ListRequestedBy(ctx, 1, model.StatusBlocked)
	require.NoError(t, err)
	require.Len(t, blocked, 1)

	peers, err := s.PeersOf(ctx, 1)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{2, 3, 4}, peers)

	err = s.Create(ctx, &model.Relationship{RequesterID: 2, AddresseeID: 1, Status: model.StatusPending})
	assert.ErrorIs(t, err, ErrDuplicatePair)

	row, err := s.FindByPair(ctx, 2, 1)
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.ErrorIs(t, s.Delete(ctx, row.ID, model.StatusPending), ErrStaleRow)
	assert.NoError(t, s.Delete(ctx, row.ID, model.StatusAccepted))

	missing, err := s.FindByID(ctx, row.ID)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestStore_CountByStatus(t *testing.T) {
	db := testutil.SetupTestDB(t)
	s := NewStore(db)
	ctx := context.Background()

	counts, err := s.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[model.RelationshipStatus]int64{
		model.StatusPending:  0,
		model.StatusAccepted: 0,
		model.StatusBlocked:  0,
	}, counts)

	require.NoError(t, s.Create(ctx, &model.Relationship{RequesterID: 1, AddresseeID: 2, Status: model.StatusAccepted}))
	require.NoError(t, s.Create(ctx, &model.Relationship{RequesterID: 1, AddresseeID: 3, Status: model.StatusAccepted}))
	require.NoError(t, s.Create(ctx, &model.Relationship{RequesterID: 4, AddresseeID: 1, Status: model.StatusPending}))

	counts, err = s.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts[model.StatusAccepted])
	assert.Equal(t, int64(1), counts[model.StatusPending])
	assert.Equal(t, int64(0), counts[model.StatusBlocked])
}
