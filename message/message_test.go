package message

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/kasuganosora/socialgraph/model"
	"github.com/kasuganosora/socialgraph/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	db := testutil.SetupTestDB(t)
	c, _ := testutil.SetupTestCache(t)
	return NewService(db, c, nil)
}

func TestSend_Validation(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	_, err := s.Send(ctx, 1, 1, "hi")
	assert.ErrorIs(t, err, ErrSelfMessage)
	_, err = s.Send(ctx, 1, 2, "   ")
	assert.ErrorIs(t, err, ErrEmptyContent)
	_, err = s.Send(ctx, 1, 2, strings.Repeat("x", MaxContentLen+1))
	assert.ErrorIs(t, err, ErrContentTooLong)
}

func TestLastMessage_EitherDirection(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	none, err := s.LastMessage(ctx, 1, 2)
	require.NoError(t, err)
	assert.Nil(t, none)

	_, err = s.Send(ctx, 1, 2, "first")
	require.NoError(t, err)
	reply, err := s.Send(ctx, 2, 1, "second")
	require.NoError(t, err)
	_, err = s.Send(ctx, 1, 3, "elsewhere")
	require.NoError(t, err)

	last, err := s.LastMessage(ctx, 1, 2)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, reply.ID, last.ID)
	assert.Equal(t, "second", last.Content)
}

func TestLastMessage_TieBrokenByID(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	first := &model.Message{SenderID: 1, ReceiverID: 2, Content: "a", CreatedAt: at}
	second := &model.Message{SenderID: 2, ReceiverID: 1, Content: "b", CreatedAt: at}
	require.NoError(t, s.db.Create(first).Error)
	require.NoError(t, s.db.Create(second).Error)

	last, err := s.LastMessage(ctx, 2, 1)
	require.NoError(t, err)
	assert.Equal(t, second.ID, last.ID)
}

func TestUnreadCounts(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := s.Send(ctx, 2, 1, "ping")
		require.NoError(t, err)
	}
	_, err := s.Send(ctx, 3, 1, "hey")
	require.NoError(t, err)

	counts, err := s.UnreadCounts(ctx, 1, []int64{2, 3, 4})
	require.NoError(t, err)
	assert.Equal(t, map[int64]int64{2: 3, 3: 1}, counts)

	require.NoError(t, s.MarkRead(ctx, 1, 2))
	counts, err = s.UnreadCounts(ctx, 1, []int64{2, 3})
	require.NoError(t, err)
	assert.Equal(t, map[int64]int64{3: 1}, counts)

	empty, err := s.UnreadCounts(ctx, 1, nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}
