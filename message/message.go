// Package message stores direct messages and their per-peer unread counters.
// Content is stored as sent.
package message

import (
	"context"
	"strconv"
	"strings"

	"github.com/kasuganosora/socialgraph/cache"
	"github.com/kasuganosora/socialgraph/model"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	// ErrEmptyContent rejects blank messages.
	ErrEmptyContent = errors.New("message: empty content")
	// ErrSelfMessage rejects messages addressed to the sender.
	ErrSelfMessage = errors.New("message: cannot message yourself")
	// ErrContentTooLong rejects bodies over MaxContentLen bytes.
	ErrContentTooLong = errors.New("message: content too long")
)

// MaxContentLen caps a single message body in bytes.
const MaxContentLen = 4000

// UnreadKey is the cache hash of unread counts for owner, keyed by peer id.
func UnreadKey(owner int64) string {
	return "unread:" + strconv.FormatInt(owner, 10)
}

// Service reads and writes direct messages.
type Service struct {
	db     *gorm.DB
	cache  cache.Cache
	logger *zap.Logger
}

// NewService creates a Service.
func NewService(db *gorm.DB, c cache.Cache, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{db: db, cache: c, logger: logger}
}

// LastMessage returns the latest message exchanged between a and b in
// either direction, or nil when they never talked.
func (s *Service) LastMessage(ctx context.Context, a, b int64) (*model.Message, error) {
	var msg model.Message
	err := s.db.WithContext(ctx).
		Where("(sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)", a, b, b, a).
		Order("created_at DESC").Order("id DESC").
		Take(&msg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "last message %d-%d", a, b)
	}
	return &msg, nil
}

// UnreadCounts returns owner's unread count per peer in one cache round
// trip. Peers without a counter are absent from the result.
func (s *Service) UnreadCounts(ctx context.Context, owner int64, peers []int64) (map[int64]int64, error) {
	out := make(map[int64]int64, len(peers))
	if len(peers) == 0 {
		return out, nil
	}
	fields := make([]string, len(peers))
	for i, p := range peers {
		fields[i] = strconv.FormatInt(p, 10)
	}
	vals, err := s.cache.HMGet(ctx, UnreadKey(owner), fields...)
	if err != nil {
		return nil, errors.Wrapf(err, "unread counts of %d", owner)
	}
	for i, p := range peers {
		v, ok := vals[fields[i]]
		if !ok {
			continue
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			s.logger.Warn("message: bad unread counter", zap.Int64("owner", owner), zap.Int64("peer", p), zap.String("value", v))
			continue
		}
		out[p] = n
	}
	return out, nil
}

// Send stores a message from sender to receiver and bumps the receiver's
// unread counter for sender.
func (s *Service) Send(ctx context.Context, sender, receiver int64, content string) (*model.Message, error) {
	if sender == receiver {
		return nil, ErrSelfMessage
	}
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyContent
	}
	if len(content) > MaxContentLen {
		return nil, ErrContentTooLong
	}
	msg := &model.Message{SenderID: sender, ReceiverID: receiver, Content: content}
	if err := s.db.WithContext(ctx).Create(msg).Error; err != nil {
		return nil, errors.Wrap(err, "store message")
	}
	if _, err := s.cache.HIncrBy(ctx, UnreadKey(receiver), strconv.FormatInt(sender, 10), 1); err != nil {
		s.logger.Warn("message: unread counter not updated",
			zap.Int64("receiver", receiver), zap.Int64("sender", sender), zap.Error(err))
	}
	return msg, nil
}

// MarkRead clears owner's unread counter for peer.
func (s *Service) MarkRead(ctx context.Context, owner, peer int64) error {
	return s.cache.HDel(ctx, UnreadKey(owner), strconv.FormatInt(peer, 10))
}
