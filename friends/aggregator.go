// Package friends composes the read-side views of a user's relationships:
// the friend list with unread counts and last messages, pending requests,
// blocks and suggestions.
package friends

import (
	"context"
	"time"

	"github.com/kasuganosora/socialgraph/metrics"
	"github.com/kasuganosora/socialgraph/model"
	"github.com/kasuganosora/socialgraph/relation"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// RelationReader is the read side of relation.Store.
type RelationReader interface {
	ListByUser(ctx context.Context, userID int64, status model.RelationshipStatus) ([]model.Relationship, error)
	ListRequestedBy(ctx context.Context, userID int64, status model.RelationshipStatus) ([]model.Relationship, error)
	ListAddressedTo(ctx context.Context, userID int64, status model.RelationshipStatus) ([]model.Relationship, error)
	PeersOf(ctx context.Context, userID int64) ([]int64, error)
}

// UserDirectory loads user profiles.
type UserDirectory interface {
	UsersByIDs(ctx context.Context, ids []int64) (map[int64]*model.User, error)
	AllUsers(ctx context.Context) ([]*model.User, error)
}

// UnreadCounter returns owner's unread counts for peers in one call.
type UnreadCounter interface {
	UnreadCounts(ctx context.Context, owner int64, peers []int64) (map[int64]int64, error)
}

// LastMessageLookup returns the latest message between a and b, or nil.
type LastMessageLookup interface {
	LastMessage(ctx context.Context, a, b int64) (*model.Message, error)
}

// Presence reports which users are online.
type Presence interface {
	Online(ctx context.Context, ids []int64) (map[int64]bool, error)
}

// DefaultConcurrency caps parallel last-message lookups when Config leaves it unset.
const DefaultConcurrency = 8

// Config tunes an Aggregator.
type Config struct {
	Concurrency       int
	PlaceholderPrefix string
}

// UserView is the public projection of a user in every list.
type UserView struct {
	ID          int64  `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	Avatar      string `json:"avatar"`
	Online      bool   `json:"online"`
}

// Friend is one entry of the friend list.
type Friend struct {
	UserView
	RelationshipID int64          `json:"relationship_id"`
	Since          time.Time      `json:"since"`
	UnreadCount    int64          `json:"unread_count"`
	LastMessage    *model.Message `json:"last_message"`
}

// Aggregator builds the relationship read views.
type Aggregator struct {
	rel         RelationReader
	users       UserDirectory
	unread      UnreadCounter
	last        LastMessageLookup
	presence    Presence
	concurrency int
	prefix      string
	logger      *zap.Logger
}

// NewAggregator creates an Aggregator. presence may be nil, in which case
// every user is reported offline.
func NewAggregator(rel RelationReader, users UserDirectory, unread UnreadCounter, last LastMessageLookup, presence Presence, cfg Config, logger *zap.Logger) *Aggregator {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.PlaceholderPrefix == "" {
		cfg.PlaceholderPrefix = DefaultPlaceholderPrefix
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{
		rel:         rel,
		users:       users,
		unread:      unread,
		last:        last,
		presence:    presence,
		concurrency: cfg.Concurrency,
		prefix:      cfg.PlaceholderPrefix,
		logger:      logger,
	}
}

// Friends returns self's accepted relationships in row order. Only the
// relationship and user loads can fail the call; unread counts, presence
// and last messages degrade per entry.
func (a *Aggregator) Friends(ctx context.Context, self int64) ([]Friend, error) {
	rows, err := a.rel.ListByUser(ctx, self, model.StatusAccepted)
	if err != nil {
		return nil, relation.Internal(err, "load friends")
	}

	peers := make([]int64, len(rows))
	for i := range rows {
		peers[i] = relation.OtherParty(&rows[i], self)
	}
	users, err := a.users.UsersByIDs(ctx, peers)
	if err != nil {
		return nil, relation.Internal(err, "load friend profiles")
	}

	friends := make([]Friend, 0, len(rows))
	for i := range rows {
		u, ok := users[peers[i]]
		if !ok {
			continue
		}
		friends = append(friends, Friend{
			UserView:       a.view(u, false),
			RelationshipID: rows[i].ID,
			Since:          rows[i].UpdatedAt,
		})
	}
	if len(friends) == 0 {
		return friends, nil
	}

	ids := make([]int64, len(friends))
	for i := range friends {
		ids[i] = friends[i].ID
	}

	counts, err := a.unread.UnreadCounts(ctx, self, ids)
	if err != nil {
		a.logger.Warn("friends: unread counts unavailable", zap.Int64("user_id", self), zap.Error(err))
		counts = nil
	}
	online := a.online(ctx, ids)

	lastMessages := a.lastMessages(ctx, self, ids)

	for i := range friends {
		friends[i].UnreadCount = counts[friends[i].ID]
		friends[i].Online = online[friends[i].ID]
		friends[i].LastMessage = lastMessages[i]
	}
	return friends, nil
}

// lastMessages looks up the latest message with each peer, at most
// a.concurrency at a time. A failed lookup leaves its slot nil.
func (a *Aggregator) lastMessages(ctx context.Context, self int64, peers []int64) []*model.Message {
	type outcome struct {
		msg *model.Message
		err error
	}
	results := make([]outcome, len(peers))

	var g errgroup.Group
	g.SetLimit(a.concurrency)
	for i, peer := range peers {
		g.Go(func() error {
			msg, err := a.last.LastMessage(ctx, self, peer)
			results[i] = outcome{msg: msg, err: err}
			return nil
		})
	}
	_ = g.Wait()

	out := make([]*model.Message, len(peers))
	for i, r := range results {
		if r.err != nil {
			metrics.LastMessageFailures.Inc()
			a.logger.Warn("friends: last message lookup failed",
				zap.Int64("user_id", self), zap.Int64("peer_id", peers[i]), zap.Error(r.err))
			continue
		}
		out[i] = r.msg
	}
	return out
}

func (a *Aggregator) online(ctx context.Context, ids []int64) map[int64]bool {
	if a.presence == nil {
		return nil
	}
	online, err := a.presence.Online(ctx, ids)
	if err != nil {
		a.logger.Warn("friends: presence unavailable", zap.Error(err))
		return nil
	}
	return online
}

func (a *Aggregator) view(u *model.User, online bool) UserView {
	return UserView{
		ID:          u.ID,
		Username:    u.Username,
		DisplayName: u.Name(),
		Avatar:      resolveAvatar(a.prefix, u.Avatar, u.Name()),
		Online:      online,
	}
}
