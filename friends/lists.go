package friends

import (
	"context"
	"time"

	"github.com/kasuganosora/socialgraph/model"
	"github.com/kasuganosora/socialgraph/relation"
)

// Entry is a pending request or a block, projected with the other user.
type Entry struct {
	RelationshipID int64     `json:"relationship_id"`
	User           UserView  `json:"user"`
	CreatedAt      time.Time `json:"created_at"`
}

// ReceivedRequests lists pending requests addressed to self with the
// requester's profile.
func (a *Aggregator) ReceivedRequests(ctx context.Context, self int64) ([]Entry, error) {
	rows, err := a.rel.ListAddressedTo(ctx, self, model.StatusPending)
	if err != nil {
		return nil, relation.Internal(err, "load received requests")
	}
	return a.entries(ctx, self, rows)
}

// SentRequests lists pending requests self sent with the addressee's profile.
func (a *Aggregator) SentRequests(ctx context.Context, self int64) ([]Entry, error) {
	rows, err := a.rel.ListRequestedBy(ctx, self, model.StatusPending)
	if err != nil {
		return nil, relation.Internal(err, "load sent requests")
	}
	return a.entries(ctx, self, rows)
}

// BlockedUsers lists the users self has blocked.
func (a *Aggregator) BlockedUsers(ctx context.Context, self int64) ([]Entry, error) {
	rows, err := a.rel.ListRequestedBy(ctx, self, model.StatusBlocked)
	if err != nil {
		return nil, relation.Internal(err, "load blocked users")
	}
	return a.entries(ctx, self, rows)
}

// SuggestedUsers lists every user except self and anyone sharing a row
// with self, whatever its status.
func (a *Aggregator) SuggestedUsers(ctx context.Context, self int64) ([]UserView, error) {
	peers, err := a.rel.PeersOf(ctx, self)
	if err != nil {
		return nil, relation.Internal(err, "load relationships")
	}
	exclude := make(map[int64]struct{}, len(peers)+1)
	exclude[self] = struct{}{}
	for _, p := range peers {
		exclude[p] = struct{}{}
	}

	all, err := a.users.AllUsers(ctx)
	if err != nil {
		return nil, relation.Internal(err, "load users")
	}
	var ids []int64
	for _, u := range all {
		if _, skip := exclude[u.ID]; !skip {
			ids = append(ids, u.ID)
		}
	}
	online := a.online(ctx, ids)

	out := make([]UserView, 0, len(ids))
	for _, u := range all {
		if _, skip := exclude[u.ID]; skip {
			continue
		}
		out = append(out, a.view(u, online[u.ID]))
	}
	return out, nil
}

// entries projects rows onto the other party, dropping rows whose user is gone.
func (a *Aggregator) entries(ctx context.Context, self int64, rows []model.Relationship) ([]Entry, error) {
	out := make([]Entry, 0, len(rows))
	if len(rows) == 0 {
		return out, nil
	}
	ids := make([]int64, len(rows))
	for i := range rows {
		ids[i] = relation.OtherParty(&rows[i], self)
	}
	users, err := a.users.UsersByIDs(ctx, ids)
	if err != nil {
		return nil, relation.Internal(err, "load profiles")
	}
	online := a.online(ctx, ids)
	for i := range rows {
		u, ok := users[ids[i]]
		if !ok {
			continue
		}
		out = append(out, Entry{
			RelationshipID: rows[i].ID,
			User:           a.view(u, online[u.ID]),
			CreatedAt:      rows[i].CreatedAt,
		})
	}
	return out, nil
}
