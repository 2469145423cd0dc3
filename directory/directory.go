// Package directory reads user profiles from the users table and tracks
// presence as a per-user count of open real-time connections.
package directory

import (
	"context"
	"strconv"

	"github.com/kasuganosora/socialgraph/cache"
	"github.com/kasuganosora/socialgraph/model"
	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// PresenceKey is the cache hash holding connection counts by user id.
const PresenceKey = "presence:online"

// Directory serves user lookups and presence.
type Directory struct {
	db    *gorm.DB
	cache cache.Cache
}

// New creates a Directory.
func New(db *gorm.DB, c cache.Cache) *Directory {
	return &Directory{db: db, cache: c}
}

// UserExists reports whether a user with id exists.
func (d *Directory) UserExists(ctx context.Context, id int64) (bool, error) {
	var n int64
	if err := d.db.WithContext(ctx).Model(&model.User{}).Where("id = ?", id).Count(&n).Error; err != nil {
		return false, errors.Wrapf(err, "check user %d", id)
	}
	return n > 0, nil
}

// UsersByIDs loads the users with the given ids. Unknown ids are absent
// from the result.
func (d *Directory) UsersByIDs(ctx context.Context, ids []int64) (map[int64]*model.User, error) {
	out := make(map[int64]*model.User, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var users []*model.User
	if err := d.db.WithContext(ctx).Where("id IN ?", ids).Find(&users).Error; err != nil {
		return nil, errors.Wrap(err, "load users")
	}
	for _, u := range users {
		out[u.ID] = u
	}
	return out, nil
}

// AllUsers returns every user ordered by id.
func (d *Directory) AllUsers(ctx context.Context) ([]*model.User, error) {
	var users []*model.User
	if err := d.db.WithContext(ctx).Order("id").Find(&users).Error; err != nil {
		return nil, errors.Wrap(err, "list users")
	}
	return users, nil
}

// Connect records an open connection for userID.
func (d *Directory) Connect(ctx context.Context, userID int64) error {
	_, err := d.cache.HIncrBy(ctx, PresenceKey, strconv.FormatInt(userID, 10), 1)
	return err
}

// Disconnect records a closed connection. The field is dropped once the
// last connection goes away.
func (d *Directory) Disconnect(ctx context.Context, userID int64) error {
	field := strconv.FormatInt(userID, 10)
	n, err := d.cache.HIncrBy(ctx, PresenceKey, field, -1)
	if err != nil {
		return err
	}
	if n <= 0 {
		return d.cache.HDel(ctx, PresenceKey, field)
	}
	return nil
}

// Online reports which of ids have at least one open connection.
func (d *Directory) Online(ctx context.Context, ids []int64) (map[int64]bool, error) {
	out := make(map[int64]bool, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	fields := make([]string, len(ids))
	for i, id := range ids {
		fields[i] = strconv.FormatInt(id, 10)
	}
	vals, err := d.cache.HMGet(ctx, PresenceKey, fields...)
	if err != nil {
		return nil, err
	}
	for i, id := range ids {
		if n, err := strconv.ParseInt(vals[fields[i]], 10, 64); err == nil && n > 0 {
			out[id] = true
		}
	}
	return out, nil
}
