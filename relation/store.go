package relation

import (
	"context"
	"strings"

	"github.com/kasuganosora/socialgraph/model"
	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// ErrDuplicatePair is returned by Store.Create when a row already exists
// for the unordered pair.
var ErrDuplicatePair = errors.New("relation: duplicate pair")

// ErrStaleRow is returned by Store.Update and Store.Delete when the row
// vanished between read and write.
var ErrStaleRow = errors.New("relation: row no longer exists")

// Store persists relationship rows. Every method is a single statement;
// the unique index on (pair_low, pair_high) is what keeps one row per pair.
type Store struct {
	db *gorm.DB
}

// NewStore creates a Store over db.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying handle for collaborators sharing the same store.
func (s *Store) DB() *gorm.DB {
	return s.db
}

func pairOf(a, b int64) (int64, int64) {
	if a > b {
		return b, a
	}
	return a, b
}

// FindByPair returns the row between a and b in either direction, or nil.
func (s *Store) FindByPair(ctx context.Context, a, b int64) (*model.Relationship, error) {
	lo, hi := pairOf(a, b)
	var row model.Relationship
	err := s.db.WithContext(ctx).
		Where("pair_low = ? AND pair_high = ?", lo, hi).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "find relationship %d-%d", a, b)
	}
	return &row, nil
}

// FindByID returns the row with id, or nil.
func (s *Store) FindByID(ctx context.Context, id int64) (*model.Relationship, error) {
	var row model.Relationship
	err := s.db.WithContext(ctx).Take(&row, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "find relationship %d", id)
	}
	return &row, nil
}

// Create inserts row. A unique index violation is reported as ErrDuplicatePair.
func (s *Store) Create(ctx context.Context, row *model.Relationship) error {
	err := s.db.WithContext(ctx).Create(row).Error
	if err == nil {
		return nil
	}
	if isUniqueViolation(err) {
		return ErrDuplicatePair
	}
	return errors.Wrap(err, "create relationship")
}

// Update writes the directional ends and status of row in place. The write
// only lands while the stored status still equals expected.
func (s *Store) Update(ctx context.Context, row *model.Relationship, expected model.RelationshipStatus) error {
	res := s.db.WithContext(ctx).
		Model(&model.Relationship{}).
		Where("id = ? AND status = ?", row.ID, expected).
		Updates(map[string]interface{}{
			"requester_id": row.RequesterID,
			"addressee_id": row.AddresseeID,
			"status":       row.Status,
		})
	if res.Error != nil {
		return errors.Wrapf(res.Error, "update relationship %d", row.ID)
	}
	if res.RowsAffected == 0 {
		return ErrStaleRow
	}
	return nil
}

// Delete hard-deletes the row with id while its status equals expected.
func (s *Store) Delete(ctx context.Context, id int64, expected model.RelationshipStatus) error {
	res := s.db.WithContext(ctx).Where("status = ?", expected).Delete(&model.Relationship{}, id)
	if res.Error != nil {
		return errors.Wrapf(res.Error, "delete relationship %d", id)
	}
	if res.RowsAffected == 0 {
		return ErrStaleRow
	}
	return nil
}

// ListByUser returns rows touching userID with the given status, ordered by id.
func (s *Store) ListByUser(ctx context.Context, userID int64, status model.RelationshipStatus) ([]model.Relationship, error) {
	var rows []model.Relationship
	err := s.db.WithContext(ctx).
		Where("(requester_id = ? OR addressee_id = ?) AND status = ?", userID, userID, status).
		Order("id").
		Find(&rows).Error
	if err != nil {
		return nil, errors.Wrapf(err, "list %s relationships of %d", status, userID)
	}
	return rows, nil
}

// ListRequestedBy returns rows where userID is the requester.
func (s *Store) ListRequestedBy(ctx context.Context, userID int64, status model.RelationshipStatus) ([]model.Relationship, error) {
	var rows []model.Relationship
	err := s.db.WithContext(ctx).
		Where("requester_id = ? AND status = ?", userID, status).
		Order("id").
		Find(&rows).Error
	if err != nil {
		return nil, errors.Wrapf(err, "list %s relationships requested by %d", status, userID)
	}
	return rows, nil
}

// ListAddressedTo returns rows where userID is the addressee.
func (s *Store) ListAddressedTo(ctx context.Context, userID int64, status model.RelationshipStatus) ([]model.Relationship, error) {
	var rows []model.Relationship
	err := s.db.WithContext(ctx).
		Where("addressee_id = ? AND status = ?", userID, status).
		Order("id").
		Find(&rows).Error
	if err != nil {
		return nil, errors.Wrapf(err, "list %s relationships addressed to %d", status, userID)
	}
	return rows, nil
}

// PeersOf returns every user that shares a row with userID, any status.
func (s *Store) PeersOf(ctx context.Context, userID int64) ([]int64, error) {
	var rows []model.Relationship
	err := s.db.WithContext(ctx).
		Select("requester_id", "addressee_id").
		Where("requester_id = ? OR addressee_id = ?", userID, userID).
		Find(&rows).Error
	if err != nil {
		return nil, errors.Wrapf(err, "list peers of %d", userID)
	}
	peers := make([]int64, 0, len(rows))
	for i := range rows {
		peers = append(peers, OtherParty(&rows[i], userID))
	}
	return peers, nil
}

// CountByStatus returns the number of rows per status. Statuses without
// rows are reported as zero.
func (s *Store) CountByStatus(ctx context.Context) (map[model.RelationshipStatus]int64, error) {
	var rows []struct {
		Status model.RelationshipStatus
		N      int64
	}
	err := s.db.WithContext(ctx).
		Model(&model.Relationship{}).
		Select("status, count(*) AS n").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, errors.Wrap(err, "count relationships")
	}
	out := map[model.RelationshipStatus]int64{
		model.StatusPending:  0,
		model.StatusAccepted: 0,
		model.StatusBlocked:  0,
	}
	for _, r := range rows {
		out[r.Status] = r.N
	}
	return out, nil
}

// isUniqueViolation recognises duplicate-key errors from all three drivers.
// TranslateError covers the common case; the string match catches drivers
// or wrappers that bypass the translator.
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "Duplicate entry") ||
		strings.Contains(msg, "duplicate key value")
}
