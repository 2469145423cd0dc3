package model

import (
	"errors"
	"time"

	"gorm.io/gorm"
)

// RelationshipStatus is the state of a user pair that has a row.
// No row means no relationship.
type RelationshipStatus string

const (
	StatusPending  RelationshipStatus = "pending"
	StatusAccepted RelationshipStatus = "accepted"
	StatusBlocked  RelationshipStatus = "blocked"
)

// ErrSelfRelationship is returned by the store when both ends are the same user.
var ErrSelfRelationship = errors.New("model: relationship with self")

// Relationship is the single edge between two users.
//
// RequesterID/AddresseeID are directional: who sent the request, or who
// imposed the most recent block. PairLow/PairHigh hold the same two ids in
// ascending order and carry the unique index that allows at most one row
// per unordered pair.
type Relationship struct {
	ID          int64              `gorm:"primaryKey;autoIncrement" json:"id"`
	RequesterID int64              `gorm:"index:idx_relationship_requester;not null" json:"requester_id"`
	AddresseeID int64              `gorm:"index:idx_relationship_addressee;not null" json:"addressee_id"`
	Status      RelationshipStatus `gorm:"size:16;not null" json:"status"`
	PairLow     int64              `gorm:"uniqueIndex:uniq_relationship_pair,priority:1;not null" json:"-"`
	PairHigh    int64              `gorm:"uniqueIndex:uniq_relationship_pair,priority:2;not null" json:"-"`
	CreatedAt   time.Time          `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time          `gorm:"autoUpdateTime" json:"updated_at"`
}

// BeforeCreate fills the canonical pair columns.
func (r *Relationship) BeforeCreate(_ *gorm.DB) error {
	if r.RequesterID == r.AddresseeID {
		return ErrSelfRelationship
	}
	r.PairLow, r.PairHigh = r.RequesterID, r.AddresseeID
	if r.PairLow > r.PairHigh {
		r.PairLow, r.PairHigh = r.PairHigh, r.PairLow
	}
	return nil
}

// Involves reports whether userID is one of the two ends.
func (r *Relationship) Involves(userID int64) bool {
	return r.RequesterID == userID || r.AddresseeID == userID
}
