package relation

import "github.com/kasuganosora/socialgraph/model"

// OtherParty returns the end of row that is not self.
func OtherParty(row *model.Relationship, self int64) int64 {
	if row.RequesterID == self {
		return row.AddresseeID
	}
	return row.RequesterID
}

// conflictMessage picks the Conflict message for an existing row.
func conflictMessage(row *model.Relationship) string {
	switch row.Status {
	case model.StatusAccepted:
		return MsgAlreadyFriends
	case model.StatusBlocked:
		return MsgBlocked
	default:
		return MsgRequestExists
	}
}
