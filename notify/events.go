package notify

import (
	"strconv"

	"github.com/kasuganosora/socialgraph/model"
	"github.com/kasuganosora/socialgraph/relation"
)

// Event names published on user channels.
const (
	EventNewFriendRequest       = "newFriendRequest"
	EventFriendRequestAccepted  = "friendRequestAccepted"
	EventNewFriendAdded         = "newFriendAdded"
	EventFriendRequestDeclined  = "friendRequestDeclined"
	EventFriendRequestCancelled = "friendRequestCancelled"
	EventFriendRemoved          = "friendRemoved"
	EventYouWereBlocked         = "youWereBlocked"
	EventYouWereUnblocked       = "youWereUnblocked"
)

// ChannelFunc maps a user id to its channel name.
type ChannelFunc func(userID int64) string

// UserChannel is the default channel naming: "user_<id>".
func UserChannel(userID int64) string {
	return "user_" + strconv.FormatInt(userID, 10)
}

// PrefixChannel returns a ChannelFunc that names channels prefix+id.
func PrefixChannel(prefix string) ChannelFunc {
	if prefix == "" || prefix == "user_" {
		return UserChannel
	}
	return func(userID int64) string {
		return prefix + strconv.FormatInt(userID, 10)
	}
}

// Profile is the public projection of a user carried in event payloads.
type Profile struct {
	ID          int64  `json:"id"`
	Username    string `json:"username,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	Avatar      string `json:"avatar,omitempty"`
}

// ProfileOf projects u. A nil user yields an id-only profile.
func ProfileOf(id int64, u *model.User) Profile {
	if u == nil {
		return Profile{ID: id}
	}
	return Profile{ID: u.ID, Username: u.Username, DisplayName: u.Name(), Avatar: u.Avatar}
}

// Event is one addressed notification.
type Event struct {
	Recipient int64
	Name      string
	Data      interface{}
}

type requestPayload struct {
	RelationshipID int64   `json:"relationship_id"`
	From           Profile `json:"from"`
}

type newFriendPayload struct {
	RelationshipID int64   `json:"relationship_id"`
	Friend         Profile `json:"friend"`
	IsNewFriend    bool    `json:"is_new_friend"`
}

type relationshipPayload struct {
	RelationshipID int64 `json:"relationship_id"`
}

type userPayload struct {
	UserID int64 `json:"user_id"`
}

type blockerPayload struct {
	BlockerID int64 `json:"blocker_id"`
}

type unblockerPayload struct {
	UnblockerID int64 `json:"unblocker_id"`
}

// Events maps a committed transition to the events it produces. profiles
// may lack entries; missing users degrade to id-only profiles.
func Events(t relation.Transition, profiles map[int64]*model.User) []Event {
	row := t.Row
	switch t.Action {
	case relation.ActionRequest:
		return []Event{{
			Recipient: row.AddresseeID,
			Name:      EventNewFriendRequest,
			Data: requestPayload{
				RelationshipID: row.ID,
				From:           ProfileOf(row.RequesterID, profiles[row.RequesterID]),
			},
		}}
	case relation.ActionAccept:
		return []Event{
			{
				Recipient: row.RequesterID,
				Name:      EventFriendRequestAccepted,
				Data: newFriendPayload{
					RelationshipID: row.ID,
					Friend:         ProfileOf(row.AddresseeID, profiles[row.AddresseeID]),
					IsNewFriend:    true,
				},
			},
			{
				Recipient: row.AddresseeID,
				Name:      EventNewFriendAdded,
				Data: newFriendPayload{
					RelationshipID: row.ID,
					Friend:         ProfileOf(row.RequesterID, profiles[row.RequesterID]),
					IsNewFriend:    true,
				},
			},
		}
	case relation.ActionDecline:
		return []Event{{
			Recipient: row.RequesterID,
			Name:      EventFriendRequestDeclined,
			Data:      relationshipPayload{RelationshipID: row.ID},
		}}
	case relation.ActionCancel:
		return []Event{{
			Recipient: row.AddresseeID,
			Name:      EventFriendRequestCancelled,
			Data:      relationshipPayload{RelationshipID: row.ID},
		}}
	case relation.ActionRemove:
		return []Event{{
			Recipient: relation.OtherParty(&row, t.Actor),
			Name:      EventFriendRemoved,
			Data:      userPayload{UserID: t.Actor},
		}}
	case relation.ActionBlock:
		// Blocking over an existing row stays silent.
		if !t.Created {
			return nil
		}
		return []Event{{
			Recipient: row.AddresseeID,
			Name:      EventYouWereBlocked,
			Data:      blockerPayload{BlockerID: t.Actor},
		}}
	case relation.ActionUnblock:
		return []Event{{
			Recipient: row.AddresseeID,
			Name:      EventYouWereUnblocked,
			Data:      unblockerPayload{UnblockerID: t.Actor},
		}}
	}
	return nil
}

// profileIDs lists the users whose profiles a transition's payloads carry.
func profileIDs(t relation.Transition) []int64 {
	switch t.Action {
	case relation.ActionRequest:
		return []int64{t.Row.RequesterID}
	case relation.ActionAccept:
		return []int64{t.Row.RequesterID, t.Row.AddresseeID}
	}
	return nil
}
