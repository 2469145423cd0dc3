package integration

import (
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type friendJSON struct {
	ID             int64  `json:"id"`
	Online         bool   `json:"online"`
	Avatar         string `json:"avatar"`
	RelationshipID int64  `json:"relationship_id"`
	UnreadCount    int64  `json:"unread_count"`
	LastMessage    *struct {
		SenderID int64  `json:"sender_id"`
		Content  string `json:"content"`
	} `json:"last_message"`
}

type entryJSON struct {
	RelationshipID int64 `json:"relationship_id"`
	User           struct {
		ID int64 `json:"id"`
	} `json:"user"`
}

type errorJSON struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

func (ts *TestServer) friendsOf(t *testing.T, u User) []friendJSON {
	t.Helper()
	resp := ts.Get(t, "/api/friends", u.Token)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out struct {
		Friends []friendJSON `json:"friends"`
	}
	ReadJSON(t, resp, &out)
	return out.Friends
}

func expectError(t *testing.T, resp *http.Response, status int, kind, msg string) {
	t.Helper()
	require.Equal(t, status, resp.StatusCode)
	var body errorJSON
	ReadJSON(t, resp, &body)
	assert.Equal(t, kind, body.Kind)
	if msg != "" {
		assert.Equal(t, msg, body.Error)
	}
}

func TestFriendshipFlowWithNotifications(t *testing.T) {
	ts := NewTestServer(t)
	defer ts.Close()

	alice := ts.NewUser(t, "alice")
	bob := ts.NewUser(t, "bob")

	bobWS := ts.ConnectWS(t, bob.Token)
	defer bobWS.Close()
	aliceSSE := ts.ConnectSSE(t, alice.Token)
	defer aliceSSE.Close()

	// Request → bob is told who asked.
	resp := ts.PostJSON(t, "/api/relationships/requests", map[string]int64{"target_id": bob.ID}, alice.Token)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created struct {
		Relationship struct {
			ID     int64  `json:"id"`
			Status string `json:"status"`
		} `json:"relationship"`
	}
	ReadJSON(t, resp, &created)
	assert.Equal(t, "pending", created.Relationship.Status)

	ev := bobWS.RecvEvent("newFriendRequest", 5*time.Second)
	data := ev["data"].(map[string]interface{})
	assert.Equal(t, float64(created.Relationship.ID), data["relationship_id"])
	assert.Equal(t, float64(alice.ID), data["from"].(map[string]interface{})["id"])

	// Lists before acceptance.
	resp = ts.Get(t, "/api/relationships/requests/received", bob.Token)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var received struct {
		Requests []entryJSON `json:"requests"`
	}
	ReadJSON(t, resp, &received)
	require.Len(t, received.Requests, 1)
	assert.Equal(t, alice.ID, received.Requests[0].User.ID)

	resp = ts.Get(t, "/api/relationships/requests/sent", alice.Token)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var sent struct {
		Requests []entryJSON `json:"requests"`
	}
	ReadJSON(t, resp, &sent)
	require.Len(t, sent.Requests, 1)
	assert.Equal(t, bob.ID, sent.Requests[0].User.ID)

	// Accept → alice hears over SSE, bob over WS.
	resp = ts.PostJSON(t, fmt.Sprintf("/api/relationships/requests/%d/respond", created.Relationship.ID),
		map[string]string{"action": "accept"}, bob.Token)
	ExpectStatus(t, resp, http.StatusOK)

	env := aliceSSE.NextData(t, 5*time.Second)
	assert.Equal(t, "friendRequestAccepted", env["event"])
	friend := env["data"].(map[string]interface{})["friend"].(map[string]interface{})
	assert.Equal(t, float64(bob.ID), friend["id"])

	ev = bobWS.RecvEvent("newFriendAdded", 5*time.Second)
	data = ev["data"].(map[string]interface{})
	assert.Equal(t, true, data["is_new_friend"])
	assert.Equal(t, float64(alice.ID), data["friend"].(map[string]interface{})["id"])

	// Bob is connected, so alice sees him online with a placeholder avatar.
	fl := ts.friendsOf(t, alice)
	require.Len(t, fl, 1)
	assert.Equal(t, bob.ID, fl[0].ID)
	assert.True(t, fl[0].Online)
	assert.Equal(t, created.Relationship.ID, fl[0].RelationshipID)
	assert.Contains(t, fl[0].Avatar, "/avatars/placeholder/")
	assert.Nil(t, fl[0].LastMessage)

	// Messages feed unread counts and last message.
	for _, text := range []string{"hi", "are you there?"} {
		resp = ts.PostJSON(t, "/api/messages", map[string]interface{}{"to_id": bob.ID, "content": text}, alice.Token)
		ExpectStatus(t, resp, http.StatusCreated)
	}
	fl = ts.friendsOf(t, bob)
	require.Len(t, fl, 1)
	assert.Equal(t, int64(2), fl[0].UnreadCount)
	require.NotNil(t, fl[0].LastMessage)
	assert.Equal(t, "are you there?", fl[0].LastMessage.Content)
	assert.Equal(t, alice.ID, fl[0].LastMessage.SenderID)
	assert.True(t, fl[0].Online, "alice holds an SSE stream")

	// mark_read over the socket clears the counter.
	bobWS.Send("mark_read", map[string]int64{"peer_id": alice.ID})
	assert.Eventually(t, func() bool {
		fl := ts.friendsOf(t, bob)
		return len(fl) == 1 && fl[0].UnreadCount == 0
	}, 5*time.Second, 50*time.Millisecond)

	// Remove → bob is told, both lists empty.
	resp = ts.PostJSON(t, "/api/relationships/remove", map[string]int64{"target_id": bob.ID}, alice.Token)
	ExpectStatus(t, resp, http.StatusOK)
	ev = bobWS.RecvEvent("friendRemoved", 5*time.Second)
	assert.Equal(t, float64(alice.ID), ev["data"].(map[string]interface{})["user_id"])
	assert.Empty(t, ts.friendsOf(t, alice))
	assert.Empty(t, ts.friendsOf(t, bob))
}

func TestOnlineAfterSSE(t *testing.T) {
	ts := NewTestServer(t)
	defer ts.Close()

	a := ts.NewUser(t, "a")
	b := ts.NewUser(t, "b")
	ts.Befriend(t, a, b)

	assert.False(t, ts.friendsOf(t, a)[0].Online)

	sc := ts.ConnectSSE(t, b.Token)
	assert.True(t, ts.friendsOf(t, a)[0].Online)
	sc.Close()

	assert.Eventually(t, func() bool {
		return !ts.friendsOf(t, a)[0].Online
	}, 5*time.Second, 50*time.Millisecond)
}

func TestRelationshipErrors(t *testing.T) {
	ts := NewTestServer(t)
	defer ts.Close()

	a := ts.NewUser(t, "a")
	b := ts.NewUser(t, "b")

	resp := ts.PostJSON(t, "/api/relationships/requests", map[string]int64{"target_id": a.ID}, a.Token)
	expectError(t, resp, http.StatusBadRequest, "InvalidOperation", "")

	resp = ts.PostJSON(t, "/api/relationships/requests", map[string]int64{"target_id": 987654}, a.Token)
	expectError(t, resp, http.StatusNotFound, "NotFound", "")

	resp = ts.PostJSON(t, "/api/relationships/requests", map[string]int64{"target_id": b.ID}, a.Token)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created struct {
		Relationship struct {
			ID int64 `json:"id"`
		} `json:"relationship"`
	}
	ReadJSON(t, resp, &created)
	reqPath := fmt.Sprintf("/api/relationships/requests/%d", created.Relationship.ID)

	resp = ts.PostJSON(t, "/api/relationships/requests", map[string]int64{"target_id": b.ID}, a.Token)
	expectError(t, resp, http.StatusConflict, "Conflict", "friend request already exists")
	resp = ts.PostJSON(t, "/api/relationships/requests", map[string]int64{"target_id": a.ID}, b.Token)
	expectError(t, resp, http.StatusConflict, "Conflict", "friend request already exists")

	resp = ts.PostJSON(t, reqPath+"/respond", map[string]string{"action": "maybe"}, b.Token)
	expectError(t, resp, http.StatusBadRequest, "InvalidOperation", "")
	resp = ts.PostJSON(t, reqPath+"/respond", map[string]string{"action": "accept"}, a.Token)
	expectError(t, resp, http.StatusForbidden, "Forbidden", "")
	resp = ts.PostJSON(t, "/api/relationships/requests/999999/respond", map[string]string{"action": "accept"}, b.Token)
	expectError(t, resp, http.StatusNotFound, "NotFound", "")
	resp = ts.PostJSON(t, "/api/relationships/requests/abc/respond", map[string]string{"action": "accept"}, b.Token)
	ExpectStatus(t, resp, http.StatusBadRequest)

	resp = ts.PostJSON(t, reqPath+"/cancel", nil, b.Token)
	expectError(t, resp, http.StatusNotFound, "NotFound", "")

	resp = ts.PostJSON(t, "/api/relationships/remove", map[string]int64{"target_id": b.ID}, a.Token)
	expectError(t, resp, http.StatusNotFound, "NotFound", "")

	resp = ts.PostJSON(t, "/api/relationships/unblock", map[string]int64{"target_id": b.ID}, a.Token)
	expectError(t, resp, http.StatusUnauthorized, "Unauthorized", "")

	// Cancel by the requester succeeds and frees the pair.
	resp = ts.PostJSON(t, reqPath+"/cancel", nil, a.Token)
	ExpectStatus(t, resp, http.StatusOK)
	resp = ts.PostJSON(t, "/api/relationships/requests", map[string]int64{"target_id": a.ID}, b.Token)
	ExpectStatus(t, resp, http.StatusCreated)

	resp = ts.PostJSON(t, "/api/relationships/requests", map[string]int64{"target_id": b.ID}, "")
	ExpectStatus(t, resp, http.StatusUnauthorized)
}

func TestDeclineNotifiesRequester(t *testing.T) {
	ts := NewTestServer(t)
	defer ts.Close()

	a := ts.NewUser(t, "a")
	b := ts.NewUser(t, "b")
	aWS := ts.ConnectWS(t, a.Token)
	defer aWS.Close()

	resp := ts.PostJSON(t, "/api/relationships/requests", map[string]int64{"target_id": b.ID}, a.Token)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created struct {
		Relationship struct {
			ID int64 `json:"id"`
		} `json:"relationship"`
	}
	ReadJSON(t, resp, &created)

	resp = ts.PostJSON(t, fmt.Sprintf("/api/relationships/requests/%d/respond", created.Relationship.ID),
		map[string]string{"action": "decline"}, b.Token)
	ExpectStatus(t, resp, http.StatusOK)

	ev := aWS.RecvEvent("friendRequestDeclined", 5*time.Second)
	assert.Equal(t, float64(created.Relationship.ID), ev["data"].(map[string]interface{})["relationship_id"])

	// The pair is free again.
	resp = ts.PostJSON(t, "/api/relationships/requests", map[string]int64{"target_id": b.ID}, a.Token)
	ExpectStatus(t, resp, http.StatusCreated)
}

func TestBlockFlow(t *testing.T) {
	ts := NewTestServer(t)
	defer ts.Close()

	a := ts.NewUser(t, "a")
	b := ts.NewUser(t, "b")
	c := ts.NewUser(t, "c")
	bWS := ts.ConnectWS(t, b.Token)
	defer bWS.Close()

	resp := ts.PostJSON(t, "/api/relationships/block", map[string]int64{"target_id": b.ID}, a.Token)
	ExpectStatus(t, resp, http.StatusCreated)
	ev := bWS.RecvEvent("youWereBlocked", 5*time.Second)
	assert.Equal(t, float64(a.ID), ev["data"].(map[string]interface{})["blocker_id"])

	resp = ts.PostJSON(t, "/api/relationships/requests", map[string]int64{"target_id": a.ID}, b.Token)
	expectError(t, resp, http.StatusConflict, "Conflict", "relationship is blocked")

	resp = ts.Get(t, "/api/relationships/blocked", a.Token)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var blocked struct {
		Blocked []entryJSON `json:"blocked"`
	}
	ReadJSON(t, resp, &blocked)
	require.Len(t, blocked.Blocked, 1)
	assert.Equal(t, b.ID, blocked.Blocked[0].User.ID)

	// Suggestions skip blocked users.
	resp = ts.Get(t, "/api/users/suggested", a.Token)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var suggested struct {
		Users []struct {
			ID int64 `json:"id"`
		} `json:"users"`
	}
	ReadJSON(t, resp, &suggested)
	require.Len(t, suggested.Users, 1)
	assert.Equal(t, c.ID, suggested.Users[0].ID)

	// Blocking again overwrites the row.
	resp = ts.PostJSON(t, "/api/relationships/block", map[string]int64{"target_id": b.ID}, a.Token)
	ExpectStatus(t, resp, http.StatusOK)

	// Only the blocker can lift it.
	resp = ts.PostJSON(t, "/api/relationships/unblock", map[string]int64{"target_id": a.ID}, b.Token)
	expectError(t, resp, http.StatusUnauthorized, "Unauthorized", "")

	resp = ts.PostJSON(t, "/api/relationships/unblock", map[string]int64{"target_id": b.ID}, a.Token)
	ExpectStatus(t, resp, http.StatusOK)
	ev = bWS.RecvEvent("youWereUnblocked", 5*time.Second)
	assert.Equal(t, float64(a.ID), ev["data"].(map[string]interface{})["unblocker_id"])

	resp = ts.PostJSON(t, "/api/relationships/requests", map[string]int64{"target_id": a.ID}, b.Token)
	ExpectStatus(t, resp, http.StatusCreated)
}

func TestBlockExistingFriendship(t *testing.T) {
	ts := NewTestServer(t)
	defer ts.Close()

	a := ts.NewUser(t, "a")
	b := ts.NewUser(t, "b")
	ts.Befriend(t, a, b)

	resp := ts.PostJSON(t, "/api/relationships/block", map[string]int64{"target_id": a.ID}, b.Token)
	ExpectStatus(t, resp, http.StatusOK)

	assert.Empty(t, ts.friendsOf(t, a))
	assert.Empty(t, ts.friendsOf(t, b))
}

func TestMessageValidation(t *testing.T) {
	ts := NewTestServer(t)
	defer ts.Close()

	a := ts.NewUser(t, "a")

	resp := ts.PostJSON(t, "/api/messages", map[string]interface{}{"to_id": a.ID, "content": "me"}, a.Token)
	ExpectStatus(t, resp, http.StatusBadRequest)
	resp = ts.PostJSON(t, "/api/messages", map[string]interface{}{"to_id": 424242, "content": "x"}, a.Token)
	expectError(t, resp, http.StatusNotFound, "NotFound", "")
	resp = ts.PostJSON(t, "/api/messages", map[string]interface{}{"to_id": a.ID}, a.Token)
	ExpectStatus(t, resp, http.StatusBadRequest)
	resp = ts.PostJSON(t, "/api/messages/read", map[string]interface{}{"peer_id": 0}, a.Token)
	ExpectStatus(t, resp, http.StatusBadRequest)
}
