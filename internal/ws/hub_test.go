package ws

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(userID string) *Client {
	return NewClient(nil, ConnInfo{UserID: userID}, ClientOptions{SendBuffer: 4})
}

func TestHubRegisterAndUnregister(t *testing.T) {
	hub := NewHub()
	a := newTestClient("u1")
	b := newTestClient("u1")

	hub.Register("u1", a)
	hub.Register("u1", b)
	require.Len(t, hub.Connections("u1"), 2)
	assert.True(t, hub.Online("u1"))

	assert.Equal(t, 1, hub.Unregister("u1", a.ID()))
	assert.Equal(t, []*Client{b}, hub.Connections("u1"))

	assert.Equal(t, 0, hub.Unregister("u1", b.ID()))
	_, present := hub.users["u1"]
	assert.False(t, present, "user key must be deleted with the last connection")
	assert.False(t, hub.Online("u1"))
	assert.Nil(t, hub.Connections("u1"))
}

func TestHubUnregisterUnknown(t *testing.T) {
	hub := NewHub()
	assert.Equal(t, 0, hub.Unregister("ghost", "nope"))

	c := newTestClient("u1")
	hub.Register("u1", c)
	assert.Equal(t, 1, hub.Unregister("u1", "other-conn"))
	assert.Equal(t, 1, hub.Users())
}

func TestHubConnectionsIsSnapshot(t *testing.T) {
	hub := NewHub()
	c := newTestClient("u1")
	hub.Register("u1", c)

	snap := hub.Connections("u1")
	snap[0] = nil
	assert.Equal(t, c, hub.Connections("u1")[0])
}

func TestHubRooms(t *testing.T) {
	hub := NewHub()
	a := newTestClient("u1")
	b := newTestClient("u2")
	hub.Register("u1", a)
	hub.Register("u2", b)

	hub.Join(a, "chat-1")
	hub.Join(b, "chat-1")
	hub.Join(a, "chat-2")
	hub.Join(a, "")
	assert.ElementsMatch(t, []*Client{a, b}, hub.RoomMembers("chat-1"))
	assert.ElementsMatch(t, []string{"chat-1", "chat-2"}, hub.Rooms(a))

	hub.Leave(b, "chat-1")
	assert.Equal(t, []*Client{a}, hub.RoomMembers("chat-1"))

	hub.Unregister("u1", a.ID())
	assert.Empty(t, hub.rooms, "rooms are dropped when their last member leaves")
	assert.Nil(t, hub.RoomMembers("chat-2"))
}

func TestHubCloseAll(t *testing.T) {
	hub := NewHub()
	a := newTestClient("u1")
	b := newTestClient("u2")
	hub.Register("u1", a)
	hub.Register("u2", b)

	hub.CloseAll()
	assert.True(t, a.Closed())
	assert.True(t, b.Closed())
}
