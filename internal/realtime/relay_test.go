package realtime

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"chat-realtime/internal/events"
	"chat-realtime/internal/mocks"
	"chat-realtime/internal/models"
	"chat-realtime/internal/rabbitmq"
)

func TestSendMessageOrdersStopTypingBeforeMessage(t *testing.T) {
	n := newNode(t, sharedPubSub(t), "node-a")
	sender := n.connect("u1")
	peer := n.connect("u2")
	n.hub.Join(sender, "c1")
	n.hub.Join(peer, "c1")

	queue := new(mocks.PublisherMock)
	queue.On("Publish", mock.Anything, rabbitmq.TopicMessageInsert, mock.MatchedBy(func(job models.MessageJob) bool {
		return job.Op == models.OpInsert && job.Message.ID == "m1" && job.Message.SenderID == "u1"
	})).Return(nil).Once()
	queue.On("Publish", mock.Anything, rabbitmq.TopicNotificationPush, mock.MatchedBy(func(job models.NotificationJob) bool {
		return job.MessageID == "m1" && assert.ObjectsAreEqual([]string{"u2"}, job.RecipientIDs)
	})).Return(nil).Once()

	relay := NewRelay(n.fanout, queue)
	msg, err := relay.SendMessage(context.Background(), Sender{ID: "u1", Name: "Ann"}, events.SendMessage{
		RoomID:       "c1",
		SenderID:     "mallory",
		Participants: []string{"u1", "u2"},
		Message:      models.Message{ID: "m1", Content: "hi", SenderID: "mallory"},
	})
	require.NoError(t, err)
	assert.Equal(t, "u1", msg.SenderID)
	assert.Equal(t, "c1", msg.ChatID)
	assert.Equal(t, models.StatusSent, msg.Status)
	assert.False(t, msg.CreatedAt.IsZero())

	n.flush(t, n)
	frames := drain(peer)
	require.Equal(t, []string{events.NameStopTyping, events.NameNewMessage}, eventNames(frames))
	assert.Equal(t, "Ann", gjson.Get(frames[0], "data.name").String())
	assert.Equal(t, "u1", gjson.Get(frames[1], "data.message.senderId").String())
	assert.Empty(t, drain(sender))
	queue.AssertExpectations(t)
}

func TestSendMessageEnqueueFailureKeepsFanOut(t *testing.T) {
	n := newNode(t, sharedPubSub(t), "node-a")
	peer := n.connect("u2")

	queue := new(mocks.PublisherMock)
	queue.On("Publish", mock.Anything, rabbitmq.TopicMessageInsert, mock.Anything).Return(assert.AnError).Once()

	relay := NewRelay(n.fanout, queue)
	_, err := relay.SendMessage(context.Background(), Sender{ID: "u1"}, events.SendMessage{
		RoomID:       "c1",
		Participants: []string{"u1", "u2"},
		Message:      models.Message{ID: "m1", ChatID: "c1"},
	})
	require.ErrorIs(t, err, ErrNotPersisted)
	assert.ErrorIs(t, err, assert.AnError)

	n.flush(t, n)
	assert.Equal(t, []string{events.NameNewMessage}, eventNames(drain(peer)))
	queue.AssertNotCalled(t, "Publish", mock.Anything, rabbitmq.TopicNotificationPush, mock.Anything)
}

func TestSendMessagePushFailureIsNotAnError(t *testing.T) {
	n := newNode(t, sharedPubSub(t), "node-a")

	queue := new(mocks.PublisherMock)
	queue.On("Publish", mock.Anything, rabbitmq.TopicMessageInsert, mock.Anything).Return(nil).Once()
	queue.On("Publish", mock.Anything, rabbitmq.TopicNotificationPush, mock.Anything).Return(assert.AnError).Once()

	_, err := NewRelay(n.fanout, queue).SendMessage(context.Background(), Sender{ID: "u1"}, events.SendMessage{
		RoomID:       "c1",
		Participants: []string{"u1", "u2"},
		Message:      models.Message{ID: "m1", ChatID: "c1"},
	})
	assert.NoError(t, err)
	queue.AssertExpectations(t)
}

func TestPreviewTruncatesByRune(t *testing.T) {
	assert.Equal(t, "short", preview("short"))
	long := strings.Repeat("é", previewRunes+5)
	got := preview(long)
	assert.Equal(t, previewRunes+1, len([]rune(got)))
	assert.True(t, strings.HasSuffix(got, "…"))
}
