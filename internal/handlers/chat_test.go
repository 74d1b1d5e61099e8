package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"chat-realtime/internal/events"
	"chat-realtime/internal/middleware"
	"chat-realtime/internal/mocks"
	"chat-realtime/internal/models"
	"chat-realtime/internal/realtime"
	"chat-realtime/internal/repositories"
)

type relayMock struct {
	mock.Mock
}

func (m *relayMock) SendMessage(ctx context.Context, from realtime.Sender, in events.SendMessage) (models.Message, error) {
	args := m.Called(ctx, from, in)
	return in.Message, args.Error(0)
}

type statusMock struct {
	mock.Mock
}

func (m *statusMock) Update(ctx context.Context, updates []models.StatusUpdate) error {
	args := m.Called(ctx, updates)
	return args.Error(0)
}

func setupChatRouter(handler *ChatHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(middleware.UserIDKey, "u1")
		c.Set(middleware.UserNameKey, "Ann")
		c.Next()
	})
	r.POST("/chats/:chat_id/messages", handler.PostChatMessage)
	r.POST("/messages/status", handler.PostStatus)
	return r
}

func TestPostChatMessageSuccess(t *testing.T) {
	dir := new(mocks.DirectoryMock)
	relay := new(relayMock)
	router := setupChatRouter(NewChatHandler(dir, relay, nil, nil))

	dir.On("ChatParticipants", mock.Anything, "c5").Return([]string{"u1", "u2"}, nil).Once()
	relay.On("SendMessage", mock.Anything, realtime.Sender{ID: "u1", Name: "Ann"}, mock.MatchedBy(func(in events.SendMessage) bool {
		return in.RoomID == "c5" && in.Message.Content == "hi" && in.Message.ID == "m7" && len(in.Participants) == 2
	})).Return(nil).Once()

	req := httptest.NewRequest(http.MethodPost, "/chats/c5/messages", bytes.NewBufferString(`{"_id":"m7","content":"hi"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, true, resp["persisted"])
	dir.AssertExpectations(t)
	relay.AssertExpectations(t)
}

func TestPostChatMessageNotPersisted(t *testing.T) {
	dir := new(mocks.DirectoryMock)
	relay := new(relayMock)
	router := setupChatRouter(NewChatHandler(dir, relay, nil, nil))

	dir.On("ChatParticipants", mock.Anything, "c5").Return([]string{"u1", "u2"}, nil).Once()
	relay.On("SendMessage", mock.Anything, mock.Anything, mock.Anything).
		Return(fmt.Errorf("%w: broker down", realtime.ErrNotPersisted)).Once()

	req := httptest.NewRequest(http.MethodPost, "/chats/c5/messages", bytes.NewBufferString(`{"content":"hi"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, false, resp["persisted"])
	relay.AssertExpectations(t)
}

func TestPostChatMessageNotMember(t *testing.T) {
	dir := new(mocks.DirectoryMock)
	relay := new(relayMock)
	router := setupChatRouter(NewChatHandler(dir, relay, nil, nil))

	dir.On("ChatParticipants", mock.Anything, "c5").Return([]string{"u2", "u3"}, nil).Once()

	req := httptest.NewRequest(http.MethodPost, "/chats/c5/messages", bytes.NewBufferString(`{"content":"hi"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusForbidden, rec.Code)
	relay.AssertNotCalled(t, "SendMessage", mock.Anything, mock.Anything, mock.Anything)
}

func TestPostChatMessageChatNotFound(t *testing.T) {
	dir := new(mocks.DirectoryMock)
	router := setupChatRouter(NewChatHandler(dir, new(relayMock), nil, nil))

	dir.On("ChatParticipants", mock.Anything, "nope").Return(nil, repositories.ErrChatNotFound).Once()

	req := httptest.NewRequest(http.MethodPost, "/chats/nope/messages", bytes.NewBufferString(`{"content":"hi"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPostChatMessageWithoutDirectoryUsesBody(t *testing.T) {
	relay := new(relayMock)
	router := setupChatRouter(NewChatHandler(nil, relay, nil, nil))

	relay.On("SendMessage", mock.Anything, mock.Anything, mock.MatchedBy(func(in events.SendMessage) bool {
		return assert.ObjectsAreEqual([]string{"u1", "u9"}, in.Participants)
	})).Return(nil).Once()

	req := httptest.NewRequest(http.MethodPost, "/chats/c5/messages", bytes.NewBufferString(`{"content":"hi","participants":["u1","u9"]}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	relay.AssertExpectations(t)
}

func TestPostChatMessageEmptyBody(t *testing.T) {
	router := setupChatRouter(NewChatHandler(nil, new(relayMock), nil, nil))

	req := httptest.NewRequest(http.MethodPost, "/chats/c5/messages", bytes.NewBufferString(`{"participants":["u1"]}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPostStatusSuccess(t *testing.T) {
	status := new(statusMock)
	router := setupChatRouter(NewChatHandler(nil, nil, status, nil))

	status.On("Update", mock.Anything, []models.StatusUpdate{
		{MessageID: "m1", Status: models.StatusSeen, RoomID: "c1", SenderID: "u2"},
	}).Return(nil).Once()

	body := `[{"messageId":"m1","status":"seen","roomId":"c1","senderId":"u2"}]`
	req := httptest.NewRequest(http.MethodPost, "/messages/status", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	status.AssertExpectations(t)
}

func TestPostStatusRejectsUnknownStatus(t *testing.T) {
	status := new(statusMock)
	router := setupChatRouter(NewChatHandler(nil, nil, status, nil))

	body := `[{"messageId":"m1","status":"read","senderId":"u2"}]`
	req := httptest.NewRequest(http.MethodPost, "/messages/status", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	status.AssertNotCalled(t, "Update", mock.Anything, mock.Anything)
}

func TestPostStatusQueueError(t *testing.T) {
	status := new(statusMock)
	router := setupChatRouter(NewChatHandler(nil, nil, status, nil))
	status.On("Update", mock.Anything, mock.Anything).Return(assert.AnError).Once()

	body := `[{"messageId":"m1","status":"seen","senderId":"u2"}]`
	req := httptest.NewRequest(http.MethodPost, "/messages/status", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
}
