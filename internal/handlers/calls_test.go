package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"chat-realtime/internal/calls"
	"chat-realtime/internal/middleware"
	"chat-realtime/internal/mocks"
)

func setupCallRouter(handler *CallHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(middleware.UserIDKey, "u1")
		c.Next()
	})
	r.GET("/calls/current", handler.CurrentCall)
	return r
}

func TestCurrentCallIdle(t *testing.T) {
	states := new(mocks.CallStateMock)
	states.On("State", mock.Anything, "u1").Return(nil, false, nil).Once()

	rec := httptest.NewRecorder()
	setupCallRouter(NewCallHandler(states)).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/calls/current", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "idle", gjson.Get(rec.Body.String(), "state").String())
	assert.Equal(t, gjson.Null, gjson.Get(rec.Body.String(), "call").Type)
	states.AssertExpectations(t)
}

func TestCurrentCallActive(t *testing.T) {
	states := new(mocks.CallStateMock)
	states.On("State", mock.Anything, "u1").Return(calls.Session{
		ID: "s1", UserID: "u1", PeerID: "u2", Role: calls.RoleCaller, State: calls.StateCalling,
	}, true, nil).Once()

	rec := httptest.NewRecorder()
	setupCallRouter(NewCallHandler(states)).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/calls/current", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Equal(t, "calling", gjson.Get(body, "state").String())
	assert.Equal(t, "u2", gjson.Get(body, "call.peerId").String())
	assert.Equal(t, "s1", gjson.Get(body, "call.id").String())
}

func TestCurrentCallStoreError(t *testing.T) {
	states := new(mocks.CallStateMock)
	states.On("State", mock.Anything, "u1").Return(nil, false, assert.AnError).Once()

	rec := httptest.NewRecorder()
	setupCallRouter(NewCallHandler(states)).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/calls/current", nil))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
}
