package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	keys    []string
	headers []map[string]string
	err     error
}

func (p *recordingPublisher) PublishWithHeaders(ctx context.Context, routingKey string, message interface{}, headers map[string]string) error {
	p.keys = append(p.keys, routingKey)
	p.headers = append(p.headers, headers)
	return p.err
}

func TestSessionTokenPrecedence(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/ws?token=query", nil)
	assert.Equal(t, "query", SessionToken(req, "session-token"))

	req.Header.Set("Authorization", "Bearer header")
	assert.Equal(t, "header", SessionToken(req, "session-token"))

	req.AddCookie(&http.Cookie{Name: "session-token", Value: "cookie"})
	assert.Equal(t, "cookie", SessionToken(req, "session-token"))
}

func TestBearerTokenRejectsOtherSchemes(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Basic abc")
	assert.Empty(t, BearerToken(req))
}

func TestWSEventPayload(t *testing.T) {
	env := WSEvent(WSDisconnect, "c1", WSIdentity{UserID: "u1", IP: "10.0.0.1"}, time.Now().Add(-time.Second), "bye")
	assert.Equal(t, "ws_events", env.EventType)
	assert.Equal(t, WSDisconnect, env.EventName)

	payload := env.Payload.(map[string]interface{})
	ws := payload["ws"].(map[string]interface{})
	assert.Equal(t, "c1", ws["conn_id"])
	assert.GreaterOrEqual(t, ws["duration_ms"].(int64), int64(1000))
}

func TestPublishEventUsesDefaultPublisher(t *testing.T) {
	pub := &recordingPublisher{}
	SetPublisher(pub)
	t.Cleanup(func() { SetPublisher(nil) })

	err := PublishEvent(context.Background(), RoutingKeyWS, WSEvent(WSConnect, "c1", WSIdentity{}, time.Now(), ""), BuildHeaders("r1", ""))
	require.NoError(t, err)
	assert.Equal(t, []string{RoutingKeyWS}, pub.keys)
	assert.Equal(t, map[string]string{"x-request-id": "r1"}, pub.headers[0])
}

func TestPublishEventWithoutPublisher(t *testing.T) {
	SetPublisher(nil)
	assert.NoError(t, PublishEvent(context.Background(), RoutingKeyWS, nil, nil))
}
