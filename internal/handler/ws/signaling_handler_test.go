package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"callhub-backend/internal/domain"
	"callhub-backend/internal/middleware"
	"callhub-backend/internal/service/signaling"
	apperrors "callhub-backend/pkg/errors"
	"callhub-backend/pkg/fanout"
	"callhub-backend/pkg/jwt"
	"callhub-backend/pkg/metrics"
)

const testOrigin = "https://app.callhub.test"

type memorySubscriber struct {
	mu   sync.Mutex
	subs map[string]chan []byte
}

func newMemorySubscriber() *memorySubscriber {
	return &memorySubscriber{subs: make(map[string]chan []byte)}
}

func (s *memorySubscriber) Subscribe(_ context.Context, channels ...string) (Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := make(chan []byte, 8)
	for _, channel := range channels {
		s.subs[channel] = ch
	}
	return &memorySubscription{ch: ch}, nil
}

func (s *memorySubscriber) subscribed(channel string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.subs[channel]
	return ok
}

func (s *memorySubscriber) publish(t *testing.T, channel string, payload []byte) {
	t.Helper()
	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		_, ok := s.subs[channel]
		return ok
	}, time.Second, 10*time.Millisecond)

	s.mu.Lock()
	ch := s.subs[channel]
	s.mu.Unlock()
	ch <- payload
}

type memorySubscription struct {
	ch chan []byte
}

func (s *memorySubscription) Messages() <-chan []byte { return s.ch }
func (s *memorySubscription) Close() error            { return nil }

type recordingRelay struct {
	mu     sync.Mutex
	inputs []*signaling.RelayInput
	err    error
}

func (r *recordingRelay) Relay(_ context.Context, _ domain.Principal, in *signaling.RelayInput) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.inputs = append(r.inputs, in)
	return nil
}

func (r *recordingRelay) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.inputs)
}

func (r *recordingRelay) last() *signaling.RelayInput {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.inputs[len(r.inputs)-1]
}

type staticTokens map[string]*domain.GuestSignalingToken

func (s staticTokens) VerifySignalingToken(_ context.Context, token string) (*domain.GuestSignalingToken, error) {
	if t, ok := s[token]; ok {
		return t, nil
	}
	return nil, apperrors.InvalidTokenError("Invalid signaling token")
}

// memberships authorizes the conversations listed per user
type memberships map[uuid.UUID][]uuid.UUID

func (m memberships) AuthorizeConversation(_ context.Context, principal domain.Principal, conversationID uuid.UUID) error {
	userID, _ := principal.UserID()
	for _, id := range m[userID] {
		if id == conversationID {
			return nil
		}
	}
	return apperrors.NotFoundError("Conversation")
}

type hubFixture struct {
	server     *httptest.Server
	hub        *SignalingHub
	subscriber *memorySubscriber
	relay      *recordingRelay
	members    memberships
	jwt        *jwt.JWTManager
}

func newHubFixture(t *testing.T, tokens staticTokens) *hubFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	f := &hubFixture{
		subscriber: newMemorySubscriber(),
		relay:      &recordingRelay{},
		members:    memberships{},
		jwt:        jwt.NewJWTManager("test-secret-key-at-least-32-bytes!!", "callhub", time.Hour),
	}
	f.hub = NewSignalingHub(f.relay, f.subscriber, tokens, f.members, metrics.NewMetrics("test"), []string{testOrigin}, 2)

	router := gin.New()
	router.GET("/v1/signaling/ws", middleware.AuthMiddleware(f.jwt, nil), f.hub.ServeWS)
	router.GET("/v1/guest/signaling/ws", f.hub.ServeGuestWS)
	f.server = httptest.NewServer(router)

	t.Cleanup(func() {
		f.hub.Close()
		f.server.Close()
	})
	return f
}

func (f *hubFixture) dial(t *testing.T, path string, header http.Header) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	if header == nil {
		header = http.Header{}
	}
	header.Set("Origin", testOrigin)
	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + path
	return websocket.DefaultDialer.Dial(url, header)
}

func (f *hubFixture) bearer(t *testing.T, userID uuid.UUID) http.Header {
	t.Helper()
	token, err := f.jwt.GenerateAccessToken(userID, "alice", "user")
	require.NoError(t, err)
	return http.Header{"Authorization": {"Bearer " + token}}
}

func (f *hubFixture) dialUser(t *testing.T, userID uuid.UUID) *websocket.Conn {
	t.Helper()
	conn, _, err := f.dial(t, "/v1/signaling/ws", f.bearer(t, userID))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var frame map[string]any
	require.NoError(t, json.Unmarshal(data, &frame))
	return frame
}

func TestSignalingHub_UserReceivesEventsAndRelays(t *testing.T) {
	f := newHubFixture(t, nil)
	userID := uuid.New()
	conn := f.dialUser(t, userID)

	event, err := json.Marshal(&fanout.Event{Name: domain.EventSDP, UserID: &userID})
	require.NoError(t, err)
	f.subscriber.publish(t, fanout.UserChannel(userID), event)
	assert.Equal(t, domain.EventSDP, readFrame(t, conn)["event"])

	callID, peer := uuid.New(), uuid.New()
	require.NoError(t, conn.WriteJSON(map[string]any{
		"call_id": callID,
		"to":      map[string]any{"user_id": peer},
		"kind":    "offer",
		"sdp":     map[string]any{"type": "offer", "sdp": "v=0\r\n"},
	}))
	assert.Equal(t, FrameTypeAck, readFrame(t, conn)["type"])
	require.Equal(t, 1, f.relay.count())
	relayed := f.relay.last()
	assert.Equal(t, domain.OneToOneRef(callID), relayed.Call)
	assert.Equal(t, domain.UserAddressee(peer), relayed.To)
}

func TestSignalingHub_RelayErrorsBecomeErrorFrames(t *testing.T) {
	f := newHubFixture(t, nil)
	f.relay.err = apperrors.CallNotFoundError()
	conn := f.dialUser(t, uuid.New())

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	frame := readFrame(t, conn)
	assert.Equal(t, FrameTypeError, frame["type"])
	assert.Equal(t, string(apperrors.ErrCodeInvalidInput), frame["code"])

	require.NoError(t, conn.WriteJSON(map[string]any{
		"call_id":       uuid.New(),
		"group_call_id": uuid.New(),
		"to":            map[string]any{"user_id": uuid.New()},
		"kind":          "ice",
	}))
	assert.Equal(t, string(apperrors.ErrCodeInvalidInput), readFrame(t, conn)["code"])

	require.NoError(t, conn.WriteJSON(map[string]any{
		"call_id": uuid.New(),
		"to":      map[string]any{"user_id": uuid.New()},
		"kind":    "ice",
	}))
	assert.Equal(t, string(apperrors.ErrCodeCallNotFound), readFrame(t, conn)["code"])
}

func TestSignalingHub_GuestSocketIsReceiveOnly(t *testing.T) {
	guestID := uuid.New()
	f := newHubFixture(t, staticTokens{
		"good": {Token: "good", GuestID: guestID, GroupCallID: uuid.New(), ExpiresAt: time.Now().Add(time.Minute)},
	})
	// no conversation on the token: only the guest channel is followed

	_, resp, err := f.dial(t, "/v1/guest/signaling/ws?token=bad", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	conn, _, err := f.dial(t, "/v1/guest/signaling/ws?token=good", nil)
	require.NoError(t, err)
	defer conn.Close()

	f.subscriber.publish(t, fanout.GuestChannel(guestID), []byte(`{"event":"call.ice"}`))
	assert.Equal(t, domain.EventICE, readFrame(t, conn)["event"])

	require.NoError(t, conn.WriteJSON(map[string]any{"kind": "offer"}))
	frame := readFrame(t, conn)
	assert.Equal(t, FrameTypeError, frame["type"])
	assert.Equal(t, string(apperrors.ErrCodeForbidden), frame["code"])
	assert.Zero(t, f.relay.count())
}

func TestSignalingHub_RejectsForeignOriginAndMissingAuth(t *testing.T) {
	f := newHubFixture(t, nil)

	_, resp, err := f.dial(t, "/v1/signaling/ws", nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	token, err := f.jwt.GenerateAccessToken(uuid.New(), "bob", "user")
	require.NoError(t, err)
	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/v1/signaling/ws"
	_, resp, err = websocket.DefaultDialer.Dial(url, http.Header{
		"Authorization": {"Bearer " + token},
		"Origin":        {"https://evil.test"},
	})
	require.Error(t, err)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestSignalingHub_ConnectionLimit(t *testing.T) {
	f := newHubFixture(t, nil)
	f.dialUser(t, uuid.New())
	f.dialUser(t, uuid.New())

	token, err := f.jwt.GenerateAccessToken(uuid.New(), "carol", "user")
	require.NoError(t, err)
	_, resp, err := f.dial(t, "/v1/signaling/ws", http.Header{"Authorization": {"Bearer " + token}})
	require.Error(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestSignalingHub_GuestFollowsGroupConversation(t *testing.T) {
	guestID, convID := uuid.New(), uuid.New()
	f := newHubFixture(t, staticTokens{
		"good": {Token: "good", GuestID: guestID, GroupCallID: uuid.New(), ConversationID: convID, ExpiresAt: time.Now().Add(time.Minute)},
	})

	conn, _, err := f.dial(t, "/v1/guest/signaling/ws?token=good", nil)
	require.NoError(t, err)
	defer conn.Close()

	event, err := json.Marshal(&fanout.Event{Name: domain.EventGroupJoined, ConversationID: convID})
	require.NoError(t, err)
	f.subscriber.publish(t, fanout.Channel(&fanout.Event{ConversationID: convID}), event)
	assert.Equal(t, domain.EventGroupJoined, readFrame(t, conn)["event"])
	assert.True(t, f.subscriber.subscribed(fanout.GuestChannel(guestID)))
}

func TestSignalingHub_UserFollowsMemberConversations(t *testing.T) {
	f := newHubFixture(t, nil)
	userID, convID := uuid.New(), uuid.New()
	f.members[userID] = []uuid.UUID{convID}

	_, resp, err := f.dial(t, "/v1/signaling/ws?conversation_id="+uuid.NewString(), f.bearer(t, userID))
	require.Error(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	_, resp, err = f.dial(t, "/v1/signaling/ws?conversation_id=nope", f.bearer(t, userID))
	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	conn, _, err := f.dial(t, "/v1/signaling/ws?conversation_id="+convID.String(), f.bearer(t, userID))
	require.NoError(t, err)
	defer conn.Close()

	event, err := json.Marshal(&fanout.Event{Name: domain.EventGroupEnded, ConversationID: convID})
	require.NoError(t, err)
	f.subscriber.publish(t, fanout.ConversationChannel(convID), event)
	assert.Equal(t, domain.EventGroupEnded, readFrame(t, conn)["event"])
}
