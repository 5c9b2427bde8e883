package link

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"callhub-backend/internal/domain"
	"callhub-backend/internal/middleware"
	"callhub-backend/internal/repository"
	"callhub-backend/internal/repository/memory"
	"callhub-backend/internal/service/access"
	"callhub-backend/internal/service/call"
	"callhub-backend/internal/service/link"
	"callhub-backend/pkg/fanout"
	"callhub-backend/pkg/jwt"
)

const internalKey = "internal-test-key"

type tokenStore struct {
	mu     sync.Mutex
	tokens map[string]domain.GuestSignalingToken
}

func (s *tokenStore) Save(_ context.Context, token *domain.GuestSignalingToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[token.Token] = *token
	return nil
}

func (s *tokenStore) Get(_ context.Context, token string) (*domain.GuestSignalingToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[token]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &t, nil
}

func (s *tokenStore) Delete(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, token)
	return nil
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code string `json:"code"`
	} `json:"error"`
}

type handlerFixture struct {
	store  *memory.Store
	calls  *call.Service
	router *gin.Engine
	jwt    *jwt.JWTManager
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := memory.New()
	gate := access.NewGate(store.Conversations(), store.Calls(), store.GroupCalls())
	events := fanout.NewRecorder()
	calls := call.NewService(store.Calls(), store.GroupCalls(), store.Conversations(), gate, events, nil)
	tokens := &tokenStore{tokens: make(map[string]domain.GuestSignalingToken)}
	h := NewHandler(link.NewService(store.Links(), store.Calls(), store.GroupCalls(), store.Conversations(), tokens, gate, calls, events))
	manager := jwt.NewJWTManager("test-secret-key-at-least-32-bytes!!", "callhub", time.Hour)

	router := gin.New()
	v1 := router.Group("/v1", middleware.AuthMiddleware(manager, nil))
	v1.POST("/links", h.IssueLink)
	v1.GET("/links/:token", h.ResolveLink)
	v1.DELETE("/links/:token", h.RevokeLink)
	v1.POST("/links/revoke", h.RevokeLinks)

	router.POST("/v1/guest/links/:token/redeem", h.RedeemLink)
	guest := router.Group("/v1/guest", middleware.GuestMiddleware())
	guest.POST("/signaling-token", h.RefreshSignalingToken)

	internal := router.Group("/internal", middleware.InternalKeyMiddleware(internalKey))
	internal.POST("/guest-signaling/verify", h.VerifySignalingToken)

	return &handlerFixture{store: store, calls: calls, router: router, jwt: manager}
}

func (f *handlerFixture) groupCall(t *testing.T, creator uuid.UUID) *domain.GroupCall {
	t.Helper()
	conv := &domain.Conversation{ConversationID: uuid.New(), Type: domain.ConversationTypeGroup, CreatedBy: creator, CreatedAt: time.Now()}
	require.NoError(t, f.store.Conversations().Create(context.Background(), conv, creator))
	gc, err := f.calls.StartGroup(context.Background(), domain.UserPrincipal(creator), &domain.StartGroupCallInput{ConversationID: conv.ConversationID})
	require.NoError(t, err)
	return gc
}

func (f *handlerFixture) do(t *testing.T, method, path string, headers map[string]string, body any) (int, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return w.Code, env
}

func (f *handlerFixture) bearer(t *testing.T, userID uuid.UUID) map[string]string {
	t.Helper()
	token, err := f.jwt.GenerateAccessToken(userID, "user", "user")
	require.NoError(t, err)
	return map[string]string{"Authorization": "Bearer " + token}
}

func TestHandler_GuestRedeemAndSignalingToken(t *testing.T) {
	f := newHandlerFixture(t)
	a := uuid.New()
	gc := f.groupCall(t, a)

	status, env := f.do(t, http.MethodPost, "/v1/links", f.bearer(t, a), map[string]any{"group_call_id": gc.GroupCallID})
	require.Equal(t, http.StatusCreated, status)
	var callLink domain.CallLink
	require.NoError(t, json.Unmarshal(env.Data, &callLink))

	// No body: the guest gets the default display name
	status, env = f.do(t, http.MethodPost, "/v1/guest/links/"+callLink.Token+"/redeem", nil, nil)
	require.Equal(t, http.StatusCreated, status)
	var redemption domain.GuestRedemption
	require.NoError(t, json.Unmarshal(env.Data, &redemption))
	assert.Equal(t, "Гость", redemption.Guest.DisplayName)
	require.NotNil(t, redemption.SignalingToken)

	guestHeaders := map[string]string{
		middleware.HeaderGuestToken:  redemption.GuestToken,
		middleware.HeaderGroupCallID: gc.GroupCallID.String(),
	}
	status, env = f.do(t, http.MethodPost, "/v1/guest/signaling-token", guestHeaders, nil)
	require.Equal(t, http.StatusOK, status)
	var refreshed domain.GuestSignalingToken
	require.NoError(t, json.Unmarshal(env.Data, &refreshed))
	assert.Equal(t, redemption.Guest.GuestID, refreshed.GuestID)

	verify := map[string]any{"token": refreshed.Token}
	status, _ = f.do(t, http.MethodPost, "/internal/guest-signaling/verify", nil, verify)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, env = f.do(t, http.MethodPost, "/internal/guest-signaling/verify", map[string]string{middleware.HeaderInternalKey: internalKey}, verify)
	require.Equal(t, http.StatusOK, status)
	var verified domain.GuestSignalingToken
	require.NoError(t, json.Unmarshal(env.Data, &verified))
	assert.Equal(t, gc.GroupCallID, verified.GroupCallID)
}

func TestHandler_RevokeLink(t *testing.T) {
	f := newHandlerFixture(t)
	a := uuid.New()
	gc := f.groupCall(t, a)

	_, env := f.do(t, http.MethodPost, "/v1/links", f.bearer(t, a), map[string]any{"group_call_id": gc.GroupCallID})
	var callLink domain.CallLink
	require.NoError(t, json.Unmarshal(env.Data, &callLink))

	status, _ := f.do(t, http.MethodGet, "/v1/links/"+callLink.Token, f.bearer(t, a), nil)
	require.Equal(t, http.StatusOK, status)

	status, env = f.do(t, http.MethodPost, "/v1/links/revoke", f.bearer(t, a), map[string]any{
		"token":         callLink.Token,
		"group_call_id": gc.GroupCallID,
	})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "INVALID_INPUT", env.Error.Code)

	status, env = f.do(t, http.MethodDelete, "/v1/links/"+callLink.Token, f.bearer(t, a), nil)
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"revoked":1}`, string(env.Data))

	status, env = f.do(t, http.MethodGet, "/v1/links/"+callLink.Token, f.bearer(t, a), nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "LINK_NOT_FOUND", env.Error.Code)
}
