package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"callhub-backend/internal/database"
	"callhub-backend/internal/domain"
	"callhub-backend/internal/middleware"
	"callhub-backend/internal/service/signaling"
	"callhub-backend/pkg/constants"
	apperrors "callhub-backend/pkg/errors"
	"callhub-backend/pkg/fanout"
	"callhub-backend/pkg/logger"
	"callhub-backend/pkg/metrics"
)

// DefaultMaxConnections is used when the hub is created without a limit
const DefaultMaxConnections = 1000

// Subscription is a live pub/sub subscription delivering raw event payloads
type Subscription interface {
	Messages() <-chan []byte
	Close() error
}

// Subscriber opens one subscription covering the given fanout channels
type Subscriber interface {
	Subscribe(ctx context.Context, channels ...string) (Subscription, error)
}

// ConversationAuthorizer checks that a principal may follow a conversation
type ConversationAuthorizer interface {
	AuthorizeConversation(ctx context.Context, principal domain.Principal, conversationID uuid.UUID) error
}

// TokenVerifier checks guest signaling tokens
type TokenVerifier interface {
	VerifySignalingToken(ctx context.Context, token string) (*domain.GuestSignalingToken, error)
}

// Relayer forwards one signaling message on behalf of a principal
type Relayer interface {
	Relay(ctx context.Context, principal domain.Principal, in *signaling.RelayInput) error
}

// SignalingHub bridges the fanout channels of users and guests onto
// WebSocket connections and feeds inbound frames to the signaling relay.
// Besides its own channel a socket follows conversation broadcasts: a guest
// the conversation of its group call, a user the conversations named in the
// conversation_id query parameters.
// Registered users may relay over the socket; guest sockets are receive
// only and guests relay over HTTP with their guest credentials.
type SignalingHub struct {
	relay         Relayer
	subscriber    Subscriber
	tokens        TokenVerifier
	conversations ConversationAuthorizer
	metrics       *metrics.Metrics
	upgrader   websocket.Upgrader

	// Concurrency limit: maxConnections is the maximum number of concurrent WebSocket connections
	maxConnections int
	semaphore      chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// signalingClient is one open signaling socket
type signalingClient struct {
	hub       *SignalingHub
	conn      *websocket.Conn
	send      chan []byte
	principal domain.Principal
	kind      string // user or guest
	ctx       context.Context
	cancel    context.CancelFunc
}

// Frame types written by the server besides relayed fanout events
const (
	FrameTypeError = "error"
	FrameTypeAck   = "ack"
)

// ServerFrame is a control frame sent to the client
type ServerFrame struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// NewSignalingHub creates a new signaling hub. Origins are checked with the
// same allow-list as CORS.
func NewSignalingHub(relay Relayer, subscriber Subscriber, tokens TokenVerifier, conversations ConversationAuthorizer, m *metrics.Metrics, allowedOrigins []string, maxConnections int) *SignalingHub {
	if maxConnections <= 0 {
		maxConnections = DefaultMaxConnections
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &SignalingHub{
		relay:         relay,
		subscriber:    subscriber,
		tokens:        tokens,
		conversations: conversations,
		metrics:       m,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				// Reject empty origins - require explicit origin for security
				return middleware.AllowedOrigin(r.Header.Get("Origin"), allowedOrigins)
			},
		},
		maxConnections: maxConnections,
		semaphore:      make(chan struct{}, maxConnections),
		ctx:            ctx,
		cancel:         cancel,
	}
}

// ServeWS opens the signaling socket of an authenticated user
// GET /v1/signaling/ws?conversation_id=...
func (h *SignalingHub) ServeWS(c *gin.Context) {
	principal := middleware.GetPrincipal(c)
	userID, ok := principal.UserID()
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	channels := []string{fanout.UserChannel(userID)}
	conversationIDs := c.QueryArray("conversation_id")
	if len(conversationIDs) > constants.WebSocketMaxConversations {
		c.JSON(http.StatusBadRequest, gin.H{"error": "too many conversations"})
		return
	}
	for _, raw := range conversationIDs {
		conversationID, err := uuid.Parse(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid conversation_id"})
			return
		}
		if err := h.conversations.AuthorizeConversation(c.Request.Context(), principal, conversationID); err != nil {
			appErr := apperrors.GetAppError(err)
			c.JSON(appErr.StatusCode, gin.H{"error": appErr.Message})
			return
		}
		channels = append(channels, fanout.ConversationChannel(conversationID))
	}
	h.serve(c, principal, "user", channels...)
}

// ServeGuestWS opens the receive-only signaling socket of a guest holding a
// signaling token
// GET /v1/guest/signaling/ws?token=...
func (h *SignalingHub) ServeGuestWS(c *gin.Context) {
	token, err := h.tokens.VerifySignalingToken(c.Request.Context(), c.Query("token"))
	if err != nil {
		appErr := apperrors.GetAppError(err)
		c.JSON(appErr.StatusCode, gin.H{"error": appErr.Message})
		return
	}
	channels := []string{fanout.GuestChannel(token.GuestID)}
	if token.ConversationID != uuid.Nil {
		channels = append(channels, fanout.ConversationChannel(token.ConversationID))
	}
	h.serve(c, domain.Principal{}, "guest", channels...)
}

func (h *SignalingHub) serve(c *gin.Context, principal domain.Principal, kind string, channels ...string) {
	// Acquire semaphore to limit concurrent connections
	select {
	case h.semaphore <- struct{}{}:
		defer func() { <-h.semaphore }()
	default:
		logger.Warn("WebSocket connection rejected: max connections reached",
			zap.Int("max_connections", h.maxConnections))
		h.metrics.RecordWebSocketError("capacity")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Server at capacity, please try again later"})
		return
	}

	sub, err := h.subscriber.Subscribe(c.Request.Context(), channels...)
	if err != nil {
		logger.Warn("Signaling subscription failed",
			zap.Strings("channels", channels),
			zap.Error(err))
		h.metrics.RecordWebSocketError("subscribe")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Realtime channel unavailable"})
		return
	}
	defer sub.Close()

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already answered the request
		logger.Debug("WebSocket upgrade failed", zap.Error(err))
		h.metrics.RecordWebSocketError("upgrade")
		return
	}

	ctx, cancel := context.WithCancel(h.ctx)
	client := &signalingClient{
		hub:       h,
		conn:      conn,
		send:      make(chan []byte, 256),
		principal: principal,
		kind:      kind,
		ctx:       ctx,
		cancel:    cancel,
	}

	h.metrics.WebSocketOpened(kind)
	h.wg.Add(2)
	go func() {
		defer h.wg.Done()
		client.writePump()
	}()
	go func() {
		defer h.wg.Done()
		client.forward(sub)
	}()

	client.readPump()
	h.metrics.WebSocketClosed(kind)
}

// Close drops every open socket and waits for their pumps to stop
func (h *SignalingHub) Close() {
	h.cancel()
	h.wg.Wait()
}

// forward copies fanout events from the subscription to the socket
func (c *signalingClient) forward(sub Subscription) {
	messages := sub.Messages()
	for {
		select {
		case <-c.ctx.Done():
			return
		case payload, ok := <-messages:
			if !ok {
				c.cancel()
				return
			}
			if !c.enqueue(payload) {
				return
			}
		}
	}
}

// enqueue queues a frame for writing. A client that cannot keep up is dropped.
func (c *signalingClient) enqueue(payload []byte) bool {
	select {
	case c.send <- payload:
		return true
	case <-c.ctx.Done():
		return false
	default:
		logger.Warn("Dropping slow signaling client", zap.String("principal", c.kind))
		c.hub.metrics.RecordWebSocketError("slow_consumer")
		c.cancel()
		return false
	}
}

// readPump reads signaling frames until the socket closes
func (c *signalingClient) readPump() {
	defer func() {
		c.cancel()
		c.conn.Close()
	}()

	// Unblock ReadMessage when the hub shuts down or the client is dropped
	go func() {
		<-c.ctx.Done()
		c.conn.SetReadDeadline(time.Now())
	}()

	c.conn.SetReadLimit(constants.WebSocketMaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(constants.WebSocketPongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(constants.WebSocketPongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Debug("WebSocket connection closed",
					zap.String("principal", c.kind),
					zap.Error(err))
			}
			return
		}
		c.hub.metrics.RecordWebSocketMessage("signal", "inbound")
		c.handle(message)
	}
}

// handle relays one inbound frame, answering with an ack or an error frame
func (c *signalingClient) handle(message []byte) {
	if !c.principal.IsUser() {
		c.reply(ServerFrame{Type: FrameTypeError, Code: string(apperrors.ErrCodeForbidden), Message: "guest sockets are receive only"})
		return
	}

	var msg signaling.Message
	if err := json.Unmarshal(message, &msg); err != nil {
		c.reply(ServerFrame{Type: FrameTypeError, Code: string(apperrors.ErrCodeInvalidInput), Message: "invalid message format"})
		return
	}

	input, err := msg.Input()
	if err == nil {
		err = c.hub.relay.Relay(c.ctx, c.principal, input)
	}
	if err != nil {
		appErr := apperrors.GetAppError(err)
		c.reply(ServerFrame{Type: FrameTypeError, Code: string(appErr.Code), Message: appErr.Message})
		return
	}
	c.reply(ServerFrame{Type: FrameTypeAck})
}

func (c *signalingClient) reply(frame ServerFrame) {
	data, err := json.Marshal(frame)
	if err != nil {
		return
	}
	c.enqueue(data)
}

// writePump writes queued frames and keeps the connection alive with pings
func (c *signalingClient) writePump() {
	ticker := time.NewTicker(constants.WebSocketPingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.ctx.Done():
			c.conn.SetWriteDeadline(time.Now().Add(constants.WebSocketWriteWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(constants.WebSocketWriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.cancel()
				return
			}
			c.hub.metrics.RecordWebSocketMessage("event", "outbound")

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(constants.WebSocketWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.cancel()
				return
			}
		}
	}
}

// RedisSubscriber opens fanout subscriptions on Redis pub/sub
type RedisSubscriber struct {
	client *database.RedisClient
}

// NewRedisSubscriber creates a subscriber on client
func NewRedisSubscriber(client *database.RedisClient) *RedisSubscriber {
	return &RedisSubscriber{client: client}
}

// Subscribe subscribes to channels and waits for the confirmation
func (s *RedisSubscriber) Subscribe(ctx context.Context, channels ...string) (Subscription, error) {
	pubsub, err := s.client.Subscribe(ctx, channels...)
	if err != nil {
		return nil, err
	}

	sub := &redisSubscription{
		pubsub:   pubsub,
		messages: make(chan []byte, 64),
		done:     make(chan struct{}),
	}
	go sub.run(pubsub.Channel())
	return sub, nil
}

type redisSubscription struct {
	pubsub   *redis.PubSub
	messages chan []byte
	done     chan struct{}
	once     sync.Once
}

func (s *redisSubscription) run(ch <-chan *redis.Message) {
	defer close(s.messages)
	for {
		select {
		case <-s.done:
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			select {
			case s.messages <- []byte(msg.Payload):
			case <-s.done:
				return
			}
		}
	}
}

func (s *redisSubscription) Messages() <-chan []byte { return s.messages }

func (s *redisSubscription) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.pubsub.Close()
	})
	return err
}
