package notification

import (
	"context"
	"encoding/json"
	"expvar"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const userEventsChannel = "billing:user_events"

var (
	wsConnectionsGauge   = expvar.NewInt("billing_ws_connections")
	wsEventsSentTotal    = expvar.NewInt("billing_ws_events_sent_total")
	wsEventsDroppedTotal = expvar.NewInt("billing_ws_events_dropped_total")
)

type envelope struct {
	UserID           string          `json:"user_id"`
	Payload          json.RawMessage `json:"payload"`
	SenderInstanceID string          `json:"sender_instance_id"`
}

// Connection is one websocket client.
type Connection struct {
	UserID uuid.UUID
	Send   chan []byte
}

// Hub fans events out to websocket clients on every API instance through Redis.
// Without Redis it only reaches clients of this instance.
type Hub struct {
	connections map[uuid.UUID]map[*Connection]struct{}
	mu          sync.RWMutex

	redis      *redis.Client
	pubsub     *redis.PubSub
	instanceID string

	ctx    context.Context
	cancel context.CancelFunc
}

func NewHub(redisClient *redis.Client) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		connections: make(map[uuid.UUID]map[*Connection]struct{}),
		redis:       redisClient,
		instanceID:  uuid.NewString(),
		ctx:         ctx,
		cancel:      cancel,
	}
	if redisClient != nil {
		h.pubsub = redisClient.Subscribe(ctx, userEventsChannel)
	}
	return h
}

// Run consumes remote events until Close. Call in a goroutine.
func (h *Hub) Run() {
	if h.pubsub == nil {
		<-h.ctx.Done()
		return
	}

	ch := h.pubsub.Channel()
	for {
		select {
		case <-h.ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			h.handleRemote(msg.Payload)
		}
	}
}

func (h *Hub) Close() {
	h.cancel()
	if h.pubsub != nil {
		if err := h.pubsub.Close(); err != nil {
			log.Warn().Err(err).Msg("closing billing pubsub")
		}
	}
}

func (h *Hub) handleRemote(payload string) {
	var env envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		return
	}
	if env.SenderInstanceID == h.instanceID {
		return
	}
	userID, err := uuid.Parse(env.UserID)
	if err != nil {
		return
	}
	h.deliverLocal(userID, env.Payload)
}

func (h *Hub) Register(conn *Connection) {
	h.mu.Lock()
	if h.connections[conn.UserID] == nil {
		h.connections[conn.UserID] = make(map[*Connection]struct{})
	}
	h.connections[conn.UserID][conn] = struct{}{}
	h.mu.Unlock()

	wsConnectionsGauge.Add(1)
	log.Debug().Str("user_id", conn.UserID.String()).Msg("billing websocket connected")
}

func (h *Hub) Unregister(conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	conns, ok := h.connections[conn.UserID]
	if !ok {
		return
	}
	if _, exists := conns[conn]; exists {
		delete(conns, conn)
		close(conn.Send)
		wsConnectionsGauge.Add(-1)
	}
	if len(conns) == 0 {
		delete(h.connections, conn.UserID)
	}
}

// Publish delivers event to userID's clients. It never blocks on slow clients.
func (h *Hub) Publish(ctx context.Context, userID uuid.UUID, event Event) error {
	if event.UserID == uuid.Nil {
		event.UserID = userID
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	h.deliverLocal(userID, data)

	if h.redis == nil {
		return nil
	}
	env, err := json.Marshal(envelope{UserID: userID.String(), Payload: data, SenderInstanceID: h.instanceID})
	if err != nil {
		return err
	}
	return h.redis.Publish(ctx, userEventsChannel, env).Err()
}

func (h *Hub) deliverLocal(userID uuid.UUID, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for conn := range h.connections[userID] {
		select {
		case conn.Send <- data:
			wsEventsSentTotal.Add(1)
		default:
			wsEventsDroppedTotal.Add(1)
			log.Warn().Str("user_id", userID.String()).Msg("billing websocket buffer full")
		}
	}
}
