package chathub

import (
	"context"
	"encoding/json"
	"fmt"

	"strangerchat/backend/internal/config"
	"strangerchat/backend/internal/models"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const (
	opJoin      = "join"
	opLeave     = "leave"
	opNotify    = "notify"
	opBroadcast = "broadcast"
)

// relayOp описує один виклик Transport, що передається між інстансами.
type relayOp struct {
	Op     string        `json:"op"`
	ConnID string        `json:"connId,omitempty"`
	RoomID string        `json:"roomId,omitempty"`
	Event  *models.Event `json:"event,omitempty"`
}

// Relay реалізує Transport для кількох інстансів. Кожен виклик публікується в
// канал Redis, і кожен інстанс, включно з цим, застосовує його до свого Hub.
// Так з'єднання досяжне, хоч би на якому інстансі воно було.
type Relay struct {
	Local   *Hub
	rdb     *redis.Client
	channel string
}

func NewRelay(rdb *redis.Client, local *Hub) *Relay {
	return &Relay{Local: local, rdb: rdb, channel: config.RelayChannel}
}

// Start підписується на канал relay і застосовує операції, доки ctx не
// скасовано. Повертає керування, щойно підписку підтверджено.
func (r *Relay) Start(ctx context.Context) error {
	pubsub := r.rdb.Subscribe(ctx, r.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return fmt.Errorf("subscribe %s: %w", r.channel, err)
	}

	go func() {
		defer pubsub.Close()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				r.apply(ctx, msg.Payload)
			}
		}
	}()
	return nil
}

func (r *Relay) apply(ctx context.Context, payload string) {
	var op relayOp
	if err := json.Unmarshal([]byte(payload), &op); err != nil {
		log.Error().Err(err).Msg("relay: bad payload")
		return
	}

	// Помилка тут означає лише, що адресат на іншому інстансі.
	switch op.Op {
	case opJoin:
		_ = r.Local.Join(ctx, op.ConnID, op.RoomID)
	case opLeave:
		_ = r.Local.Leave(ctx, op.ConnID, op.RoomID)
	case opNotify:
		if op.Event != nil {
			_ = r.Local.Notify(ctx, op.ConnID, *op.Event)
		}
	case opBroadcast:
		if op.Event != nil {
			_ = r.Local.Broadcast(ctx, op.RoomID, *op.Event)
		}
	default:
		log.Warn().Str("op", op.Op).Msg("relay: unknown operation")
	}
}

func (r *Relay) publish(ctx context.Context, op relayOp) error {
	data, err := json.Marshal(op)
	if err != nil {
		return err
	}
	return r.rdb.Publish(ctx, r.channel, data).Err()
}

func (r *Relay) Join(ctx context.Context, connID, roomID string) error {
	return r.publish(ctx, relayOp{Op: opJoin, ConnID: connID, RoomID: roomID})
}

func (r *Relay) Leave(ctx context.Context, connID, roomID string) error {
	return r.publish(ctx, relayOp{Op: opLeave, ConnID: connID, RoomID: roomID})
}

func (r *Relay) Notify(ctx context.Context, connID string, ev models.Event) error {
	return r.publish(ctx, relayOp{Op: opNotify, ConnID: connID, Event: &ev})
}

func (r *Relay) Broadcast(ctx context.Context, roomID string, ev models.Event) error {
	return r.publish(ctx, relayOp{Op: opBroadcast, RoomID: roomID, Event: &ev})
}
