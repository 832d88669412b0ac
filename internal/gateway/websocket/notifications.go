package websocket

import (
	"context"

	"go.uber.org/zap"

	"github.com/vesys/ve/internal/common/logger"
	"github.com/vesys/ve/internal/events"
	"github.com/vesys/ve/internal/events/bus"
	ws "github.com/vesys/ve/pkg/websocket"
)

// Broadcaster fans store events out to connected WebSocket clients.
type Broadcaster struct {
	hub           *Hub
	subscriptions []bus.Subscription
	logger        *logger.Logger
}

// RegisterNotifications subscribes the hub to all work-unit and attention
// events. The subscriptions are dropped when ctx ends.
func RegisterNotifications(ctx context.Context, eventBus bus.EventBus, hub *Hub, log *logger.Logger) *Broadcaster {
	b := &Broadcaster{
		hub:    hub,
		logger: log.WithFields(zap.String("component", "ws-broadcaster")),
	}
	if eventBus == nil {
		return b
	}

	b.subscribeUnit(eventBus, events.WorkUnitCreated)
	b.subscribeUnit(eventBus, events.WorkUnitUpdated)
	b.subscribeUnit(eventBus, events.WorkUnitStatusChanged)
	b.subscribeUnit(eventBus, events.WorkUnitDeleted)
	b.subscribeAttention(eventBus, events.AttentionAdded, ws.AttentionActionAdded)
	b.subscribeAttention(eventBus, events.AttentionResolved, ws.AttentionActionResolved)

	go func() {
		<-ctx.Done()
		b.Close()
	}()

	return b
}

// Close drops all bus subscriptions.
func (b *Broadcaster) Close() {
	for _, sub := range b.subscriptions {
		if sub != nil && sub.IsValid() {
			_ = sub.Unsubscribe()
		}
	}
	b.subscriptions = nil
}

func (b *Broadcaster) subscribeUnit(eventBus bus.EventBus, eventType string) {
	sub, err := eventBus.Subscribe(eventType, func(ctx context.Context, event *bus.Event) error {
		update := &ws.WorkUnitUpdate{
			Chunk:           stringField(event, "chunk"),
			Status:          stringField(event, "status"),
			Phase:           stringField(event, "phase"),
			AttentionReason: stringField(event, "attention_reason"),
		}
		msg, err := ws.NewMessage(ws.MessageTypeWorkUnitUpdate, update)
		if err != nil {
			return err
		}
		b.hub.Broadcast(msg)
		return nil
	})
	if err != nil {
		b.logger.Error("Failed to subscribe to event",
			zap.String("type", eventType), zap.Error(err))
		return
	}
	b.subscriptions = append(b.subscriptions, sub)
}

func (b *Broadcaster) subscribeAttention(eventBus bus.EventBus, eventType, action string) {
	sub, err := eventBus.Subscribe(eventType, func(ctx context.Context, event *bus.Event) error {
		update := &ws.AttentionUpdate{
			Action: action,
			Chunk:  stringField(event, "chunk"),
			Reason: stringField(event, "reason"),
		}
		msg, err := ws.NewMessage(ws.MessageTypeAttentionUpdate, update)
		if err != nil {
			return err
		}
		b.hub.Broadcast(msg)
		return nil
	})
	if err != nil {
		b.logger.Error("Failed to subscribe to event",
			zap.String("type", eventType), zap.Error(err))
		return
	}
	b.subscriptions = append(b.subscriptions, sub)
}

func stringField(event *bus.Event, key string) string {
	if event.Data == nil {
		return ""
	}
	s, _ := event.Data[key].(string)
	return s
}
