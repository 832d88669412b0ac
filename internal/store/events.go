package store

import (
	"context"

	"go.uber.org/zap"

	"github.com/vesys/ve/internal/common/logger"
	"github.com/vesys/ve/internal/events"
	"github.com/vesys/ve/internal/events/bus"
	v1 "github.com/vesys/ve/pkg/api/v1"
)

// notifier publishes best-effort state-change events for the WebSocket
// gateway. Publish failures are logged, never surfaced to the caller.
type notifier struct {
	bus bus.EventBus
	log *logger.Logger
}

func (n *notifier) publish(ctx context.Context, eventType string, data map[string]interface{}) {
	if n.bus == nil {
		return
	}
	event := bus.NewEvent(eventType, "store", data)
	if err := n.bus.Publish(ctx, eventType, event); err != nil {
		n.log.Warn("Failed to publish store event", zap.String("type", eventType), zap.Error(err))
	}
}

func (n *notifier) unitChanged(ctx context.Context, eventType string, u *v1.WorkUnit, old v1.UnitStatus) {
	n.publish(ctx, eventType, map[string]interface{}{
		"chunk":            u.Chunk,
		"status":           string(u.Status),
		"phase":            string(u.Phase),
		"attention_reason": u.AttentionReason,
		"old_status":       string(old),
	})

	if u.Status == v1.StatusNeedsAttention && old != v1.StatusNeedsAttention {
		n.publish(ctx, events.AttentionAdded, map[string]interface{}{
			"chunk":  u.Chunk,
			"reason": u.AttentionReason,
		})
	}
	if old == v1.StatusNeedsAttention && u.Status != v1.StatusNeedsAttention {
		n.publish(ctx, events.AttentionResolved, map[string]interface{}{
			"chunk": u.Chunk,
		})
	}
}

func (n *notifier) unitDeleted(ctx context.Context, u *v1.WorkUnit) {
	n.publish(ctx, events.WorkUnitDeleted, map[string]interface{}{
		"chunk":  u.Chunk,
		"status": "DELETED",
		"phase":  string(u.Phase),
	})
	if u.Status == v1.StatusNeedsAttention {
		n.publish(ctx, events.AttentionResolved, map[string]interface{}{
			"chunk": u.Chunk,
		})
	}
}
