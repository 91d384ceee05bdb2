package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ryanbastic/go-fieldmap/internal/geometry"
	"github.com/ryanbastic/go-fieldmap/internal/shape"
)

// ShapeEvent is the notification payload sent to plugins.
type ShapeEvent struct {
	Event      string          `json:"event"`
	ShapeID    uuid.UUID       `json:"shape_id"`
	Feature    json.RawMessage `json:"feature,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`
}

// Notifier delivers shape events to subscribed plugins. It implements
// persist.Publisher.
type Notifier struct {
	registry  *PluginRegistry
	rpcClient *RPCClient
	logger    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewNotifier creates a Notifier.
func NewNotifier(registry *PluginRegistry, rpcClient *RPCClient, logger *slog.Logger) *Notifier {
	ctx, cancel := context.WithCancel(context.Background())
	return &Notifier{
		registry:  registry,
		rpcClient: rpcClient,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Publish starts one goroutine per subscribed plugin and returns at once.
// Delivery failures are logged.
func (n *Notifier) Publish(event string, s *shape.Shape) {
	plugins := n.registry.ForEvent(event)
	if len(plugins) == 0 {
		return
	}

	params := ShapeEvent{Event: event, ShapeID: s.ID, OccurredAt: time.Now().UTC()}
	if f, err := geometry.ToFeature(s); err == nil {
		if raw, err := json.Marshal(f); err == nil {
			params.Feature = raw
		}
	}

	for _, p := range plugins {
		n.wg.Add(1)
		go func(endpoint, pluginName string) {
			defer n.wg.Done()
			resp, err := n.rpcClient.Call(n.ctx, endpoint, event, params)
			if err != nil {
				n.logger.Error("plugin notification failed", "plugin", pluginName, "endpoint", endpoint, "event", event, "error", err)
				return
			}
			if resp.Error != nil {
				n.logger.Error("plugin returned error", "plugin", pluginName, "endpoint", endpoint, "event", event, "error", resp.Error)
			}
		}(p.Endpoint, p.Name)
	}
}

// Close cancels in-flight deliveries and waits for them to finish.
func (n *Notifier) Close() {
	n.cancel()
	n.wg.Wait()
}
