package websocket

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/centrifugal/centrifuge"

	"github.com/kodegeo/showgeo2-sub001/internal/adapter/metrics"
	"github.com/kodegeo/showgeo2-sub001/internal/domain"
)

var _ domain.StatePublisher = (*Publisher)(nil)

// Publisher pushes every live state change to the participant's channel.
type Publisher struct {
	node      *centrifuge.Node
	wsMetrics *metrics.WebSocketMetrics
}

func NewPublisher(node *centrifuge.Node, wsMetrics *metrics.WebSocketMetrics) *Publisher {
	return &Publisher{node: node, wsMetrics: wsMetrics}
}

func (p *Publisher) PublishState(ctx context.Context, state domain.LiveState) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(state)
	if err != nil {
		p.failed()
		return fmt.Errorf("marshal live state: %w", err)
	}

	channel := LiveChannel(state.EventID, state.ParticipantID)
	if _, err := p.node.Publish(channel, data); err != nil {
		p.failed()
		return fmt.Errorf("publish to channel %s: %w", channel, err)
	}

	if p.wsMetrics != nil {
		p.wsMetrics.MessagesPublished.Inc()
	}
	return nil
}

func (p *Publisher) failed() {
	if p.wsMetrics != nil {
		p.wsMetrics.PublishErrors.Inc()
	}
}
