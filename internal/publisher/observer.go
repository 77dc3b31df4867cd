// Package publisher relays progress events to RabbitMQ.
package publisher

import (
	"context"

	"go.uber.org/zap"

	"github.com/YonghoLee79/saramjobhunter/internal/domain"
)

// Observer adapts a Publisher to the pipeline's progress callback. Publish
// failures are logged and never interrupt a run.
type Observer struct {
	pub    Publisher
	logger *zap.Logger
}

// NewObserver wraps pub.
func NewObserver(pub Publisher, logger *zap.Logger) *Observer {
	return &Observer{pub: pub, logger: logger}
}

func (o *Observer) OnApplied(ctx context.Context, ev domain.ProgressEvent) {
	if err := o.pub.Publish(ctx, &ev); err != nil {
		o.logger.Warn("Failed to publish progress event", zap.String("job_id", ev.JobID), zap.Error(err))
	}
}
