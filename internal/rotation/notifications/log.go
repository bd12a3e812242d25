package notifications

import (
	"context"

	"github.com/omniusstudio/pms-keyrotation/internal/logging"
)

// LogProvider writes rotation notifications to the process log. It is the
// default sink when no webhooks are configured.
type LogProvider struct {
	logger *logging.Logger
}

// NewLogProvider creates a log-backed notification provider.
func NewLogProvider(logger *logging.Logger) *LogProvider {
	return &LogProvider{logger: logger}
}

func (p *LogProvider) Name() string {
	return "log"
}

func (p *LogProvider) SupportsEvent(eventType EventType) bool {
	return true
}

func (p *LogProvider) Validate(ctx context.Context) error {
	return nil
}

func (p *LogProvider) Send(ctx context.Context, event Event) error {
	switch event.Type {
	case EventTypeRotationSucceeded:
		p.logger.Info("rotated key %s (tenant %s, policy %s) %s -> %s in %s",
			event.KeyID, event.TenantID, event.PolicyID,
			logging.KeyID(event.PreviousKMSKeyID), logging.KeyID(event.NewKMSKeyID), event.Duration)
	case EventTypeRotationFailed:
		p.logger.Error("rotation of key %s failed (tenant %s, policy %s): %s",
			event.KeyID, event.TenantID, event.PolicyID, event.Error)
	case EventTypeRollbackPerformed:
		p.logger.Warn("rolled back key %s (tenant %s) to %s",
			event.KeyID, event.TenantID, logging.KeyID(event.NewKMSKeyID))
	default:
		p.logger.Info("rotation event %s for key %s (tenant %s)", event.Type, event.KeyID, event.TenantID)
	}
	return nil
}
