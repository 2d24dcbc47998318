package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/echoguard/backend/internal/models"
)

// Notification event names as seen by WebSocket clients.
const (
	EventAnalysisCompleted = "analysis_completed"
	EventComplianceAlert   = "compliance_alert"
)

// ErrIncompleteEvent is returned for notifications missing their routing fields.
var ErrIncompleteEvent = errors.New("incomplete notification event")

// ChannelPublisher publishes an event on a named channel.
type ChannelPublisher interface {
	Publish(ctx context.Context, channel, event string, payload []byte) error
}

// Notifier fans pipeline notifications out to the per-user and alert channels.
type Notifier struct {
	pub ChannelPublisher
}

// NewNotifier creates a Notifier.
func NewNotifier(pub ChannelPublisher) *Notifier {
	return &Notifier{pub: pub}
}

// AnalysisCompleted forwards a completion event to the owning user's channel.
func (n *Notifier) AnalysisCompleted(ctx context.Context, ev models.AnalysisCompleted) error {
	if ev.RecordingID == "" || ev.UserID == "" {
		return fmt.Errorf("%w: analysis completed needs recordingId and userId", ErrIncompleteEvent)
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return n.pub.Publish(ctx, UserChannel(ev.UserID), EventAnalysisCompleted, data)
}

// ComplianceAlert forwards an alert to the alerts channel.
func (n *Notifier) ComplianceAlert(ctx context.Context, ev models.ComplianceAlert) error {
	if ev.RecordingID == "" {
		return fmt.Errorf("%w: compliance alert needs recordingId", ErrIncompleteEvent)
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return n.pub.Publish(ctx, AlertsChannel, EventComplianceAlert, data)
}
