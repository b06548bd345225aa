package eventbus

import (
	"github.com/jervisai/jervis/internal/domain"
	"github.com/jervisai/jervis/internal/service/taskengine"
)

// queueStatusWire and notificationWire are the JSON-on-the-wire shapes;
// kept distinct from taskengine's types so the wire format doesn't
// silently change if the in-process event struct does.
type queueStatusWire struct {
	TaskID         string `json:"taskId"`
	ProcessingMode string `json:"processingMode"`
	Action         string `json:"action"`
}

type notificationWire struct {
	TaskID   string `json:"taskId"`
	ClientID string `json:"clientId"`
	Kind     string `json:"kind"`
	Message  string `json:"message"`
}

// PublishQueueStatus implements taskengine.EventPublisher.
func (p *Producer) PublishQueueStatus(ctx domain.Context, event taskengine.QueueStatusEvent) error {
	return p.publish(ctx, TopicQueueStatus, event.TaskID.Hex(), queueStatusWire{
		TaskID:         event.TaskID.Hex(),
		ProcessingMode: string(event.ProcessingMode),
		Action:         event.Action,
	})
}

// PublishNotification implements taskengine.EventPublisher.
func (p *Producer) PublishNotification(ctx domain.Context, event taskengine.NotificationEvent) error {
	return p.publish(ctx, TopicNotifications, event.TaskID.Hex(), notificationWire{
		TaskID:   event.TaskID.Hex(),
		ClientID: event.ClientID.Hex(),
		Kind:     event.Kind,
		Message:  event.Message,
	})
}
