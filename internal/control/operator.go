package control

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-teg/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-teg/internal/legacy"
)

// ErrUnavailable is returned when the command transport is not connected.
var ErrUnavailable = fmt.Errorf("control: command transport unavailable: %w", legacy.ErrOperatorUnavailable)

// Publisher is the subset of the MQTT client the operator needs.
type Publisher interface {
	PublishJSON(topic string, v any, retained bool) error
	IsConnected() bool
}

// Logger is the logging interface used by the operator.
type Logger interface {
	Info(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any) {}

// Command is the message published for each accepted operation change.
type Command struct {
	ID          string                  `json:"id"`
	Command     string                  `json:"command"`
	Parameters  legacy.OperationRequest `json:"parameters"`
	Source      string                  `json:"source"`
	RequestedAt time.Time               `json:"requested_at"`
}

// MQTTOperator implements legacy.Operator by publishing commands.
type MQTTOperator struct {
	pub    Publisher
	topic  string
	logger Logger
	now    func() time.Time
	newID  func() string
}

var _ legacy.Operator = (*MQTTOperator)(nil)

// NewMQTTOperator creates an operator publishing to the operation command
// topic under topics.
func NewMQTTOperator(pub Publisher, topics mqtt.Topics) *MQTTOperator {
	return &MQTTOperator{
		pub:    pub,
		topic:  topics.Command(mqtt.CommandOperation),
		logger: noopLogger{},
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

// SetLogger sets the operator logger.
func (o *MQTTOperator) SetLogger(l Logger) {
	if l != nil {
		o.logger = l
	}
}

// Topic returns the command topic.
func (o *MQTTOperator) Topic() string {
	return o.topic
}

// SetOperation publishes req and returns the legacy acknowledgement:
// the requested fields plus "queued": true and the command id.
func (o *MQTTOperator) SetOperation(ctx context.Context, req legacy.OperationRequest) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !o.pub.IsConnected() {
		return nil, ErrUnavailable
	}

	cmd := Command{
		ID:          o.newID(),
		Command:     mqtt.CommandOperation,
		Parameters:  req,
		Source:      "api",
		RequestedAt: o.now().UTC(),
	}
	if err := o.pub.PublishJSON(o.topic, cmd, false); err != nil {
		return nil, fmt.Errorf("publishing operation command: %w", err)
	}
	o.logger.Info("operation command queued", "id", cmd.ID, "topic", o.topic)

	ack := map[string]any{
		"queued": true,
		"id":     cmd.ID,
	}
	if req.Mode != "" {
		ack["real_mode"] = req.Mode
	}
	if req.BackupReservePercent != nil {
		ack["backup_reserve_percent"] = *req.BackupReservePercent
	}
	return ack, nil
}
