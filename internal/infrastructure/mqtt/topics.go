package mqtt

import "strings"

// Topic names published under the configured prefix.
const (
	TopicAggregates = "aggregates"
	TopicSOE        = "soe"
	TopicGridStatus = "grid_status"

	CommandOperation = "operation"
	CommandRefresh   = "refresh"
)

// Topics builds bridge topics under one prefix, e.g. "tegbridge".
//
//	topics := mqtt.NewTopics("home/powerwall")
//	topics.State(mqtt.TopicSOE)               // home/powerwall/soe
//	topics.Command(mqtt.CommandOperation)     // home/powerwall/command/operation
type Topics struct {
	prefix string
}

// NewTopics returns topic builders for prefix. Trailing slashes are trimmed.
func NewTopics(prefix string) Topics {
	return Topics{prefix: strings.TrimRight(prefix, "/")}
}

// Prefix returns the topic prefix.
func (t Topics) Prefix() string {
	return t.prefix
}

// Status is the bridge availability topic carrying the online/offline
// payloads and the Last Will.
func (t Topics) Status() string {
	return t.prefix + "/status"
}

// State returns the retained telemetry topic for name.
func (t Topics) State(name string) string {
	return t.prefix + "/" + name
}

// Command returns the topic on which command name is requested.
func (t Topics) Command(name string) string {
	return t.prefix + "/command/" + name
}

// AllCommands matches every command topic.
func (t Topics) AllCommands() string {
	return t.prefix + "/command/+"
}
