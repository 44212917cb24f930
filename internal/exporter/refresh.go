package exporter

import (
	"encoding/json"
	"fmt"

	"github.com/nerrad567/gray-logic-teg/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-teg/internal/tedapi"
)

// Invalidator drops cached gateway documents. *tedapi.Client satisfies it.
type Invalidator interface {
	Invalidate(kinds ...tedapi.DocumentKind)
}

// refreshCommand is the payload of the refresh command. An empty payload
// or an empty kinds list refreshes everything.
type refreshCommand struct {
	Kinds []tedapi.DocumentKind `json:"kinds"`
}

// RefreshHandler returns an MQTT handler for the refresh command topic.
// Unknown kinds reject the whole command.
func RefreshHandler(inv Invalidator, logger Logger) mqtt.MessageHandler {
	if logger == nil {
		logger = noopLogger{}
	}
	return func(topic string, payload []byte) error {
		var cmd refreshCommand
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &cmd); err != nil {
				return fmt.Errorf("decoding refresh command: %w", err)
			}
		}
		for _, k := range cmd.Kinds {
			if !k.Valid() {
				return fmt.Errorf("refresh command: unknown document kind %q", k)
			}
		}

		inv.Invalidate(cmd.Kinds...)
		logger.Debug("cache invalidated by command", "topic", topic, "kinds", cmd.Kinds)
		return nil
	}
}
