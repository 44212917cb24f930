// Package mqtt connects the TEG bridge to an MQTT broker.
//
// The bridge publishes retained telemetry (aggregates, state of energy,
// grid status) and its own availability under a configurable prefix, and
// listens for refresh commands. Operation changes requested through the
// legacy API are forwarded as command messages.
//
// # Topics
//
//	<prefix>/status              online/offline, Last Will
//	<prefix>/aggregates          retained JSON
//	<prefix>/soe                 retained JSON
//	<prefix>/grid_status         retained JSON
//	<prefix>/command/operation   operation requests
//	<prefix>/command/refresh     cache invalidation requests
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.PublishJSON(client.Topics().State(mqtt.TopicSOE), soe, true)
package mqtt
