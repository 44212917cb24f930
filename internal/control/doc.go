// Package control forwards validated operation changes (operating mode and
// backup reserve) to an external actuator over MQTT.
//
// The gateway's local protocol exposes no write path, so the bridge does not
// change settings itself: it publishes a command message and reports the
// change as queued. Whatever owns the cloud session (an automation, a
// companion service) subscribes to the command topic and applies it.
package control
