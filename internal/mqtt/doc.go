// Package mqtt makes Jarvis visible to Home Assistant as an MQTT
// device. It publishes retained discovery payloads for a handful of
// sensors (assistant activity, last utterance, last response, turn
// count, version) and keeps their state topics current.
//
// The publisher uses Eclipse Paho v2's [autopaho] package for
// connection management with automatic reconnection. On every
// (re-)connect it republishes discovery configs and a birth message
// ("online") to the availability topic. A will message moves the
// availability topic to "offline" on unexpected disconnects.
//
// State is pushed whenever the [Presence] tracker changes and on a
// fixed interval, so a restarted Home Assistant catches up without
// waiting for the next turn.
package mqtt
