// Package audit publishes one JSON event per completed turn to an MQTT
// broker so turns can be followed and replayed outside the service.
//
// The publisher uses Eclipse Paho v2's [autopaho] package for connection
// management with automatic reconnection. On every (re-)connect it
// publishes a retained birth message ("online") to the availability
// topic; a will message moves that topic to "offline" on unexpected
// disconnects. Events are queued and published from a single goroutine
// so a slow broker never delays a turn.
package audit
