// Package events carries session notifications from runners to observers.
//
// A Runner publishes one event per transition (start, each resolved step,
// critical failures, completion) and the recorder publishes persistence
// failures. Observers such as the metrics collector, the websocket broadcaster
// and the interactive console subscribe instead of keeping their own copy of
// session state.
//
// Publish never blocks: a subscriber whose buffer is full misses the event.
package events
