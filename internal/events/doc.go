// Package events fans registry updates out to their consumers.
//
// The registry emits a tasks.Update for every change. [Dispatch] reads them from one channel and
// hands each to a list of [Sink] values: the operator bridge, the optional [MQTTSink] and the
// transfer history recorder.
//
// # MQTT
//
// [MQTTSink] publishes each task's latest state as a retained JSON message on
// <prefix>/tasks/<name>. Removing a task publishes an empty retained payload, which clears the
// topic on the broker. The sink announces itself on <prefix>/status and registers an offline
// last will there.
package events
