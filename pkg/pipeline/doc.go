// Package pipeline moves item-lifecycle envelopes from the raw partition to
// the processed partition.
//
// A `Forwarder` pulls records from a `Source`, validates and normalizes them
// with package transform, publishes the result to a `Sink` and only then
// commits the read position. Kafka implementations of Source and Sink live in
// peer/kafka.
package pipeline
