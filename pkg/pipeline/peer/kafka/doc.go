// Package kafka connects the forwarder to the item-events topic.
//
// The topic has two partitions with fixed roles:
// - 0 (raw): written by the item CRUD service, read by the forwarder
// - 1 (processed): written only by the forwarder, read by facades
//
// Payload: JSON envelope, see package event.
//
// Message Format:
// - Key: item id (empty when the envelope has none)
// - Value: JSON envelope
// - Headers: `operation` (CREATE, CHANGE or DELETE)
//
// Consumer Groups:
// - The forwarder reads the raw partition with a fixed group (default
// `manage-item-etl`) so restarts resume at the committed offset.
// - Offsets are committed explicitly, never by the auto-commit timer.
//
// Partitioning Strategy:
// - Manual: the producer always targets the configured partition.
package kafka
