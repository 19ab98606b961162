// Package transform validates and normalizes item envelopes before they are
// forwarded to the processed partition.
//
// Steps are plain functions chained in a fixed order, in the spirit of Kafka
// Connect single message transforms. A step either returns the (possibly
// modified) envelope or a *Rejection naming why the envelope breaks the event
// contract.
package transform
