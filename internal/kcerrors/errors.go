// Package kcerrors defines the sentinel error kinds the service
// distinguishes between, following the teacher's internal/errors package
// (a flat var block of wrapped errors.New values) rather than custom
// error types per kind.
package kcerrors

import "errors"

// ErrClientFetch means a Kafka admin call failed. The caller logs it at
// error level and retries on the next scheduled interval; it never aborts
// the emitter's task.
var ErrClientFetch = errors.New("kafka client fetch failed")

// ErrNoData means a register has no samples, or no entry, for the
// requested key. Callers treat it as a zero/default estimate and log at
// debug, never surface it upward as a failure.
var ErrNoData = errors.New("no data for key")

// ErrChannelSendTimeout means a snapshot could not be delivered to a
// saturated downstream channel within its send timeout, and was dropped.
var ErrChannelSendTimeout = errors.New("channel send timed out, snapshot dropped")

// ErrConfiguration means the CLI flags, environment, or config file
// produced an invalid configuration. It is fatal at startup.
var ErrConfiguration = errors.New("invalid configuration")
