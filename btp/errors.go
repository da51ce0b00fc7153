package btp

import "github.com/go-errors/errors"

var (
	// ErrCongested is returned when a forwarded packet cannot be queued
	// because the endpoint's send queue is full (§4.B backpressure: T04
	// Congested rather than blocking the caller).
	ErrCongested = errors.New("btp: endpoint send queue congested (T04)")

	// ErrNotReady is returned when a send is attempted while the
	// endpoint isn't in the READY state.
	ErrNotReady = errors.New("btp: endpoint not ready")

	// ErrAuthRejected is returned when the peer rejects our AUTH frame.
	ErrAuthRejected = errors.New("btp: authentication rejected by peer")

	// ErrReplyTimeout is returned when no FULFILL/REJECT arrives before
	// the packet's deadline.
	ErrReplyTimeout = errors.New("btp: timed out waiting for reply")

	// ErrClosed is returned by operations attempted on a stopped
	// endpoint.
	ErrClosed = errors.New("btp: endpoint closed")
)
