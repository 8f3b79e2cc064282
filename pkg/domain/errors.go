package domain

import (
	"errors"

	"github.com/tmykhalevych/event-tracer/pkg/slab"
)

// Recoverable conditions. They are reported through the tracer error hook
// and never stop tracing.
var (
	// ErrBufferFull is returned when adding to a registry that is full.
	ErrBufferFull = errors.New("buffer full, please reset before use")

	// ErrConsumerTooSlow is reported when a registry fills up while the
	// previous batch is still being drained. The new batch is dropped.
	ErrConsumerTooSlow = errors.New("pending registry is not empty, dropping active registry")

	// ErrMessageLost is reported when an event message could not be interned.
	ErrMessageLost = errors.New("event message lost")

	// ErrPoolExhausted aliases the slab exhaustion error.
	ErrPoolExhausted = slab.ErrExhausted

	// ErrSendFailed is reported when a filled registry could not be handed
	// over to the consumer.
	ErrSendFailed = errors.New("failed to send tracing data")

	// ErrBufferInsufficient is reported when the trace buffer yields
	// registries below the recommended capacity.
	ErrBufferInsufficient = errors.New("buffer size could be insufficient")

	// ErrSystemStateUnavailable is reported when the task list could not be
	// captured.
	ErrSystemStateUnavailable = errors.New("system state unavailable")
)
