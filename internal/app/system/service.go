package system

import (
	"context"

	core "github.com/R3E-Network/proofwork/internal/app/core/service"
)

// Service represents a lifecycle-managed background component: an outbox
// processor bound to one topic set, the cron-driven lease reaper and
// metrics refresher, or the HTTP listener. Every long-running piece the
// Application starts implements this so Manager can start and stop all of
// them deterministically instead of each owning its own goroutine
// bookkeeping.
type Service interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// DescriptorProvider optionally advertises a Service's placement (layer)
// and capabilities so the Manager can report, for example, that the
// "payout-processor" outbox processor sits in the engine layer with
// capabilities ["payout.requested", "payout.confirm.requested"].
type DescriptorProvider interface {
	Descriptor() core.Descriptor
}
