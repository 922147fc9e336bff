// Package collab declares the external collaborator contracts spec.md §1
// lists as out of scope for this core: transport/peer discovery,
// bootstrap, work generation, wallet, and telemetry. Only interfaces are
// specified, per spec.md's "Explicitly out of scope ... only their
// interfaces are specified (§6)" — this package has no implementations,
// matching the design note that re-entrant callback collaborators should
// be replaced by explicit handles passed in at construction rather than
// subsystems reaching back into a shared node object.
package collab

import (
	"context"

	"github.com/latticenode/node/core"
	"github.com/latticenode/node/wire"
)

// VoteBroadcaster sends confirm-req / publish / vote messages to peers.
// The active-transactions request loop (spec.md §4.2 step 4) calls this to
// solicit votes from representatives; it never talks to a socket directly.
type VoteBroadcaster interface {
	RequestConfirmation(ctx context.Context, block *core.Block, representatives []core.Account) error
	Publish(ctx context.Context, block *core.Block) error
	BroadcastVote(ctx context.Context, vote *wire.Vote) error
}

// Bootstrapper fetches historical chain data for accounts this node is
// missing dependencies for. The inactive-votes cache (spec.md §4.2)
// schedules a lazy bootstrap when cached vote weight alone proves a block
// is confirmed elsewhere but absent locally.
type Bootstrapper interface {
	ScheduleLazy(ctx context.Context, hash core.Hash) error
}

// WorkGenerator produces a work value meeting a difficulty threshold for a
// root. Generation itself (GPU-accelerated or otherwise) is explicitly out
// of scope per spec.md §1; only the consumer-side interface is specified
// so wallet/CLI code has somewhere to plug a real generator in.
type WorkGenerator interface {
	Generate(ctx context.Context, root core.Hash, threshold uint64) (uint64, error)
}

// Wallet signs blocks and votes on behalf of locally-controlled accounts.
// Key storage/UX is out of scope per spec.md §1 non-goals; this is the
// narrow surface the ledger-adjacent code needs.
type Wallet interface {
	Accounts() []core.Account
	Sign(account core.Account, block *core.Block) (bool, error)
}

// Telemetry receives periodic health/stat snapshots. Out of scope per
// spec.md §1; declared so active transactions and the confirmation height
// processor have somewhere to report counters without importing a metrics
// library directly.
type Telemetry interface {
	Gauge(name string, value float64)
	Count(name string, delta int64)
}
