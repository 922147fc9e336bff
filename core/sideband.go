package core

import "time"

// Sideband is per-block metadata computed at commit time and persisted
// alongside the block body. It is required for O(1) balance/amount/account
// lookup thereafter (spec.md §3).
type Sideband struct {
	Successor Hash // carried by the codec; the ledger leaves it zero on commit
	Account   Hash // redundant for state/open, authoritative for legacy
	Balance   Amount
	Height    int64
	Timestamp time.Time
	Details   Details
}

// AccountInfo is the per-account head record in the accounts table.
type AccountInfo struct {
	Head           Hash
	Representative Hash
	Open           Hash
	Balance        Amount
	Modified       time.Time
	BlockCount     int64
	Epoch          Epoch
}

// PendingKey identifies a pending (unreceived send) entry.
type PendingKey struct {
	Destination Hash
	Send        Hash
}

// PendingInfo is the value stored per PendingKey: created when a send
// commits, destroyed when its matching receive commits.
type PendingInfo struct {
	Source Hash
	Amount Amount
	Epoch  Epoch
}

// ConfirmationHeightInfo is the per-account confirmation-height record:
// strictly monotonic increasing, with Frontier the confirmed tip at that
// height.
type ConfirmationHeightInfo struct {
	Height   int64
	Frontier Hash
}
