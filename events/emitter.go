// Package events implements the observer callbacks from spec.md §6:
// on_block_confirmed, on_active_stopped, on_vote and on_difficulty. It
// generalizes the teacher's events.Emitter pub/sub broker (subscribe
// before emit, synchronous delivery, panic-isolated handlers) from a
// single generic Event type to four strongly-typed observer streams, since
// spec.md gives each observer a fixed, distinct payload shape rather than
// a single polymorphic one.
package events

import (
	"log"
	"sync"

	"github.com/latticenode/node/core"
)

// ConfirmationType labels why a block was confirmed, carried on
// BlockConfirmed, which the confirmation-height processor emits, so
// subscribers can distinguish a real election from a bootstrap catch-up
// cementation.
type ConfirmationType string

const (
	ConfirmationActiveQuorum        ConfirmationType = "active_confirmed_quorum"
	ConfirmationInactiveHeight      ConfirmationType = "inactive_confirmation_height"
	ConfirmationAlreadyCemented     ConfirmationType = "already_cemented"
)

// BlockConfirmed is the payload for on_block_confirmed: fired exactly once
// per winner block, never from an I/O thread (spec.md §6).
type BlockConfirmed struct {
	Hash      core.Hash
	Account   core.Account
	Amount    core.Amount
	IsSend    bool
	Type      ConfirmationType
}

// ActiveStopped is the payload for on_active_stopped: an election was
// erased without ever reaching quorum.
type ActiveStopped struct {
	Hash core.Hash
}

// VoteCode classifies how active transactions processed an incoming vote
// (spec.md §4.2 vote ingress).
type VoteCode string

const (
	VoteCodeVote        VoteCode = "vote"
	VoteCodeReplay      VoteCode = "replay"
	VoteCodeIndeterminate VoteCode = "indeterminate"
)

// VoteReceived is the payload for on_vote.
type VoteReceived struct {
	Account  core.Account
	Sequence uint64
	Code     VoteCode
}

// Emitter is a bounded synchronous pub/sub broadcaster. Subscribe before
// Emit; handlers registered after an Emit call will simply miss it, same
// as the teacher's Emitter.
type Emitter struct {
	mu                sync.RWMutex
	blockConfirmed    []func(BlockConfirmed)
	activeStopped     []func(ActiveStopped)
	voteReceived      []func(VoteReceived)
	difficulty        []func(uint64)
	once              map[core.Hash][]func(BlockConfirmed)
}

// New creates an Emitter with no subscribers.
func New() *Emitter {
	return &Emitter{once: make(map[core.Hash][]func(BlockConfirmed))}
}

func (e *Emitter) OnBlockConfirmed(h func(BlockConfirmed)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.blockConfirmed = append(e.blockConfirmed, h)
}

func (e *Emitter) OnActiveStopped(h func(ActiveStopped)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.activeStopped = append(e.activeStopped, h)
}

func (e *Emitter) OnVote(h func(VoteReceived)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.voteReceived = append(e.voteReceived, h)
}

func (e *Emitter) OnDifficulty(h func(uint64)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.difficulty = append(e.difficulty, h)
}

// Once registers h to fire the next time hash is confirmed, then
// unregisters itself. Grounded in futurehead's json_payment_observer,
// which the original uses to await a single payment's confirmation and
// tear itself down after firing (see DESIGN.md). No package in this module
// registers a Once handler.
func (e *Emitter) Once(hash core.Hash, h func(BlockConfirmed)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.once[hash] = append(e.once[hash], h)
}

func safeCall[T any](label string, h func(T), v T) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[events] %s handler panicked: %v", label, r)
		}
	}()
	h(v)
}

func (e *Emitter) EmitBlockConfirmed(v BlockConfirmed) {
	e.mu.Lock()
	handlers := append([]func(BlockConfirmed){}, e.blockConfirmed...)
	onceHandlers := e.once[v.Hash]
	delete(e.once, v.Hash)
	e.mu.Unlock()
	for _, h := range handlers {
		safeCall("block_confirmed", h, v)
	}
	for _, h := range onceHandlers {
		safeCall("block_confirmed_once", h, v)
	}
}

func (e *Emitter) EmitActiveStopped(v ActiveStopped) {
	e.mu.RLock()
	handlers := e.activeStopped
	e.mu.RUnlock()
	for _, h := range handlers {
		safeCall("active_stopped", h, v)
	}
}

func (e *Emitter) EmitVote(v VoteReceived) {
	e.mu.RLock()
	handlers := e.voteReceived
	e.mu.RUnlock()
	for _, h := range handlers {
		safeCall("vote", h, v)
	}
}

func (e *Emitter) EmitDifficulty(v uint64) {
	e.mu.RLock()
	handlers := e.difficulty
	e.mu.RUnlock()
	for _, h := range handlers {
		safeCall("difficulty", h, v)
	}
}
