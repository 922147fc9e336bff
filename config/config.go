// Package config holds node configuration: the JSON-file-plus-Validate
// pattern from the teacher's config package, extended with the consensus
// and ledger knobs this domain needs (quorum fraction, soft cap, epoch
// signers, work thresholds).
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/latticenode/node/core"
	"github.com/latticenode/node/work"
)

// Config holds all node configuration.
type Config struct {
	NodeID  string `json:"node_id"`
	DataDir string `json:"data_dir"`
	RPCPort int    `json:"rpc_port"`
	P2PPort int    `json:"p2p_port"`

	// Active transactions / election tuning (spec.md §4.2, §4.3).
	ActiveElectionsSize             int           `json:"active_elections_size"`     // soft cap N
	ElectionTimeToLive              time.Duration `json:"election_time_to_live"`
	RequestLoopInterval             time.Duration `json:"request_loop_interval"`
	ConfirmedFrontiersMaxPendingSize int          `json:"confirmed_frontiers_max_pending_size"`
	MultiplierHistoryWindow         int           `json:"multiplier_history_window"`

	// Quorum (spec.md §4.3, glossary "Delta (quorum)").
	QuorumFractionNumerator   int64 `json:"quorum_fraction_numerator"`
	QuorumFractionDenominator int64 `json:"quorum_fraction_denominator"`
	OnlineWeightMinimum       uint64 `json:"online_weight_minimum"`

	// Genesis (spec.md §8 scenarios use G = 2^128-1 at genesis).
	GenesisAccount        string `json:"genesis_account"`
	GenesisRepresentative string `json:"genesis_representative"`

	// EpochSigners maps an epoch ordinal to the hex-encoded ed25519 public
	// key authorised to sign that epoch's upgrade blocks (spec.md §4.1).
	EpochSigners map[int]string `json:"epoch_signers"`

	// EpochLinks maps an epoch ordinal to its registered state-block link
	// marker (spec.md §4.1 "link == a registered epoch marker"). A state
	// block whose link matches one of these is a candidate epoch upgrade
	// rather than a send or receive.
	EpochLinks map[int]string `json:"epoch_links"`
}

// DefaultRequestLoopInterval mirrors nano's ~3s confirm-req cadence.
const DefaultRequestLoopInterval = 3 * time.Second

// DefaultElectionTimeToLive is the age at which an unconfirmed election is
// expired (spec.md §4.3).
const DefaultElectionTimeToLive = 5 * time.Minute

// DefaultConfig returns a single-node development configuration.
func DefaultConfig() *Config {
	return &Config{
		NodeID:                           "node0",
		DataDir:                          "./data",
		RPCPort:                          7076,
		P2PPort:                          7075,
		ActiveElectionsSize:              5000,
		ElectionTimeToLive:               DefaultElectionTimeToLive,
		RequestLoopInterval:              DefaultRequestLoopInterval,
		ConfirmedFrontiersMaxPendingSize: 10000,
		MultiplierHistoryWindow:          128,
		QuorumFractionNumerator:          67,
		QuorumFractionDenominator:        100,
		OnlineWeightMinimum:              60_000_000,
		EpochSigners:                     map[int]string{},
		EpochLinks:                       map[int]string{},
	}
}

// PrioritizedCutoff returns max(1, N/10), the top slice of elections
// eligible for active confirm-req (spec.md §4.2).
func (c *Config) PrioritizedCutoff() int {
	n := c.ActiveElectionsSize / 10
	if n < 1 {
		return 1
	}
	return n
}

// Load reads a JSON config file from path and validates required fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// Validate checks that all required fields are present and well-formed.
func (c *Config) Validate() error {
	if c.NodeID == "" {
		return fmt.Errorf("node_id must not be empty")
	}
	if c.DataDir == "" {
		return fmt.Errorf("data_dir must not be empty")
	}
	if c.RPCPort <= 0 || c.RPCPort > 65535 {
		return fmt.Errorf("rpc_port must be 1-65535, got %d", c.RPCPort)
	}
	if c.P2PPort <= 0 || c.P2PPort > 65535 {
		return fmt.Errorf("p2p_port must be 1-65535, got %d", c.P2PPort)
	}
	if c.ActiveElectionsSize <= 0 {
		return fmt.Errorf("active_elections_size must be positive")
	}
	if c.QuorumFractionDenominator <= 0 || c.QuorumFractionNumerator <= 0 ||
		c.QuorumFractionNumerator > c.QuorumFractionDenominator {
		return fmt.Errorf("invalid quorum fraction %d/%d", c.QuorumFractionNumerator, c.QuorumFractionDenominator)
	}
	for ord, hexKey := range c.EpochSigners {
		if _, err := core.HashFromHex(hexKey); err != nil {
			return fmt.Errorf("epoch_signers[%d]: %w", ord, err)
		}
	}
	for ord, hexLink := range c.EpochLinks {
		if _, err := core.HashFromHex(hexLink); err != nil {
			return fmt.Errorf("epoch_links[%d]: %w", ord, err)
		}
	}
	return nil
}

// Save writes the config to path as formatted JSON.
func Save(cfg *Config, path string) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// WorkThresholds builds the work.Thresholds this config implies. Currently
// always the defaults; kept as a method (rather than a package var) so a
// future config field can override it without changing call sites.
func (c *Config) WorkThresholds() *work.Thresholds {
	return work.DefaultThresholds()
}

// EpochSigner returns the configured signer account for an epoch ordinal,
// or (zero, false) if none is configured.
func (c *Config) EpochSigner(epoch core.Epoch) (core.Account, bool) {
	hexKey, ok := c.EpochSigners[int(epoch)]
	if !ok {
		return core.Account{}, false
	}
	acc, err := core.HashFromHex(hexKey)
	if err != nil {
		return core.Account{}, false
	}
	return acc, true
}

// EpochLink returns the registered link marker for an epoch ordinal, or
// (zero, false) if none is configured.
func (c *Config) EpochLink(epoch core.Epoch) (core.Hash, bool) {
	hexLink, ok := c.EpochLinks[int(epoch)]
	if !ok {
		return core.Hash{}, false
	}
	link, err := core.HashFromHex(hexLink)
	if err != nil {
		return core.Hash{}, false
	}
	return link, true
}

// IsEpochLink reports whether link matches any registered epoch marker
// (spec.md §4.1's `is_epoch_link` derived query), returning the epoch it
// upgrades to.
func (c *Config) IsEpochLink(link core.Hash) (core.Epoch, bool) {
	for ord, hexLink := range c.EpochLinks {
		if got, err := core.HashFromHex(hexLink); err == nil && got == link {
			return core.Epoch(ord), true
		}
	}
	return core.EpochUnknown, false
}
