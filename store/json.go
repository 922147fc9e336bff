package store

import (
	"fmt"
	"math/big"
	"time"

	"github.com/latticenode/node/core"
)

// parseAmount decodes a decimal string into a core.Amount.
func parseAmount(s string) (core.Amount, error) {
	b, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return core.Amount{}, fmt.Errorf("store: invalid amount %q", s)
	}
	return core.AmountFromBig(b)
}

// These json* shadow types exist because core.Hash is a fixed-size byte
// array and core.Amount wraps an unexported *big.Int, neither of which
// round-trips through encoding/json on their own. Kept next to LevelStore
// since Memory never serializes at all (it stores core values directly).

type jsonAccountInfo struct {
	Head           string `json:"head"`
	Representative string `json:"representative"`
	Open           string `json:"open"`
	Balance        string `json:"balance"`
	Modified       int64  `json:"modified"`
	BlockCount     int64  `json:"block_count"`
	Epoch          int8   `json:"epoch"`
}

func fromCoreAccountInfo(a *core.AccountInfo) jsonAccountInfo {
	return jsonAccountInfo{
		Head:           a.Head.String(),
		Representative: a.Representative.String(),
		Open:           a.Open.String(),
		Balance:        a.Balance.String(),
		Modified:       a.Modified.UnixNano(),
		BlockCount:     a.BlockCount,
		Epoch:          int8(a.Epoch),
	}
}

func (j jsonAccountInfo) toCore() (*core.AccountInfo, error) {
	head, err := core.HashFromHex(j.Head)
	if err != nil {
		return nil, fmt.Errorf("store: account_info.head: %w", err)
	}
	rep, err := core.HashFromHex(j.Representative)
	if err != nil {
		return nil, fmt.Errorf("store: account_info.representative: %w", err)
	}
	open, err := core.HashFromHex(j.Open)
	if err != nil {
		return nil, fmt.Errorf("store: account_info.open: %w", err)
	}
	amount, err := parseAmount(j.Balance)
	if err != nil {
		return nil, err
	}
	return &core.AccountInfo{
		Head:           head,
		Representative: rep,
		Open:           open,
		Balance:        amount,
		Modified:       time.Unix(0, j.Modified).UTC(),
		BlockCount:     j.BlockCount,
		Epoch:          core.Epoch(j.Epoch),
	}, nil
}

type jsonPendingInfo struct {
	Source string `json:"source"`
	Amount string `json:"amount"`
	Epoch  int8   `json:"epoch"`
}

func fromCorePendingInfo(p *core.PendingInfo) jsonPendingInfo {
	return jsonPendingInfo{Source: p.Source.String(), Amount: p.Amount.String(), Epoch: int8(p.Epoch)}
}

func (j jsonPendingInfo) toCore() (*core.PendingInfo, error) {
	src, err := core.HashFromHex(j.Source)
	if err != nil {
		return nil, err
	}
	amt, err := parseAmount(j.Amount)
	if err != nil {
		return nil, err
	}
	return &core.PendingInfo{Source: src, Amount: amt, Epoch: core.Epoch(j.Epoch)}, nil
}

type jsonConfHeight struct {
	Height   int64  `json:"height"`
	Frontier string `json:"frontier"`
}

func fromCoreConfHeight(c *core.ConfirmationHeightInfo) jsonConfHeight {
	return jsonConfHeight{Height: c.Height, Frontier: c.Frontier.String()}
}

func (j jsonConfHeight) toCore() (*core.ConfirmationHeightInfo, error) {
	f, err := core.HashFromHex(j.Frontier)
	if err != nil {
		return nil, err
	}
	return &core.ConfirmationHeightInfo{Height: j.Height, Frontier: f}, nil
}

type jsonUnchecked struct {
	Type    byte   `json:"type"`
	Body    []byte `json:"body"`
	Arrived int64  `json:"arrived"`
}
