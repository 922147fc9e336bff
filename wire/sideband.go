package wire

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/latticenode/node/core"
)

// detailsByte packs a state block's Details into the single byte described
// in spec.md §6: bit 7 is_send, bit 6 is_receive, bit 5 is_epoch, bits 4-0
// the epoch ordinal.
func detailsByte(d core.Details) byte {
	var b byte
	if d.IsSend {
		b |= 1 << 7
	}
	if d.IsReceive {
		b |= 1 << 6
	}
	if d.IsEpoch {
		b |= 1 << 5
	}
	b |= byte(d.Epoch) & 0x1f
	return b
}

func detailsFromByte(b byte) core.Details {
	return core.Details{
		IsSend:    b&(1<<7) != 0,
		IsReceive: b&(1<<6) != 0,
		IsEpoch:   b&(1<<5) != 0,
		Epoch:     core.Epoch(b & 0x1f),
	}
}

// EncodeSideband serializes a sideband for appending to the stored block
// body (spec.md §6): successor(32) ‖ [account(32) if not state/open] ‖
// [height(8 BE) if not open, else implicit 1] ‖ [balance(16) if
// receive/change/open] ‖ timestamp(8 BE) ‖ [details(1) if state].
func EncodeSideband(typ core.BlockType, sb *core.Sideband) []byte {
	out := make([]byte, 0, 64)
	out = append(out, sb.Successor.Bytes()...)

	if typ != core.BlockState && typ != core.BlockOpen {
		out = append(out, sb.Account.Bytes()...)
	}
	if typ != core.BlockOpen {
		var h [8]byte
		binary.BigEndian.PutUint64(h[:], uint64(sb.Height))
		out = append(out, h[:]...)
	}
	if typ == core.BlockReceive || typ == core.BlockChange || typ == core.BlockOpen {
		bal := sb.Balance.Bytes16()
		out = append(out, bal[:]...)
	}
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(sb.Timestamp.UnixNano()))
	out = append(out, ts[:]...)

	if typ == core.BlockState {
		out = append(out, detailsByte(sb.Details))
	}
	return out
}

// DecodeSideband parses the layout produced by EncodeSideband.
func DecodeSideband(typ core.BlockType, data []byte) (*core.Sideband, error) {
	sb := &core.Sideband{}
	pos := 0
	need := func(n int) error {
		if pos+n > len(data) {
			return fmt.Errorf("wire: sideband truncated")
		}
		return nil
	}

	if err := need(32); err != nil {
		return nil, err
	}
	sb.Successor = core.HashFromBytes(data[pos : pos+32])
	pos += 32

	if typ != core.BlockState && typ != core.BlockOpen {
		if err := need(32); err != nil {
			return nil, err
		}
		sb.Account = core.HashFromBytes(data[pos : pos+32])
		pos += 32
	}

	if typ != core.BlockOpen {
		if err := need(8); err != nil {
			return nil, err
		}
		sb.Height = int64(binary.BigEndian.Uint64(data[pos : pos+8]))
		pos += 8
	} else {
		sb.Height = 1
	}

	if typ == core.BlockReceive || typ == core.BlockChange || typ == core.BlockOpen {
		if err := need(16); err != nil {
			return nil, err
		}
		var bal [16]byte
		copy(bal[:], data[pos:pos+16])
		sb.Balance = core.AmountFromBytes16(bal)
		pos += 16
	}

	if err := need(8); err != nil {
		return nil, err
	}
	sb.Timestamp = time.Unix(0, int64(binary.BigEndian.Uint64(data[pos:pos+8]))).UTC()
	pos += 8

	if typ == core.BlockState {
		if err := need(1); err != nil {
			return nil, err
		}
		sb.Details = detailsFromByte(data[pos])
		pos++
	}
	return sb, nil
}
