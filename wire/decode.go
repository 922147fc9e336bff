package wire

import (
	"encoding/binary"
	"fmt"

	"github.com/latticenode/node/core"
)

// DecodeBlock parses the fixed wire layout for typ back into a Block.
func DecodeBlock(typ core.BlockType, data []byte) (*core.Block, error) {
	b := &core.Block{Type: typ}
	switch typ {
	case core.BlockSend:
		if len(data) != 32+32+16+64+8 {
			return nil, fmt.Errorf("wire: bad send length %d", len(data))
		}
		b.Previous = core.HashFromBytes(data[0:32])
		b.Destination = core.HashFromBytes(data[32:64])
		var bal [16]byte
		copy(bal[:], data[64:80])
		b.Balance = core.AmountFromBytes16(bal)
		copy(b.Signature[:], data[80:144])
		b.Work = binary.LittleEndian.Uint64(data[144:152])
	case core.BlockReceive:
		if len(data) != 32+32+64+8 {
			return nil, fmt.Errorf("wire: bad receive length %d", len(data))
		}
		b.Previous = core.HashFromBytes(data[0:32])
		b.Source = core.HashFromBytes(data[32:64])
		copy(b.Signature[:], data[64:128])
		b.Work = binary.LittleEndian.Uint64(data[128:136])
	case core.BlockOpen:
		if len(data) != 32+32+32+64+8 {
			return nil, fmt.Errorf("wire: bad open length %d", len(data))
		}
		b.Source = core.HashFromBytes(data[0:32])
		b.Representative = core.HashFromBytes(data[32:64])
		b.Account = core.HashFromBytes(data[64:96])
		copy(b.Signature[:], data[96:160])
		b.Work = binary.LittleEndian.Uint64(data[160:168])
	case core.BlockChange:
		if len(data) != 32+32+64+8 {
			return nil, fmt.Errorf("wire: bad change length %d", len(data))
		}
		b.Previous = core.HashFromBytes(data[0:32])
		b.Representative = core.HashFromBytes(data[32:64])
		copy(b.Signature[:], data[64:128])
		b.Work = binary.LittleEndian.Uint64(data[128:136])
	case core.BlockState:
		if len(data) != 32*4+16+64+8 {
			return nil, fmt.Errorf("wire: bad state length %d", len(data))
		}
		b.Account = core.HashFromBytes(data[0:32])
		b.Previous = core.HashFromBytes(data[32:64])
		b.Representative = core.HashFromBytes(data[64:96])
		var bal [16]byte
		copy(bal[:], data[96:112])
		b.Balance = core.AmountFromBytes16(bal)
		b.Link = core.HashFromBytes(data[112:144])
		copy(b.Signature[:], data[144:208])
		b.Work = binary.BigEndian.Uint64(data[208:216])
	default:
		return nil, fmt.Errorf("wire: unknown block type %d", typ)
	}
	return b, nil
}
