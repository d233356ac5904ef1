// Package codec decodes the on-chain account layouts of spot and perp markets.
package codec

import (
	"fmt"
	"math/big"

	bin "github.com/gagliardetto/binary"
	"github.com/shopspring/decimal"

	"github.com/coachpo/mangogate/errs"
)

const component = "codec"

var fixedOne = decimal.NewFromBigInt(new(big.Int).Lsh(big.NewInt(1), 48), 0)

func decodeErr(format string, args ...any) error {
	return errs.Decode(component, fmt.Sprintf(format, args...))
}

// decodeLayout decodes a fixed little-endian layout from the start of data.
func decodeLayout(data []byte, v any, what string) error {
	if err := bin.NewBinDecoder(data).Decode(v); err != nil {
		return errs.Decode(component, what+": layout mismatch", errs.WithCause(err))
	}
	return nil
}

// decodeAt decodes a fixed layout at offset off of the decoder's buffer.
func decodeAt(dec *bin.Decoder, off int, v any, what string) error {
	if err := dec.SetPosition(uint(off)); err != nil {
		return errs.Decode(component, what+": offset out of range", errs.WithCause(err))
	}
	if err := dec.Decode(v); err != nil {
		return errs.Decode(component, what+": layout mismatch", errs.WithCause(err))
	}
	return nil
}

// i80f48 converts a signed 80.48 fixed-point number.
func i80f48(v bin.Int128) decimal.Decimal {
	return decimal.NewFromBigInt(v.BigInt(), 0).DivRound(fixedOne, 20)
}

// critbitNode reports the shape of one slab node during validation.
type critbitNode struct {
	inner    bool
	leaf     bool
	children [2]uint32
}

// checkCritbit verifies that the nodes reachable from root form a tree of inner
// and leaf nodes holding exactly leafCount leaves. Traversals over a checked
// slab cannot index out of range or loop.
func checkCritbit(count int, root uint32, leafCount uint64, node func(idx uint32) critbitNode) error {
	if leafCount == 0 {
		return nil
	}
	if leafCount > uint64(count) {
		return decodeErr("book: leaf count %d exceeds %d nodes", leafCount, count)
	}
	seen := make([]bool, count)
	stack := []uint32{root}
	var leaves uint64
	for len(stack) > 0 {
		idx := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if int(idx) >= count {
			return decodeErr("book: node index %d out of range %d", idx, count)
		}
		if seen[idx] {
			return decodeErr("book: node %d reached twice", idx)
		}
		seen[idx] = true
		n := node(idx)
		switch {
		case n.leaf:
			leaves++
		case n.inner:
			stack = append(stack, n.children[0], n.children[1])
		default:
			return decodeErr("book: node %d is neither inner nor leaf", idx)
		}
	}
	if leaves != leafCount {
		return decodeErr("book: found %d leaves, header says %d", leaves, leafCount)
	}
	return nil
}
