// Package codectest builds synthetic on-chain account images for tests.
package codectest

import (
	"encoding/binary"
	"math/big"
	"sort"

	"github.com/gagliardetto/solana-go"
)

// Leaf describes one resting order to place in a synthetic book.
type Leaf struct {
	PriceLots     int64
	Seq           uint64
	Owner         solana.PublicKey
	Quantity      uint64
	ClientOrderID uint64
	OwnerSlot     uint8
	Timestamp     uint64
	TimeInForce   uint8
}

// Key returns the order key for the leaf as a spot or perp book would compute it.
func (l Leaf) Key(bids bool) *big.Int {
	seq := l.Seq
	if bids {
		seq = ^seq
	}
	k := new(big.Int).Lsh(big.NewInt(l.PriceLots), 64)
	return k.Or(k, new(big.Int).SetUint64(seq))
}

func putU32(b []byte, off int, v uint32) { binary.LittleEndian.PutUint32(b[off:], v) }
func putU64(b []byte, off int, v uint64) { binary.LittleEndian.PutUint64(b[off:], v) }

func putU128(b []byte, off int, v *big.Int) {
	mod := new(big.Int).Lsh(big.NewInt(1), 128)
	x := new(big.Int).Mod(v, mod)
	mask := new(big.Int).SetUint64(^uint64(0))
	lo := new(big.Int).And(x, mask).Uint64()
	hi := new(big.Int).Rsh(x, 64).Uint64()
	putU64(b, off, lo)
	putU64(b, off+8, hi)
}

func putKey(b []byte, off int, k solana.PublicKey) { copy(b[off:off+32], k[:]) }

// PutI80F48 writes a fixed-point value given as an integer numerator over 2^48.
func PutI80F48(b []byte, off int, raw *big.Int) { putU128(b, off, raw) }

type keyedLeaf struct {
	key  *big.Int
	leaf Leaf
}

func sortedLeaves(bids bool, leaves []Leaf) []keyedLeaf {
	out := make([]keyedLeaf, 0, len(leaves))
	for _, l := range leaves {
		out = append(out, keyedLeaf{key: l.Key(bids), leaf: l})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].key.Cmp(out[j].key) < 0 })
	return out
}

// layoutTree lays leaves out as a chain of inner nodes, each holding the smallest
// remaining leaf on its left. It returns the node tags and child links in order.
func layoutTree(n int) (root uint32, inner [][2]uint32, leafIndex []uint32, total int) {
	if n == 0 {
		return 0, nil, nil, 0
	}
	if n == 1 {
		return 0, nil, []uint32{0}, 1
	}
	// nodes: inner 0..n-2, leaves n-1..2n-2
	innerCount := n - 1
	leafIndex = make([]uint32, n)
	for i := range leafIndex {
		leafIndex[i] = uint32(innerCount + i)
	}
	inner = make([][2]uint32, innerCount)
	for i := 0; i < innerCount; i++ {
		right := uint32(i + 1)
		if i == innerCount-1 {
			right = leafIndex[n-1]
		}
		inner[i] = [2]uint32{leafIndex[i], right}
	}
	return 0, inner, leafIndex, 2*n - 1
}
