package codectest

import (
	"math/big"

	"github.com/gagliardetto/solana-go"
)

const (
	serumMarketSize = 388
	serumNodeSize   = 72
	serumEventSize  = 88
)

// SerumMarket describes the fields written into a synthetic spot market account.
type SerumMarket struct {
	Flags        uint64
	EventQueue   solana.PublicKey
	Bids         solana.PublicKey
	Asks         solana.PublicKey
	BaseMint     solana.PublicKey
	QuoteMint    solana.PublicKey
	BaseLotSize  uint64
	QuoteLotSize uint64
}

// SpotMarketAccount encodes a v2 spot market account.
func SpotMarketAccount(m SerumMarket) []byte {
	b := make([]byte, serumMarketSize)
	copy(b, "serum")
	flags := m.Flags
	if flags == 0 {
		flags = 1 | 2
	}
	putU64(b, 5, flags)
	putKey(b, 53, m.BaseMint)
	putKey(b, 85, m.QuoteMint)
	putKey(b, 253, m.EventQueue)
	putKey(b, 285, m.Bids)
	putKey(b, 317, m.Asks)
	putU64(b, 349, m.BaseLotSize)
	putU64(b, 357, m.QuoteLotSize)
	copy(b[381:], "padding")
	return b
}

// SpotBookAccount encodes a spot bids (bids=true) or asks slab holding the leaves.
func SpotBookAccount(bids bool, leaves ...Leaf) []byte {
	sorted := sortedLeaves(bids, leaves)
	root, inner, leafIndex, total := layoutTree(len(sorted))
	capacity := total
	if capacity < 4 {
		capacity = 4
	}
	b := make([]byte, 5+8+32+capacity*serumNodeSize+7)
	copy(b, "serum")
	flags := uint64(1 | 64)
	if bids {
		flags = 1 | 32
	}
	putU64(b, 5, flags)
	slab := b[13:]
	putU32(slab, 0, uint32(total))
	putU32(slab, 20, root)
	putU32(slab, 24, uint32(len(sorted)))
	nodes := slab[32:]
	for i, children := range inner {
		node := nodes[i*serumNodeSize:]
		putU32(node, 0, 1)
		putU32(node, 24, children[0])
		putU32(node, 28, children[1])
	}
	for i, kl := range sorted {
		node := nodes[int(leafIndex[i])*serumNodeSize:]
		putU32(node, 0, 2)
		node[4] = kl.leaf.OwnerSlot
		putU128(node, 8, kl.key)
		putKey(node, 24, kl.leaf.Owner)
		putU64(node, 56, kl.leaf.Quantity)
		putU64(node, 64, kl.leaf.ClientOrderID)
	}
	copy(b[len(b)-7:], "padding")
	return b
}

// SerumEvent describes one spot event-queue entry.
type SerumEvent struct {
	Flags                  uint8
	NativeQuantityReleased uint64
	NativeQuantityPaid     uint64
	NativeFeeOrRebate      uint64
	OrderID                *big.Int
	OpenOrders             solana.PublicKey
	ClientOrderID          uint64
}

// SpotEventQueueAccount encodes events oldest first into a queue with allocLen slots.
func SpotEventQueueAccount(allocLen int, events ...SerumEvent) []byte {
	if allocLen < len(events) {
		allocLen = len(events)
	}
	b := make([]byte, 37+allocLen*serumEventSize+7)
	copy(b, "serum")
	putU64(b, 5, 1|16)
	putU32(b, 13, 0)
	putU32(b, 21, uint32(len(events)))
	putU32(b, 29, uint32(len(events)))
	for i, ev := range events {
		node := b[37+i*serumEventSize:]
		node[0] = ev.Flags
		putU64(node, 8, ev.NativeQuantityReleased)
		putU64(node, 16, ev.NativeQuantityPaid)
		putU64(node, 24, ev.NativeFeeOrRebate)
		if ev.OrderID != nil {
			putU128(node, 32, ev.OrderID)
		}
		putKey(node, 48, ev.OpenOrders)
		putU64(node, 80, ev.ClientOrderID)
	}
	copy(b[len(b)-7:], "padding")
	return b
}

// OpenOrdersAccount encodes a minimal initialized open-orders account.
func OpenOrdersAccount(market, owner solana.PublicKey) []byte {
	b := make([]byte, 3228)
	copy(b, "serum")
	putU64(b, 5, 1|4)
	putKey(b, 13, market)
	putKey(b, 45, owner)
	copy(b[len(b)-7:], "padding")
	return b
}
