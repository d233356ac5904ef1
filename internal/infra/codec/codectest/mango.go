package codectest

import (
	"math/big"

	"github.com/gagliardetto/solana-go"
)

const (
	perpMarketSize  = 320
	bookNodeSize    = 88
	perpEventSize   = 200
	mangoAccountLen = 4296
	perpAccountsOff = 1080
	perpAccountSize = 96
)

// PerpMarket describes the fields written into a synthetic perp market account.
type PerpMarket struct {
	Group        solana.PublicKey
	Bids         solana.PublicKey
	Asks         solana.PublicKey
	EventQueue   solana.PublicKey
	BaseLotSize  int64
	QuoteLotSize int64
	OpenInterest int64
	SeqNum       uint64
}

func meta(b []byte, dataType uint8) {
	b[0] = dataType
	b[1] = 0
	b[2] = 1
}

// PerpMarketAccount encodes a perp market account.
func PerpMarketAccount(m PerpMarket) []byte {
	b := make([]byte, perpMarketSize)
	meta(b, 4)
	putKey(b, 8, m.Group)
	putKey(b, 40, m.Bids)
	putKey(b, 72, m.Asks)
	putKey(b, 104, m.EventQueue)
	putU64(b, 136, uint64(m.QuoteLotSize))
	putU64(b, 144, uint64(m.BaseLotSize))
	putU64(b, 184, uint64(m.OpenInterest))
	putU64(b, 200, m.SeqNum)
	return b
}

// PerpBookAccount encodes a perp bids (bids=true) or asks book side holding the leaves.
func PerpBookAccount(bids bool, leaves ...Leaf) []byte {
	sorted := sortedLeaves(bids, leaves)
	root, inner, leafIndex, total := layoutTree(len(sorted))
	capacity := total
	if capacity < 4 {
		capacity = 4
	}
	b := make([]byte, 40+capacity*bookNodeSize)
	if bids {
		meta(b, 5)
	} else {
		meta(b, 6)
	}
	putU64(b, 8, uint64(total))
	putU32(b, 28, root)
	putU64(b, 32, uint64(len(sorted)))
	nodes := b[40:]
	for i, children := range inner {
		node := nodes[i*bookNodeSize:]
		putU32(node, 0, 1)
		putU32(node, 24, children[0])
		putU32(node, 28, children[1])
	}
	for i, kl := range sorted {
		node := nodes[int(leafIndex[i])*bookNodeSize:]
		putU32(node, 0, 2)
		node[4] = kl.leaf.OwnerSlot
		node[7] = kl.leaf.TimeInForce
		putU128(node, 8, kl.key)
		putKey(node, 24, kl.leaf.Owner)
		putU64(node, 56, kl.leaf.Quantity)
		putU64(node, 64, kl.leaf.ClientOrderID)
		putU64(node, 80, kl.leaf.Timestamp)
	}
	return b
}

// PerpFill describes one perp fill event.
type PerpFill struct {
	TakerSell          bool
	Timestamp          uint64
	SeqNum             uint64
	Maker              solana.PublicKey
	MakerOrderID       *big.Int
	MakerClientOrderID uint64
	Taker              solana.PublicKey
	TakerOrderID       *big.Int
	TakerClientOrderID uint64
	PriceLots          int64
	QuantityLots       int64
}

// PerpEventQueueAccount encodes fills oldest first into a queue with allocLen slots.
// Sequence numbers are assigned from the fill position when SeqNum is zero.
func PerpEventQueueAccount(allocLen int, fills ...PerpFill) []byte {
	if allocLen <= len(fills) {
		allocLen = len(fills) + 1
	}
	b := make([]byte, 32+allocLen*perpEventSize)
	meta(b, 8)
	putU64(b, 8, 0)
	putU64(b, 16, uint64(len(fills)))
	putU64(b, 24, uint64(len(fills)))
	for i, f := range fills {
		node := b[32+i*perpEventSize:]
		node[0] = 0
		if f.TakerSell {
			node[1] = 1
		}
		seq := f.SeqNum
		if seq == 0 {
			seq = uint64(i)
		}
		putU64(node, 8, f.Timestamp)
		putU64(node, 16, seq)
		putKey(node, 24, f.Maker)
		if f.MakerOrderID != nil {
			putU128(node, 56, f.MakerOrderID)
		}
		putU64(node, 72, f.MakerClientOrderID)
		putKey(node, 112, f.Taker)
		if f.TakerOrderID != nil {
			putU128(node, 144, f.TakerOrderID)
		}
		putU64(node, 160, f.TakerClientOrderID)
		putU64(node, 184, uint64(f.PriceLots))
		putU64(node, 192, uint64(f.QuantityLots))
	}
	return b
}

// MangoAccount encodes a margin account with spot open-orders references by market index.
func MangoAccount(group, owner solana.PublicKey, openOrders map[int]solana.PublicKey) []byte {
	b := make([]byte, mangoAccountLen)
	meta(b, 1)
	putKey(b, 8, group)
	putKey(b, 40, owner)
	for idx, key := range openOrders {
		putKey(b, 600+idx*32, key)
	}
	return b
}

// SetPerpBasePosition writes the base position in lots of the perp account at marketIndex.
func SetPerpBasePosition(account []byte, marketIndex int, baseLots int64) {
	putU64(account, perpAccountsOff+marketIndex*perpAccountSize, uint64(baseLots))
}
