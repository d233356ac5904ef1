package rpc

import (
	"github.com/gagliardetto/solana-go"
	solanarpc "github.com/gagliardetto/solana-go/rpc"

	"github.com/coachpo/mangogate/internal/domain/schema"
)

// MemcmpFilter selects program accounts whose bytes at Offset equal Bytes.
type MemcmpFilter struct {
	Offset uint64
	Bytes  solana.PublicKey
}

func (f MemcmpFilter) rpcFilter() solanarpc.RPCFilter {
	return solanarpc.RPCFilter{Memcmp: &solanarpc.RPCFilterMemcmp{
		Offset: f.Offset,
		Bytes:  solana.Base58(f.Bytes.Bytes()),
	}}
}

// rawAccount converts a typed account read; nil means the address holds no account.
func rawAccount(address solana.PublicKey, info *solanarpc.Account) schema.RawAccount {
	if info == nil {
		return schema.RawAccount{Address: address, Absent: true}
	}
	raw := schema.RawAccount{Address: address, Lamports: info.Lamports, Owner: info.Owner}
	if info.Data != nil {
		raw.Data = info.Data.GetBinary()
	}
	return raw
}

// chunkKeys splits keys into groups of at most size.
func chunkKeys(keys []solana.PublicKey, size int) [][]solana.PublicKey {
	if size <= 0 {
		size = len(keys)
	}
	chunks := make([][]solana.PublicKey, 0, (len(keys)+size-1)/size)
	for start := 0; start < len(keys); start += size {
		end := start + size
		if end > len(keys) {
			end = len(keys)
		}
		chunks = append(chunks, keys[start:end])
	}
	return chunks
}
