// Package fork implements the read-through fork backend (C12): on a local
// state miss, the store consults a remote upstream node pinned at a fixed
// fork block, caching responses in bounded LRU caches so a key is fetched
// again only after it has been evicted.
package fork

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"

	"starkdevnet/core/felt"
)

// Upstream is the remote node the fork backend reads through to. It is out
// of scope per spec §1 in the same sense as the Cairo VM and the L1 RPC
// client: only the operations this package needs are specified here; a
// production binary wires this to a real Starknet JSON-RPC client.
type Upstream interface {
	StorageAt(ctx context.Context, block uint64, addr, key felt.Felt) (felt.Felt, error)
	NonceAt(ctx context.Context, block uint64, addr felt.Felt) (felt.Felt, error)
	ClassHashAt(ctx context.Context, block uint64, addr felt.Felt) (felt.Felt, error)
}

const defaultCacheSize = 8192

type storageKey struct {
	addr felt.Felt
	key  felt.Felt
}

// Reader satisfies core/state.ForkReader: every read is pinned at
// ForkBlock and cached in an LRU of defaultCacheSize entries per read kind;
// a cached value is not re-queried, an evicted one is fetched again at the
// same ForkBlock (spec §5: "fork cache is shared but copy-on-read from
// upstream and never mutated after insert").
type Reader struct {
	upstream  Upstream
	forkBlock uint64

	storage   *lru.Cache[storageKey, felt.Felt]
	nonce     *lru.Cache[felt.Felt, felt.Felt]
	classHash *lru.Cache[felt.Felt, felt.Felt]
}

// New returns a Reader pinned at forkBlock, caching up to cacheSize entries
// per read kind. cacheSize <= 0 selects a sensible default.
func New(upstream Upstream, forkBlock uint64, cacheSize int) *Reader {
	if cacheSize <= 0 {
		cacheSize = defaultCacheSize
	}
	storage, _ := lru.New[storageKey, felt.Felt](cacheSize)
	nonce, _ := lru.New[felt.Felt, felt.Felt](cacheSize)
	classHash, _ := lru.New[felt.Felt, felt.Felt](cacheSize)
	return &Reader{
		upstream:  upstream,
		forkBlock: forkBlock,
		storage:   storage,
		nonce:     nonce,
		classHash: classHash,
	}
}

// ForkBlock reports the ceiling every upstream read is pinned at.
func (r *Reader) ForkBlock() uint64 { return r.forkBlock }

// GetStorageAt implements core/state.ForkReader.
func (r *Reader) GetStorageAt(addr, key felt.Felt) (felt.Felt, error) {
	k := storageKey{addr: addr, key: key}
	if v, ok := r.storage.Get(k); ok {
		return v, nil
	}
	v, err := r.upstream.StorageAt(context.Background(), r.forkBlock, addr, key)
	if err != nil {
		logrus.WithFields(logrus.Fields{"addr": addr, "key": key, "err": err}).Warn("fork: upstream storage read failed")
		return felt.Zero, err
	}
	r.storage.Add(k, v)
	return v, nil
}

// GetNonceAt implements core/state.ForkReader.
func (r *Reader) GetNonceAt(addr felt.Felt) (felt.Felt, error) {
	if v, ok := r.nonce.Get(addr); ok {
		return v, nil
	}
	v, err := r.upstream.NonceAt(context.Background(), r.forkBlock, addr)
	if err != nil {
		logrus.WithFields(logrus.Fields{"addr": addr, "err": err}).Warn("fork: upstream nonce read failed")
		return felt.Zero, err
	}
	r.nonce.Add(addr, v)
	return v, nil
}

// GetClassHashAt implements core/state.ForkReader.
func (r *Reader) GetClassHashAt(addr felt.Felt) (felt.Felt, error) {
	if v, ok := r.classHash.Get(addr); ok {
		return v, nil
	}
	v, err := r.upstream.ClassHashAt(context.Background(), r.forkBlock, addr)
	if err != nil {
		logrus.WithFields(logrus.Fields{"addr": addr, "err": err}).Warn("fork: upstream class-hash read failed")
		return felt.Zero, err
	}
	r.classHash.Add(addr, v)
	return v, nil
}
