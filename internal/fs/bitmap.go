package fs

import (
	"fmt"

	"github.com/rvos/kernel/internal/fs/blockcache"
)

// bitsPerBlock is the number of bits packed into one 512-byte block:
// 64 uint64 words, little-endian, per spec.md §4.5.
const bitsPerBlock = blockWords * 64
const blockWords = 64

// bitmapBlock is the raw on-disk shape of one bitmap block.
type bitmapBlock [blockWords]uint64

// Bitmap is a packed bit-vector spanning N contiguous cached blocks,
// ported from original_source/easy-fs/src/bitmap.rs's
// decompose-into-(block,word,bit) allocation scheme.
type Bitmap struct {
	startBlock int
	nblocks    int
	cache      *blockcache.Manager
}

// NewBitmap describes a bitmap occupying nblocks blocks starting at
// startBlock.
func NewBitmap(startBlock, nblocks int, cache *blockcache.Manager) *Bitmap {
	return &Bitmap{startBlock: startBlock, nblocks: nblocks, cache: cache}
}

// Maximum returns the largest number of bits this bitmap can track.
func (b *Bitmap) Maximum() int { return b.nblocks * bitsPerBlock }

// Alloc scans blocks in order, and within a block scans 64-bit groups,
// using the count of trailing set bits to find the first zero bit. It
// sets that bit and returns its global index. Returns false if the
// bitmap is full.
func (b *Bitmap) Alloc() (int, bool) {
	for blk := 0; blk < b.nblocks; blk++ {
		s := b.cache.Get(b.startBlock + blk)
		found := -1
		blockcache.Modify(s, 0, func(bm *bitmapBlock) {
			for w, word := range bm {
				if word != ^uint64(0) {
					bit := trailingOnes(word)
					bm[w] = word | (1 << uint(bit))
					found = blk*bitsPerBlock + w*64 + bit
					return
				}
			}
		})
		b.cache.Release(s)
		if found >= 0 {
			return found, true
		}
	}
	return 0, false
}

// Dealloc clears bit i, panicking if it was already clear — a
// programmer-error invariant violation per spec.md §7 kind (4).
func (b *Bitmap) Dealloc(i int) {
	blk, word, bit := decompose(i)
	s := b.cache.Get(b.startBlock + blk)
	blockcache.Modify(s, 0, func(bm *bitmapBlock) {
		mask := uint64(1) << uint(bit)
		if bm[word]&mask == 0 {
			panic(fmt.Sprintf("bitmap: dealloc of already-clear bit %d", i))
		}
		bm[word] &^= mask
	})
	b.cache.Release(s)
}

func decompose(bit int) (blockPos, wordPos, bitPos int) {
	blockPos = bit / bitsPerBlock
	bit %= bitsPerBlock
	return blockPos, bit / 64, bit % 64
}

// trailingOnes returns the count of consecutive set bits starting from
// bit 0, i.e. the position of the lowest zero bit.
func trailingOnes(w uint64) int {
	n := 0
	for w&1 == 1 {
		n++
		w >>= 1
	}
	return n
}
