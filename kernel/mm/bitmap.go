package mm

import (
	"math"
	"math/bits"
)

// BitmapWords returns the number of 64-bit words needed to track n bits.
func BitmapWords(n uint64) uint64 {
	return (n + 63) >> 6
}

// Bitmap tracks the state of a fixed number of items with one bit per item.
// Bits are numbered LSB-first within each 64-bit word. A set bit marks an
// item as in use.
//
// Bitmap does not own its storage; the words are supplied by the caller so a
// bitmap can live in memory obtained from a bump allocator.
type Bitmap struct {
	words []uint64
	len   uint64
}

// NewBitmap wraps words as a bitmap tracking n bits. All n bits are cleared
// and the bits of the last word past n are set so that FindFree never reports
// them. NewBitmap panics if words is too short.
func NewBitmap(words []uint64, n uint64) Bitmap {
	wordCount := BitmapWords(n)
	if uint64(len(words)) < wordCount {
		panic("bitmap storage too small")
	}

	words = words[:wordCount]
	for i := range words {
		words[i] = 0
	}

	if tail := n & 63; tail != 0 {
		words[wordCount-1] = math.MaxUint64 << tail
	}

	return Bitmap{words: words, len: n}
}

// Len returns the number of bits tracked by the bitmap.
func (b *Bitmap) Len() uint64 {
	return b.len
}

// Get returns the state of bit i.
func (b *Bitmap) Get(i uint64) bool {
	return b.words[i>>6]&(1<<(i&63)) != 0
}

// Set marks bit i as in use.
func (b *Bitmap) Set(i uint64) {
	b.words[i>>6] |= 1 << (i & 63)
}

// Clear marks bit i as free.
func (b *Bitmap) Clear(i uint64) {
	b.words[i>>6] &^= 1 << (i & 63)
}

// FindFree returns the index of the lowest clear bit. Fully set words are
// skipped without inspecting their bits. The second result is false if every
// bit is set.
func (b *Bitmap) FindFree() (uint64, bool) {
	for wordIndex, word := range b.words {
		if word == math.MaxUint64 {
			continue
		}

		return uint64(wordIndex)<<6 + uint64(bits.TrailingZeros64(^word)), true
	}

	return 0, false
}

// CountSet returns the number of set bits within the first Len() bits.
func (b *Bitmap) CountSet() uint64 {
	var count uint64
	for _, word := range b.words {
		count += uint64(bits.OnesCount64(word))
	}

	// discount the padding bits of the last word
	if tail := b.len & 63; tail != 0 {
		count -= 64 - tail
	}
	return count
}
