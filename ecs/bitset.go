package ecs

import "math/bits"

// bitset is a growable set of slot indices.
type bitset []uint64

func (b *bitset) set(i uint32) {
	word := int(i >> 6)
	if word >= len(*b) {
		grown := make(bitset, word+1, max(word+1, 2*len(*b)))
		copy(grown, *b)
		*b = grown
	}
	(*b)[word] |= 1 << (i & 63)
}

func (b bitset) clear(i uint32) {
	word := int(i >> 6)
	if word < len(b) {
		b[word] &^= 1 << (i & 63)
	}
}

func (b bitset) has(i uint32) bool {
	word := int(i >> 6)
	return word < len(b) && b[word]&(1<<(i&63)) != 0
}

// next returns the lowest set index >= from, or -1.
func (b bitset) next(from uint32) int {
	word := int(from >> 6)
	if word >= len(b) {
		return -1
	}
	w := b[word] &^ ((1 << (from & 63)) - 1)
	for {
		if w != 0 {
			return word<<6 | bits.TrailingZeros64(w)
		}
		word++
		if word >= len(b) {
			return -1
		}
		w = b[word]
	}
}

func (b bitset) count() int {
	n := 0
	for _, w := range b {
		n += bits.OnesCount64(w)
	}
	return n
}
