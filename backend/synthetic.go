// Package backend holds endpoint implementations that don't correspond to a
// real device: the synthetic zero/0xff/random/address pattern generator.
package backend

import (
	"sync"

	"github.com/sgcopy/sgcopy/internal/endpoint"
)

// Pattern selects what SyntheticEndpoint.ReadAt fills a buffer with.
type Pattern int

const (
	// PatternZero fills every byte with 0x00.
	PatternZero Pattern = iota
	// PatternFF fills every byte with 0xff.
	PatternFF
	// PatternRandom fills each byte from a deterministic PRNG seeded at
	// construction, so two runs with the same seed produce identical data
	// without needing crypto/rand.
	PatternRandom
	// PatternAddress fills each block with its own LBA, repeated as a
	// big-endian uint32 in every 4-byte word of the block, the same
	// layout internal/worker's address-check scan expects.
	PatternAddress
)

// SyntheticEndpoint is an in-process data source with no backing device,
// used for pattern-based (addr/zero/ff/random) benchmarking and for
// exercising the copy engine without real sg hardware. Writes are
// discarded, like /dev/null, since there's nothing to persist data to.
type SyntheticEndpoint struct {
	pattern   Pattern
	blockSize int
	size      int64

	mu   sync.Mutex
	rand uint64 // xorshift64 state, only used by PatternRandom
}

// NewSyntheticEndpoint creates a synthetic source of the given pattern,
// block size, and total size in bytes (-1 for unbounded). seed selects the
// PatternRandom byte stream; it is ignored by the other patterns.
func NewSyntheticEndpoint(pattern Pattern, blockSize int, size int64, seed uint64) *SyntheticEndpoint {
	if seed == 0 {
		seed = 0x9e3779b97f4a7c15
	}
	return &SyntheticEndpoint{
		pattern:   pattern,
		blockSize: blockSize,
		size:      size,
		rand:      seed,
	}
}

// ReadAt fills p with the endpoint's pattern, treating off as the byte
// offset used to derive each block's LBA for PatternAddress.
func (e *SyntheticEndpoint) ReadAt(p []byte, off int64) (int, error) {
	if e.size >= 0 && off >= e.size {
		return 0, nil
	}
	n := len(p)
	if e.size >= 0 {
		if remaining := e.size - off; int64(n) > remaining {
			n = int(remaining)
		}
	}
	p = p[:n]

	switch e.pattern {
	case PatternZero:
		for i := range p {
			p[i] = 0
		}
	case PatternFF:
		for i := range p {
			p[i] = 0xff
		}
	case PatternRandom:
		e.fillRandom(p)
	case PatternAddress:
		e.fillAddress(p, off)
	}
	return n, nil
}

// WriteAt discards data, matching /dev/null's treatment of the output
// side; a synthetic endpoint only ever stands in for an input.
func (e *SyntheticEndpoint) WriteAt(p []byte, off int64) (int, error) {
	return len(p), nil
}

func (e *SyntheticEndpoint) Size() int64 { return e.size }
func (e *SyntheticEndpoint) Close() error { return nil }
func (e *SyntheticEndpoint) Kind() endpoint.Kind { return endpoint.KindSynthetic }
func (e *SyntheticEndpoint) Fd() int { return -1 }
func (e *SyntheticEndpoint) ReservedBufferSize() int { return 0 }

func (e *SyntheticEndpoint) fillRandom(p []byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := 0; i < len(p); i += 8 {
		e.rand ^= e.rand << 13
		e.rand ^= e.rand >> 7
		e.rand ^= e.rand << 17
		v := e.rand
		for j := 0; j < 8 && i+j < len(p); j++ {
			p[i+j] = byte(v >> (8 * j))
		}
	}
}

// fillAddress writes each block's LBA (off/blockSize + block index) into
// every 4-byte word of the block, big-endian, matching what
// internal/worker's checkAddresses scan expects to find.
func (e *SyntheticEndpoint) fillAddress(p []byte, off int64) {
	bs := e.blockSize
	if bs <= 0 {
		bs = len(p)
	}
	startLBA := off / int64(bs)

	blocks := len(p) / bs
	for b := 0; b < blocks; b++ {
		lba := uint32(startLBA + int64(b))
		block := p[b*bs : (b+1)*bs]
		words := len(block) / 4
		for w := 0; w < words; w++ {
			o := w * 4
			block[o] = byte(lba >> 24)
			block[o+1] = byte(lba >> 16)
			block[o+2] = byte(lba >> 8)
			block[o+3] = byte(lba)
		}
	}
}

var _ endpoint.Endpoint = (*SyntheticEndpoint)(nil)
