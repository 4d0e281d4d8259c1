// Package testutil provides fixtures and fakes shared by package tests.
package testutil

import (
	"crypto/sha512"
	"encoding/binary"
)

const (
	mtN         = 624
	mtM         = 397
	mtMatrixA   = 0x9908b0df
	mtUpperMask = 0x80000000
	mtLowerMask = 0x7fffffff
)

// mersenne is an MT19937 generator with SHA-512 string seeding. Fixture
// bytes are fixed by it, and the digest constants in fixtures.go depend on
// that stream.
type mersenne struct {
	mt  [mtN]uint32
	mti int
}

func newMersenne(seed string) *mersenne {
	m := &mersenne{}
	m.initByArray(seedKey(seed))
	return m
}

// seedKey turns seed+sha512(seed) into little-endian 32-bit words of the
// equivalent big integer, dropping leading zero words.
func seedKey(seed string) []uint32 {
	sum := sha512.Sum512([]byte(seed))
	raw := append([]byte(seed), sum[:]...)

	var key []uint32
	for end := len(raw); end > 0; end -= 4 {
		start := end - 4
		if start < 0 {
			start = 0
		}
		var word [4]byte
		copy(word[4-(end-start):], raw[start:end])
		key = append(key, binary.BigEndian.Uint32(word[:]))
	}
	for len(key) > 1 && key[len(key)-1] == 0 {
		key = key[:len(key)-1]
	}
	return key
}

func (m *mersenne) initGenrand(s uint32) {
	m.mt[0] = s
	for i := 1; i < mtN; i++ {
		m.mt[i] = 1812433253*(m.mt[i-1]^(m.mt[i-1]>>30)) + uint32(i)
	}
	m.mti = mtN
}

func (m *mersenne) initByArray(key []uint32) {
	m.initGenrand(19650218)
	i, j := 1, 0
	k := mtN
	if len(key) > k {
		k = len(key)
	}
	for ; k > 0; k-- {
		m.mt[i] = (m.mt[i] ^ ((m.mt[i-1] ^ (m.mt[i-1] >> 30)) * 1664525)) + key[j] + uint32(j)
		i++
		j++
		if i >= mtN {
			m.mt[0] = m.mt[mtN-1]
			i = 1
		}
		if j >= len(key) {
			j = 0
		}
	}
	for k = mtN - 1; k > 0; k-- {
		m.mt[i] = (m.mt[i] ^ ((m.mt[i-1] ^ (m.mt[i-1] >> 30)) * 1566083941)) - uint32(i)
		i++
		if i >= mtN {
			m.mt[0] = m.mt[mtN-1]
			i = 1
		}
	}
	m.mt[0] = 0x80000000
}

func (m *mersenne) uint32() uint32 {
	if m.mti >= mtN {
		for kk := 0; kk < mtN; kk++ {
			y := (m.mt[kk] & mtUpperMask) | (m.mt[(kk+1)%mtN] & mtLowerMask)
			next := m.mt[(kk+mtM)%mtN] ^ (y >> 1)
			if y&1 != 0 {
				next ^= mtMatrixA
			}
			m.mt[kk] = next
		}
		m.mti = 0
	}

	y := m.mt[m.mti]
	m.mti++
	y ^= y >> 11
	y ^= (y << 7) & 0x9d2c5680
	y ^= (y << 15) & 0xefc60000
	y ^= y >> 18
	return y
}

// PseudoRandomBytes returns size deterministic bytes derived from seed.
func PseudoRandomBytes(seed string, size int) []byte {
	m := newMersenne(seed)
	out := make([]byte, size)
	for i := range out {
		out[i] = byte(m.uint32() >> 24)
	}
	return out
}
