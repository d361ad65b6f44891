// Package radix packs short names drawn from a fixed 41-symbol alphabet
// into 64-bit words.
package radix

import (
	"errors"
	"fmt"
	"strings"

	"Meshflow/internal/core/wire"
)

// Alphabet lists the encodable symbols. Index 0 is the pad symbol and never
// appears in encoded input.
const Alphabet = "\rabcdefghijklmnopqrstuvwxyz0123456789._:/"

// Base is the size of Alphabet.
const Base = uint64(len(Alphabet))

// ChunkSize is the number of symbols folded into one word. 41^11 fits in a
// uint64; 41^12 does not.
const ChunkSize = 11

var (
	ErrSymbol   = errors.New("radix: symbol outside alphabet")
	ErrTooLong  = errors.New("radix: too many words")
	ErrBadWord  = errors.New("radix: word does not decode")
	symbolIndex [256]uint8
)

func init() {
	for i := 1; i < len(Alphabet); i++ {
		symbolIndex[Alphabet[i]] = uint8(i)
	}
}

// Encodable reports whether Encode accepts s.
func Encodable(s string) bool {
	s = strings.ToLower(s)
	for i := 0; i < len(s); i++ {
		if symbolIndex[s[i]] == 0 {
			return false
		}
	}
	return true
}

// Encode lowercases s and folds each ChunkSize run of symbols into a word.
func Encode(s string) ([]uint64, error) {
	s = strings.ToLower(s)
	words := make([]uint64, 0, (len(s)+ChunkSize-1)/ChunkSize)
	for start := 0; start < len(s); start += ChunkSize {
		end := min(start+ChunkSize, len(s))
		var w uint64
		for i := start; i < end; i++ {
			idx := symbolIndex[s[i]]
			if idx == 0 {
				return nil, fmt.Errorf("%w: %q at %d", ErrSymbol, s[i], i)
			}
			w = w*Base + uint64(idx)
		}
		words = append(words, w)
	}
	return words, nil
}

// Decode expands words produced by Encode.
func Decode(words []uint64) (string, error) {
	var sb strings.Builder
	var chunk [ChunkSize]byte
	for _, w := range words {
		n := 0
		for w > 0 {
			if n == ChunkSize {
				return "", ErrBadWord
			}
			chunk[n] = Alphabet[w%Base]
			if chunk[n] == Alphabet[0] {
				return "", ErrBadWord
			}
			w /= Base
			n++
		}
		if n == 0 {
			return "", ErrBadWord
		}
		for i := n - 1; i >= 0; i-- {
			sb.WriteByte(chunk[i])
		}
	}
	return sb.String(), nil
}

// AppendBytes writes a count byte followed by the words in little-endian order.
func AppendBytes(dst []byte, words []uint64) ([]byte, error) {
	if len(words) > 255 {
		return nil, ErrTooLong
	}
	dst = append(dst, byte(len(words)))
	for _, w := range words {
		dst = wire.AppendUint64(dst, w)
	}
	return dst, nil
}

// ReadBytes reads a word list written by AppendBytes at *pos.
func ReadBytes(b []byte, pos *int) ([]uint64, error) {
	n, err := wire.ReadByte(b, pos)
	if err != nil {
		return nil, err
	}
	words := make([]uint64, n)
	for i := range words {
		if words[i], err = wire.ReadUint64(b, pos); err != nil {
			return nil, err
		}
	}
	return words, nil
}
