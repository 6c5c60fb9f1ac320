package model

import (
	"context"
	"hash/fnv"
	"regexp"
	"strings"
)

var tokenPattern = regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*|\p{N}+`)

// Hashing is a deterministic feature-hashing bag-of-words model. It needs no
// weights or device and is used for development and tests.
type Hashing struct {
	dimension int
}

func NewHashing(dimension int) *Hashing {
	return &Hashing{dimension: dimension}
}

func (h *Hashing) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = h.vector(text)
	}
	return out, nil
}

func (h *Hashing) vector(text string) []float32 {
	vec := make([]float32, h.dimension)
	nonzero := false
	for _, tok := range tokenPattern.FindAllString(strings.ToLower(text), -1) {
		sum := hash64(tok)
		idx := int(sum % uint64(h.dimension))
		// the top bit picks the sign so colliding tokens tend to cancel
		if sum>>63 == 1 {
			vec[idx]--
		} else {
			vec[idx]++
		}
	}
	for _, x := range vec {
		if x != 0 {
			nonzero = true
			break
		}
	}
	if !nonzero {
		// no tokens, or tokens that cancelled out: fall back to one bucket
		// keyed by the whole text so the vector can be normalized
		vec[int(hash64(text)%uint64(h.dimension))] = 1
	}
	return vec
}

func hash64(s string) uint64 {
	hasher := fnv.New64a()
	hasher.Write([]byte(s))
	return hasher.Sum64()
}

func (h *Hashing) Dimension() int { return h.dimension }

func (h *Hashing) Identity() string { return identity(ProviderHashing, "fnv64a") }

func (h *Hashing) Close() error { return nil }
