package hyperloglog

import (
	"errors"
	"fmt"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/dgryski/go-farm"
	metro "github.com/dgryski/go-metro"
	"github.com/spaolacci/murmur3"
)

var (
	// ErrUnknownHasher is returned when a hasher name or tag is not registered.
	ErrUnknownHasher = errors.New("hyperloglog: unknown hasher")

	// ErrHasherMismatch is returned when combining sketches filled by two
	// different built-in hashers.
	ErrHasherMismatch = errors.New("hyperloglog: sketches use different hashers")
)

// Hasher maps an element to a 64-bit hash. The quality of the estimate
// depends only on the hash bits being uniformly distributed; collisions are
// expected and accounted for.
type Hasher interface {
	Sum64(data []byte) uint64
}

// HasherFunc adapts a plain function to the Hasher interface.
type HasherFunc func(data []byte) uint64

func (f HasherFunc) Sum64(data []byte) uint64 { return f(data) }

// XXHash is the default hasher.
type XXHash struct{}

func (XXHash) Sum64(data []byte) uint64 { return xxhash.Sum64(data) }

// Murmur3 hashes with the 64-bit half of MurmurHash3 x64_128.
type Murmur3 struct{}

func (Murmur3) Sum64(data []byte) uint64 { return murmur3.Sum64(data) }

// Metro hashes with MetroHash64 and a zero seed.
type Metro struct{}

func (Metro) Sum64(data []byte) uint64 { return metro.Hash64(data, 0) }

// Farm hashes with FarmHash Hash64.
type Farm struct{}

func (Farm) Sum64(data []byte) uint64 { return farm.Hash64(data) }

// HasherTag identifies a built-in hasher in persisted sketches.
type HasherTag uint8

const (
	TagCustom HasherTag = iota
	TagXXHash
	TagMurmur3
	TagMetro
	TagFarm
)

var builtinHashers = []struct {
	tag    HasherTag
	name   string
	hasher Hasher
}{
	{TagXXHash, "xxhash", XXHash{}},
	{TagMurmur3, "murmur3", Murmur3{}},
	{TagMetro, "metro", Metro{}},
	{TagFarm, "farm", Farm{}},
}

// TagOf returns the tag of a built-in hasher, or TagCustom for anything
// else (including HasherFunc values).
func TagOf(h Hasher) HasherTag {
	switch h.(type) {
	case XXHash:
		return TagXXHash
	case Murmur3:
		return TagMurmur3
	case Metro:
		return TagMetro
	case Farm:
		return TagFarm
	default:
		return TagCustom
	}
}

// HasherForTag is the inverse of TagOf for built-in hashers.
func HasherForTag(tag HasherTag) (Hasher, error) {
	for _, b := range builtinHashers {
		if b.tag == tag {
			return b.hasher, nil
		}
	}
	return nil, fmt.Errorf("%w: tag %d", ErrUnknownHasher, tag)
}

// HasherByName looks up a built-in hasher by its lower-case name.
func HasherByName(name string) (Hasher, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, b := range builtinHashers {
		if b.name == name {
			return b.hasher, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownHasher, name)
}

// HasherName returns the registered name of a built-in hasher, or "custom".
func HasherName(h Hasher) string {
	tag := TagOf(h)
	for _, b := range builtinHashers {
		if b.tag == tag {
			return b.name
		}
	}
	return "custom"
}

// compatible reports whether two sketches can be combined: the parameters
// must match, and so must the hashers unless either one is custom. Custom
// hashers cannot be told apart and are trusted.
func compatible(pa Params, ha Hasher, pb Params, hb Hasher) error {
	if pa != pb {
		return fmt.Errorf("%w: %s vs %s", ErrParamsMismatch, pa, pb)
	}
	ta, tb := TagOf(ha), TagOf(hb)
	if ta != tb && ta != TagCustom && tb != TagCustom {
		return fmt.Errorf("%w: %s vs %s", ErrHasherMismatch, HasherName(ha), HasherName(hb))
	}
	return nil
}
