// Package entropy provides the raw random sources behind the draw engine.
//
// Every source yields unsigned 16-bit integers in [0, 65536). Sources are
// tried in tier order by the draw engine; a source never retries on its own.
package entropy

import (
	"context"
	crand "crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Max is the exclusive upper bound of every value a Source returns.
const Max = 1 << 16

// Tier identifies an entropy source in provenance records.
type Tier string

const (
	TierQuantum   Tier = "anu_qrng"
	TierRandomOrg Tier = "random_org"
	TierCrypto    Tier = "crypto"
)

// ErrBadResponse indicates a provider answered with an unusable payload.
var ErrBadResponse = errors.New("entropy provider returned an invalid response")

// ErrNotConfigured indicates a source is missing required credentials.
var ErrNotConfigured = errors.New("entropy provider is not configured")

// Source reads n raw 16-bit values.
type Source interface {
	Tier() Tier
	Read(ctx context.Context, n int) ([]int, error)
}

// Crypto reads from crypto/rand. It is the last tier and does no I/O beyond
// the operating system generator.
type Crypto struct {
	// Reader overrides crypto/rand.Reader; nil uses the default.
	Reader io.Reader
}

// Tier returns TierCrypto.
func (Crypto) Tier() Tier { return TierCrypto }

// Read returns n values read two bytes at a time.
func (c Crypto) Read(ctx context.Context, n int) ([]int, error) {
	if n <= 0 {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r := c.Reader
	if r == nil {
		r = crand.Reader
	}
	buf := make([]byte, 2*n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("read crypto entropy: %w", err)
	}
	out := make([]int, n)
	for i := range out {
		out[i] = int(binary.BigEndian.Uint16(buf[2*i:]))
	}
	return out, nil
}

func validate(values []int, want int) ([]int, error) {
	if len(values) == 0 {
		return nil, fmt.Errorf("%w: no values", ErrBadResponse)
	}
	if len(values) > want {
		values = values[:want]
	}
	for _, v := range values {
		if v < 0 || v >= Max {
			return nil, fmt.Errorf("%w: value %d out of range", ErrBadResponse, v)
		}
	}
	return values, nil
}
