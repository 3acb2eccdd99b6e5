package types

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/holiman/uint256"
)

// WadDecimals is the number of fractional decimal digits carried by a Wad.
const WadDecimals = 18

var (
	// ErrOverflow is returned when a checked operation exceeds 256 bits.
	ErrOverflow = errors.New("fixed-point: arithmetic overflow")
	// ErrUnderflow is returned when a subtraction would produce a negative
	// value. Results are never clamped to zero.
	ErrUnderflow = errors.New("fixed-point: arithmetic underflow")
	// ErrDivisionByZero is returned when a division has a zero divisor.
	ErrDivisionByZero = errors.New("fixed-point: division by zero")
	// ErrInvalidWad is returned when a decimal string cannot be parsed.
	ErrInvalidWad = errors.New("fixed-point: invalid amount")
)

var wadUnit = uint256.NewInt(1_000_000_000_000_000_000)

// Wad is an unsigned fixed-point quantity scaled by 1e18. The raw integer
// value is what gets stored and transmitted; 1.0 is encoded as 1e18.
// All arithmetic is checked and truncating divisions always floor.
type Wad struct {
	v uint256.Int
}

// NewWad wraps a raw (already scaled) integer.
func NewWad(raw uint64) Wad {
	var w Wad
	w.v.SetUint64(raw)
	return w
}

// Whole returns n whole units, i.e. n * 1e18.
func Whole(n uint64) Wad {
	var w Wad
	w.v.Mul(uint256.NewInt(n), wadUnit)
	return w
}

// WadFromUint256 copies the supplied raw integer. A nil input yields zero.
func WadFromUint256(v *uint256.Int) Wad {
	var w Wad
	if v != nil {
		w.v.Set(v)
	}
	return w
}

// WadFromBig converts a non-negative big integer, failing on negative or
// oversized input.
func WadFromBig(v *big.Int) (Wad, error) {
	if v == nil {
		return Wad{}, nil
	}
	if v.Sign() < 0 {
		return Wad{}, ErrUnderflow
	}
	u, overflow := uint256.FromBig(v)
	if overflow {
		return Wad{}, ErrOverflow
	}
	return WadFromUint256(u), nil
}

// ParseWad parses a raw base-10 integer string such as "5000000000000000000".
func ParseWad(raw string) (Wad, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Wad{}, fmt.Errorf("%w: empty string", ErrInvalidWad)
	}
	var w Wad
	if err := w.v.SetFromDecimal(trimmed); err != nil {
		return Wad{}, fmt.Errorf("%w: %q", ErrInvalidWad, raw)
	}
	return w, nil
}

// MustWad is ParseWad for constants and tests. It panics on invalid input.
func MustWad(raw string) Wad {
	w, err := ParseWad(raw)
	if err != nil {
		panic(err)
	}
	return w
}

// MaxWad returns the largest representable value.
func MaxWad() Wad {
	var w Wad
	w.v.SetAllOne()
	return w
}

// Uint256 returns a copy of the raw integer.
func (w Wad) Uint256() *uint256.Int {
	return new(uint256.Int).Set(&w.v)
}

// Big returns the raw integer as a big.Int.
func (w Wad) Big() *big.Int {
	return w.v.ToBig()
}

// IsZero reports whether the value is zero.
func (w Wad) IsZero() bool {
	return w.v.IsZero()
}

// Cmp compares w and o and returns -1, 0 or +1.
func (w Wad) Cmp(o Wad) int {
	return w.v.Cmp(&o.v)
}

// Lt reports whether w < o.
func (w Wad) Lt(o Wad) bool {
	return w.v.Lt(&o.v)
}

// Add returns w + o.
func (w Wad) Add(o Wad) (Wad, error) {
	var out Wad
	if _, overflow := out.v.AddOverflow(&w.v, &o.v); overflow {
		return Wad{}, ErrOverflow
	}
	return out, nil
}

// Sub returns w - o, failing with ErrUnderflow when o > w.
func (w Wad) Sub(o Wad) (Wad, error) {
	var out Wad
	if _, underflow := out.v.SubOverflow(&w.v, &o.v); underflow {
		return Wad{}, ErrUnderflow
	}
	return out, nil
}

// MulDiv returns floor(w * mul / div) using a 512-bit intermediate product.
func (w Wad) MulDiv(mul, div Wad) (Wad, error) {
	if div.v.IsZero() {
		return Wad{}, ErrDivisionByZero
	}
	var out Wad
	if _, overflow := out.v.MulDivOverflow(&w.v, &mul.v, &div.v); overflow {
		return Wad{}, ErrOverflow
	}
	return out, nil
}

// String returns the raw base-10 integer.
func (w Wad) String() string {
	return w.v.Dec()
}

// Text renders the value as a decimal with all 18 fractional digits, e.g.
// "2.750000000000000000".
func (w Wad) Text() string {
	var whole, frac uint256.Int
	whole.DivMod(&w.v, wadUnit, &frac)
	fracDigits := frac.Dec()
	if pad := WadDecimals - len(fracDigits); pad > 0 {
		fracDigits = strings.Repeat("0", pad) + fracDigits
	}
	return whole.Dec() + "." + fracDigits
}

// MarshalJSON encodes the raw integer as a JSON string.
func (w Wad) MarshalJSON() ([]byte, error) {
	return json.Marshal(w.String())
}

// UnmarshalJSON accepts a JSON string or number holding the raw integer.
func (w *Wad) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(strings.TrimSpace(string(data)), `"`)
	parsed, err := ParseWad(raw)
	if err != nil {
		return err
	}
	*w = parsed
	return nil
}
