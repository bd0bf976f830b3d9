package keystring

import (
	"encoding/binary"
	"math"
	"math/big"

	"github.com/cockroachdb/apd/v3"
	"github.com/corvusdb/corvus/pkg/document"
)

// Decimal values order against ints and doubles through a shared prefix: the
// ordering bytes of the largest double below the decimal, flagged with a
// continuation marker. The continuation block then orders decimals that fall
// between two adjacent doubles, and carries enough information to rebuild
// the decimal exactly:
//
//	[2 bytes big-endian biased exponent][15 bytes big-endian coefficient]
//
// with the coefficient normalized toward 34 significant digits so that
// (exponent, coefficient) lexicographic order equals numeric order. A
// decimal exactly equal to a double encodes as that double with no
// continuation, which is what makes NumberDecimal(5), NumberLong(5) and 5.0
// index identically.
const (
	continuationSize = 17
	decimalBias      = 6176
	decimalMaxDigits = 34
)

func (b *Builder) appendDecimal(d *apd.Decimal) {
	switch d.Form {
	case apd.NaN, apd.NaNSignaling:
		b.tb.AppendDecimal(0)
		b.writeByte(markerNaN)
		return
	case apd.Infinite:
		b.tb.AppendDecimal(0)
		b.appendLargePayload(math.Float64bits(math.Inf(1)), false, d.Negative, nil)
		return
	}
	if d.IsZero() {
		b.tb.AppendDecimalZero(clampBiasedExponent(int64(d.Exponent)+decimalBias), d.Negative)
		b.writeByte(markerZero)
		return
	}

	exp6 := byte(uint64(int64(d.Exponent)+decimalBias) & 0x3F)
	b.tb.AppendDecimal(exp6)

	neg := d.Negative
	m := new(apd.Decimal).Abs(d)

	f, _ := m.Float64() // overflow yields +Inf, underflow yields 0
	if fx := exactDecimalFromFloat(f); fx != nil && fx.Cmp(m) == 0 {
		b.appendMagnitude(f, neg, dcmEqual, nil)
		return
	}

	base := f
	if math.IsInf(base, 1) {
		base = math.MaxFloat64
	}
	// Walk down to the largest double strictly below the decimal. Float64
	// rounds to nearest, so at most one step is ever taken.
	for base > 0 {
		fx := exactDecimalFromFloat(base)
		if fx != nil && fx.Cmp(m) < 0 {
			break
		}
		base = math.Nextafter(base, math.Inf(-1))
	}

	b.appendMagnitude(base, neg, dcmContinuation, decimalContinuation(m))
}

func clampBiasedExponent(biased int64) uint16 {
	if biased < 0 {
		return 0
	}
	if biased > 12287 {
		return 12287
	}
	return uint16(biased)
}

// exactDecimalFromFloat returns the exact decimal expansion of a finite
// float, or nil for infinities. Doubles are dyadic rationals, so the
// expansion is always finite: f = a/2^k becomes a*5^k * 10^-k.
func exactDecimalFromFloat(f float64) *apd.Decimal {
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return nil
	}
	if f == 0 {
		return new(apd.Decimal)
	}
	r := new(big.Rat).SetFloat64(f)
	k := r.Denom().BitLen() - 1
	coeff := new(big.Int).Mul(r.Num(), new(big.Int).Exp(big.NewInt(5), big.NewInt(int64(k)), nil))
	coeff.Abs(coeff)
	var bi apd.BigInt
	bi.SetMathBigInt(coeff)
	d := apd.NewWithBigInt(&bi, int32(-k))
	return d
}

// decimalContinuation builds the 17-byte exact representation of a positive
// decimal magnitude.
func decimalContinuation(m *apd.Decimal) []byte {
	reduced, _ := new(apd.Decimal).Reduce(m)
	coeff := reduced.Coeff.MathBigInt()
	exp := int64(reduced.Exponent)
	digits := int64(reduced.NumDigits())

	if digits > decimalMaxDigits {
		// Out of the 34-digit profile: truncate for ordering purposes.
		drop := digits - decimalMaxDigits
		coeff.Quo(coeff, pow10(drop))
		exp += drop
		digits = decimalMaxDigits
	}

	pad := decimalMaxDigits - digits
	if maxPad := exp + decimalBias; pad > maxPad {
		pad = maxPad
	}
	if pad > 0 {
		coeff.Mul(coeff, pow10(pad))
		exp -= pad
	}

	out := make([]byte, continuationSize)
	binary.BigEndian.PutUint16(out[0:2], clampBiasedExponent(exp+decimalBias))
	cb := coeff.Bytes()
	copy(out[continuationSize-len(cb):], cb)
	return out
}

// decodeDecimalContinuation rebuilds the decimal from its continuation block
// and restores the stored exponent via the six exponent bits.
func decodeDecimalContinuation(cont []byte, exp6 byte, neg bool) document.Value {
	biased := int64(binary.BigEndian.Uint16(cont[0:2]))
	coeff := new(big.Int).SetBytes(cont[2:continuationSize])
	var bi apd.BigInt
	bi.SetMathBigInt(coeff)
	d := apd.NewWithBigInt(&bi, int32(biased-decimalBias))
	requantize(d, exp6)
	d.Negative = neg
	return document.Decimal(d)
}

// decimalFromExactDouble rebuilds a decimal whose value equals the given
// positive double exactly.
func decimalFromExactDouble(f float64, exp6 byte, neg bool) document.Value {
	d := exactDecimalFromFloat(f)
	requantize(d, exp6)
	d.Negative = neg
	return document.Decimal(d)
}

// requantize rescales d so the low six bits of its biased exponent match
// exp6, when a 34-digit representation allows it. This restores the
// distinction between 5, 5.0 and 5.00.
func requantize(d *apd.Decimal, exp6 byte) {
	reduced, _ := new(apd.Decimal).Reduce(d)
	digits := int64(reduced.NumDigits())
	qmax := int64(reduced.Exponent)
	qmin := qmax - (decimalMaxDigits - digits)
	for q := qmax; q >= qmin; q-- {
		if q+decimalBias < 0 {
			break
		}
		if byte(uint64(q+decimalBias)&0x3F) != exp6&0x3F {
			continue
		}
		if shift := qmax - q; shift > 0 {
			coeff := reduced.Coeff.MathBigInt()
			coeff.Mul(coeff, pow10(shift))
			reduced.Coeff.SetMathBigInt(coeff)
		}
		reduced.Exponent = int32(q)
		d.Set(reduced)
		return
	}
	d.Set(reduced)
}

func pow10(n int64) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(n), nil)
}
