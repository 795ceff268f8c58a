// Package preVerificationGas computes the gas a bundler charges for including a
// user operation in its bundle transaction: calldata cost of the packed
// envelope plus fixed per-operation overhead.
package preVerificationGas

import (
	"fmt"
	"math/big"

	"github.com/Layr-Labs/userop-go/pkg/userOperation"
)

const (
	// DefaultSignatureSize is the length of a 65-byte ECDSA signature
	DefaultSignatureSize = 65

	// placeholderPreVerificationGas is packed when the envelope has none yet
	placeholderPreVerificationGas = 21000
)

// Overheads is the overhead configuration of the cost model. It is passed by value
// and never mutated; start from DefaultOverheads and change individual fields.
type Overheads struct {
	// Fixed is the per-bundle transaction cost, amortized over BundleSize operations
	Fixed uint64
	// PerUserOp is the fixed per-operation overhead
	PerUserOp uint64
	// PerUserOpWord is charged for every 32-byte word of the packed envelope
	PerUserOpWord uint64
	// NonZeroByte is the per-byte calldata cost
	NonZeroByte uint64
	// ZeroByte is the calldata cost of a zero byte (the discount is NonZeroByte-ZeroByte)
	ZeroByte uint64
	// BundleSize is the assumed number of operations sharing one bundle transaction
	BundleSize uint64
	// SigSize is the minimum signature length the envelope is sized with
	SigSize int
}

// DefaultOverheads returns the overheads used by the reference bundler.
func DefaultOverheads() Overheads {
	return Overheads{
		Fixed:         21000,
		PerUserOp:     18300,
		PerUserOpWord: 4,
		NonZeroByte:   16,
		ZeroByte:      4,
		BundleSize:    1,
		SigSize:       DefaultSignatureSize,
	}
}

// Calculate returns the pre-verification gas for op:
//
//	ceil(Fixed/BundleSize) + PerUserOp + PerUserOpWord*words + NonZeroByte*len - (NonZeroByte-ZeroByte)*zeros
//
// over the ABI-packed envelope. ABI offset and length words are priced by their
// significant byte length (interior zero bytes are not discounted) and the
// signature is priced as if every byte were non-zero. Both keep the result
// non-decreasing as any payload grows, including a signature growing past SigSize.
func Calculate(op userOperation.UserOperation, ov Overheads) (*big.Int, error) {
	if ov.ZeroByte > ov.NonZeroByte {
		return nil, fmt.Errorf("zero byte cost %d exceeds non-zero byte cost %d", ov.ZeroByte, ov.NonZeroByte)
	}
	bundleSize := ov.BundleSize
	if bundleSize == 0 {
		bundleSize = 1
	}
	sigSize := ov.SigSize
	if sigSize <= 0 {
		sigSize = DefaultSignatureSize
	}

	sized := op.Copy()
	if sized.PreVerificationGas == nil {
		sized.PreVerificationGas = big.NewInt(placeholderPreVerificationGas)
	}
	if len(sized.Signature) < sigSize {
		sized.Signature = dummyBytes(sigSize)
	}

	packed, err := sized.Pack()
	if err != nil {
		return nil, fmt.Errorf("failed to pack user operation: %w", err)
	}

	discount := ov.NonZeroByte - ov.ZeroByte
	cost := CalldataCost(packed, ov) + discount*(interiorZeroBytes(packed)+signatureZeroBytes(packed))
	return new(big.Int).SetUint64(cost + (ov.Fixed+bundleSize-1)/bundleSize), nil
}

// CalldataCost is the bundle-independent part of the model for an already packed envelope.
func CalldataCost(packed []byte, ov Overheads) uint64 {
	length := uint64(len(packed))
	var zeros uint64
	for _, b := range packed {
		if b == 0 {
			zeros++
		}
	}
	words := (length + 31) / 32
	discount := ov.NonZeroByte - ov.ZeroByte

	return ov.PerUserOp + ov.PerUserOpWord*words + ov.NonZeroByte*length - discount*zeros
}

// dynamicHeadWords are the head slots of initCode, callData, paymasterAndData and signature.
var dynamicHeadWords = []int{2, 3, 9, 10}

// interiorZeroBytes counts zero bytes that follow the first significant byte of
// every offset word in the head and every length word in the tail.
func interiorZeroBytes(packed []byte) uint64 {
	var total uint64
	for _, slot := range dynamicHeadWords {
		offsetWord := word(packed, slot*32)
		if offsetWord == nil {
			continue
		}
		total += countInterior(offsetWord)
		offset := new(big.Int).SetBytes(offsetWord)
		if !offset.IsUint64() {
			continue
		}
		if lengthWord := word(packed, int(offset.Uint64())); lengthWord != nil {
			total += countInterior(lengthWord)
		}
	}
	return total
}

// signatureSlot is the head slot of the signature offset.
const signatureSlot = 10

// signatureZeroBytes counts zero bytes inside the signature payload, excluding
// its word padding.
func signatureZeroBytes(packed []byte) uint64 {
	offsetWord := word(packed, signatureSlot*32)
	if offsetWord == nil {
		return 0
	}
	offset := new(big.Int).SetBytes(offsetWord)
	if !offset.IsUint64() || offset.Uint64() > uint64(len(packed)) {
		return 0
	}
	lengthWord := word(packed, int(offset.Uint64()))
	if lengthWord == nil {
		return 0
	}
	length := new(big.Int).SetBytes(lengthWord)
	start := int(offset.Uint64()) + 32
	if !length.IsUint64() || length.Uint64() > uint64(len(packed)-start) {
		return 0
	}
	var zeros uint64
	for _, b := range packed[start : start+int(length.Uint64())] {
		if b == 0 {
			zeros++
		}
	}
	return zeros
}

func word(packed []byte, at int) []byte {
	if at < 0 || at+32 > len(packed) {
		return nil
	}
	return packed[at : at+32]
}

func countInterior(w []byte) uint64 {
	i := 0
	for i < len(w) && w[i] == 0 {
		i++
	}
	var zeros uint64
	for ; i < len(w); i++ {
		if w[i] == 0 {
			zeros++
		}
	}
	return zeros
}

func dummyBytes(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = 1
	}
	return b
}
