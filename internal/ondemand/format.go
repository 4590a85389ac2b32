package ondemand

import (
	"encoding/binary"
	"fmt"
	"math"
)

// SampleFormat describes how samples are laid out in a DecodedRange buffer.
// All multi-byte formats are little-endian.
type SampleFormat int

const (
	FormatNone SampleFormat = iota
	FormatU8
	FormatS16
	FormatS32
	FormatF32
	FormatF64
)

// String returns the short name of the format
func (f SampleFormat) String() string {
	switch f {
	case FormatU8:
		return "u8"
	case FormatS16:
		return "s16"
	case FormatS32:
		return "s32"
	case FormatF32:
		return "f32"
	case FormatF64:
		return "f64"
	default:
		return "none"
	}
}

// Size returns the number of bytes one sample occupies
func (f SampleFormat) Size() int {
	switch f {
	case FormatU8:
		return 1
	case FormatS16:
		return 2
	case FormatS32, FormatF32:
		return 4
	case FormatF64:
		return 8
	default:
		return 0
	}
}

// OutputFormat is the sample representation handed back by Decode.
type OutputFormat int

const (
	OutputInt16 OutputFormat = iota
	OutputFloat32
)

// String returns the short name of the output format
func (o OutputFormat) String() string {
	if o == OutputInt16 {
		return "int16"
	}
	return "float32"
}

// Size returns the byte width of one output sample
func (o OutputFormat) Size() int {
	if o == OutputInt16 {
		return 2
	}
	return 4
}

// SampleFormat returns the cache format that stores samples already in this
// output representation. Silence is cached this way.
func (o OutputFormat) SampleFormat() SampleFormat {
	if o == OutputInt16 {
		return FormatS16
	}
	return FormatF32
}

// OutputFor picks the output representation for a decoded source format.
// 8 and 16 bit sources come out as 16-bit integers, everything wider as float.
func OutputFor(src SampleFormat) OutputFormat {
	switch src {
	case FormatU8, FormatS16:
		return OutputInt16
	default:
		return OutputFloat32
	}
}

// Block holds one channel of materialized samples. Only the slice matching
// Format is populated.
type Block struct {
	Format  OutputFormat
	Int16   []int16
	Float32 []float32
}

// NewBlock allocates a zeroed block of length samples
func NewBlock(format OutputFormat, length int) *Block {
	b := &Block{Format: format}
	if format == OutputInt16 {
		b.Int16 = make([]int16, length)
	} else {
		b.Float32 = make([]float32, length)
	}
	return b
}

// Len returns the number of samples the block can hold
func (b *Block) Len() int {
	if b.Format == OutputInt16 {
		return len(b.Int16)
	}
	return len(b.Float32)
}

// Float64 returns sample i scaled to [-1, 1)
func (b *Block) Float64(i int) float64 {
	if b.Format == OutputInt16 {
		return float64(b.Int16[i]) / 32768
	}
	return float64(b.Float32[i])
}

// convertSample reads sample in from src, stored as format f, and writes it to
// dst at index out.
func convertSample(dst *Block, out int, src []byte, f SampleFormat, in int) error {
	switch {
	case f == FormatU8 && dst.Format == OutputInt16:
		dst.Int16[out] = int16(int(src[in])-0x80) << 8
	case f == FormatS16 && dst.Format == OutputInt16:
		dst.Int16[out] = int16(binary.LittleEndian.Uint16(src[in*2:]))
	case f == FormatS32 && dst.Format == OutputFloat32:
		v := int32(binary.LittleEndian.Uint32(src[in*4:]))
		dst.Float32[out] = float32(float64(v) * (1.0 / (1 << 31)))
	case f == FormatF32 && dst.Format == OutputFloat32:
		dst.Float32[out] = math.Float32frombits(binary.LittleEndian.Uint32(src[in*4:]))
	case f == FormatF64 && dst.Format == OutputFloat32:
		dst.Float32[out] = float32(math.Float64frombits(binary.LittleEndian.Uint64(src[in*8:])))
	default:
		return fmt.Errorf("%w: %s to %s", ErrUnsupportedFormat, f, dst.Format)
	}
	return nil
}
