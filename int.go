package utxohandler

import (
	"bytes"
	"encoding/binary"
	"io"
	"math"
)

// assumed endian-ness
var byteOrder = binary.BigEndian

type integerIntern interface {
	uint8 | int8 | uint16 | int16 | uint32 | int32 | uint64 | int64
}

func ReadInteger[T integerIntern](r io.Reader, pval *T) error {
	return binary.Read(r, byteOrder, pval)
}

func WriteInteger[T integerIntern](w io.Writer, val T) error {
	return binary.Write(w, byteOrder, val)
}

func EncodeInteger[T integerIntern](v T) []byte {
	var buf bytes.Buffer
	if err := binary.Write(&buf, byteOrder, v); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

func DecodeInteger[T integerIntern](data []byte) T {
	var ret T
	if err := binary.Read(bytes.NewReader(data), byteOrder, &ret); err != nil {
		panic(err)
	}
	return ret
}

// DecodeIntegerStrict is DecodeInteger for untrusted data: length must match exactly
func DecodeIntegerStrict[T integerIntern](data []byte) (T, bool) {
	var ret T
	if len(data) != binary.Size(ret) {
		return ret, false
	}
	return DecodeInteger[T](data), true
}

// AddInt64 returns a+b and false if the sum does not fit into int64
func AddInt64(a, b int64) (int64, bool) {
	if (b > 0 && a > math.MaxInt64-b) || (b < 0 && a < math.MinInt64-b) {
		return 0, false
	}
	return a + b, true
}

// SumInt64 adds up all values. Returns false on overflow
func SumInt64(values ...int64) (int64, bool) {
	ret := int64(0)
	var ok bool
	for _, v := range values {
		if ret, ok = AddInt64(ret, v); !ok {
			return 0, false
		}
	}
	return ret, true
}
