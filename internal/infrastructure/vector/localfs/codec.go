package localfs

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

var vectorMagic = [4]byte{'C', 'R', 'V', '1'}

const vectorHeaderSize = 12

// encodeVectors lays out vectors as magic, count, dimension, then row-major
// little-endian float32 values.
func encodeVectors(vectors [][]float32, dim int) []byte {
	buf := make([]byte, vectorHeaderSize+len(vectors)*dim*4)
	copy(buf, vectorMagic[:])
	binary.LittleEndian.PutUint32(buf[4:], uint32(len(vectors)))
	binary.LittleEndian.PutUint32(buf[8:], uint32(dim))

	off := vectorHeaderSize
	for _, v := range vectors {
		for _, x := range v {
			binary.LittleEndian.PutUint32(buf[off:], math.Float32bits(x))
			off += 4
		}
	}
	return buf
}

func decodeVectors(buf []byte) ([][]float32, int, error) {
	if len(buf) < vectorHeaderSize || [4]byte(buf[:4]) != vectorMagic {
		return nil, 0, errors.New("vectors file has no valid header")
	}
	count := int(binary.LittleEndian.Uint32(buf[4:]))
	dim := int(binary.LittleEndian.Uint32(buf[8:]))
	if want := vectorHeaderSize + count*dim*4; len(buf) != want {
		return nil, 0, fmt.Errorf("vectors file has %d bytes, want %d", len(buf), want)
	}

	out := make([][]float32, count)
	off := vectorHeaderSize
	for i := range out {
		row := make([]float32, dim)
		for j := range row {
			row[j] = math.Float32frombits(binary.LittleEndian.Uint32(buf[off:]))
			off += 4
		}
		out[i] = row
	}
	return out, dim, nil
}
