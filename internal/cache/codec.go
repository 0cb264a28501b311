// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package cache

import (
	"encoding/binary"
	"fmt"
	"math"
)

// encodeVector writes a uint32 length followed by little-endian float32 values.
func encodeVector(vec []float32) []byte {
	buf := make([]byte, 4+len(vec)*4)
	binary.LittleEndian.PutUint32(buf[:4], uint32(len(vec)))
	putFloats(buf[4:], vec)
	return buf
}

func decodeVector(data []byte) ([]float32, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("vector blob too small: %d bytes", len(data))
	}
	n := int(binary.LittleEndian.Uint32(data[:4]))
	data = data[4:]
	if len(data) != n*4 {
		return nil, fmt.Errorf("vector length mismatch: header %d, payload %d bytes", n, len(data))
	}
	return getFloats(data, n), nil
}

// encodeMatrix writes uint32 rows and columns followed by the row-major values.
func encodeMatrix(m [][]float32) []byte {
	rows := len(m)
	cols := 0
	if rows > 0 {
		cols = len(m[0])
	}
	buf := make([]byte, 8+rows*cols*4)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(rows))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(cols))
	off := 8
	for _, row := range m {
		putFloats(buf[off:off+cols*4], row)
		off += cols * 4
	}
	return buf
}

func decodeMatrix(data []byte) ([][]float32, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("matrix blob too small: %d bytes", len(data))
	}
	rows := int(binary.LittleEndian.Uint32(data[0:4]))
	cols := int(binary.LittleEndian.Uint32(data[4:8]))
	data = data[8:]
	if len(data) != rows*cols*4 {
		return nil, fmt.Errorf("matrix shape mismatch: %dx%d, payload %d bytes", rows, cols, len(data))
	}
	m := make([][]float32, rows)
	for i := range m {
		m[i] = getFloats(data[i*cols*4:(i+1)*cols*4], cols)
	}
	return m, nil
}

func putFloats(buf []byte, vec []float32) {
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
}

func getFloats(data []byte, n int) []float32 {
	vec := make([]float32, n)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return vec
}
