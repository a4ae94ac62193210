package chirp

import (
	"context"
	"encoding/binary"
	"errors"
	"math"
	"unicode/utf8"
)

// Float32ToBytes reinterprets samples as little-endian float32 bytes.
// The bit pattern is preserved; values are not rescaled.
func Float32ToBytes(samples []float32) []byte {
	out := make([]byte, len(samples)*4)
	for i, sample := range samples {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(sample))
	}
	return out
}

// BytesToFloat32 is the inverse of Float32ToBytes. A trailing partial
// sample is ignored.
func BytesToFloat32(data []byte) []float32 {
	samples := make([]float32, len(data)/4)
	for i := range samples {
		bits := binary.LittleEndian.Uint32(data[i*4 : (i+1)*4])
		samples[i] = math.Float32frombits(bits)
	}
	return samples
}

// DecodeText interprets a decoded payload as UTF-8
func DecodeText(payload []byte) string {
	if utf8.Valid(payload) {
		return string(payload)
	}
	out := make([]rune, 0, len(payload))
	for len(payload) > 0 {
		r, size := utf8.DecodeRune(payload)
		out = append(out, r)
		payload = payload[size:]
	}
	return string(out)
}

// CalculateRMS returns the root mean square of a block
func CalculateRMS(samples []float32) float32 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, sample := range samples {
		sum += float64(sample) * float64(sample)
	}
	return float32(math.Sqrt(sum / float64(len(samples))))
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// ctx2err returns err when it is a context cancellation, nil otherwise
func ctx2err(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return nil
}
