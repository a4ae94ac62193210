package chirp

import (
	"bytes"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const (
	wavFormatPCM = 1
	wavBitDepth  = 16
)

// WriteWAV encodes mono samples in [-1,1] as 16-bit PCM. Louder samples are
// clipped.
func WriteWAV(w io.WriteSeeker, samples []float32, sampleRate float64) error {
	if sampleRate <= 0 {
		return NewAudioError("sample rate must be positive", ErrCodeInvalidRequest)
	}
	rate := int(sampleRate)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: rate},
		Data:           make([]int, len(samples)),
		SourceBitDepth: wavBitDepth,
	}
	for i, s := range samples {
		v := math.Max(-1, math.Min(1, float64(s)))
		buf.Data[i] = int(math.Round(v * math.MaxInt16))
	}

	enc := wav.NewEncoder(w, rate, wavBitDepth, 1, wavFormatPCM)
	if err := enc.Write(buf); err != nil {
		return WrapError(err, ErrCodeInvalidRequest)
	}
	return enc.Close()
}

// SaveWAV writes samples to path
func SaveWAV(path string, samples []float32, sampleRate float64) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WriteWAV(f, samples, sampleRate); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// ReadWAV parses a mono PCM WAV stream (16, 24 or 32 bit) into samples in
// [-1,1]. Extra chunks before "data" are skipped.
func ReadWAV(r io.Reader) ([]float32, float64, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, 0, err
	}
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return nil, 0, NewAudioError("not a WAV file", ErrCodeInvalidRequest)
	}
	if dec.NumChans != 1 {
		return nil, 0, NewAudioError(fmt.Sprintf("only mono WAV is supported, got %d channels", dec.NumChans), ErrCodeInvalidRequest)
	}
	if dec.WavAudioFormat != wavFormatPCM {
		return nil, 0, NewAudioError(fmt.Sprintf("unsupported WAV encoding: format %d", dec.WavAudioFormat), ErrCodeInvalidRequest)
	}
	switch dec.BitDepth {
	case 16, 24, 32:
	default:
		return nil, 0, NewAudioError(fmt.Sprintf("unsupported WAV bit depth: %d", dec.BitDepth), ErrCodeInvalidRequest)
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, 0, WrapError(err, ErrCodeInvalidRequest)
	}
	full := float64(int64(1)<<(dec.BitDepth-1) - 1)
	samples := make([]float32, len(buf.Data))
	for i, v := range buf.Data {
		samples[i] = float32(float64(v) / full)
	}
	return samples, float64(dec.SampleRate), nil
}

// LoadWAV reads a WAV file from path
func LoadWAV(path string) ([]float32, float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()
	return ReadWAV(f)
}
