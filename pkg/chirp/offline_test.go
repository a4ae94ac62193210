package chirp

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeWaveform(t *testing.T) {
	codec := newFakeCodec()
	req, err := NewTransmissionRequest("1234", ProtocolAudibleFast, 50, false)
	require.NoError(t, err)

	samples, err := EncodeWaveform(codec, req, 44100)
	require.NoError(t, err)
	assert.Len(t, samples, 4096)
	assert.Equal(t, 44100.0, codec.lastInit.SampleRateOut)
	assert.Equal(t, int32(1), codec.closes.Load())

	_, err = EncodeWaveform(codec, TransmissionRequest{ProtocolID: ProtocolAudibleFast}, 44100)
	assert.True(t, errors.Is(err, ErrNoText))

	codec.encodeErr = errors.New("payload too long")
	_, err = EncodeWaveform(codec, req, 44100)
	assert.True(t, errors.Is(err, ErrEncodeFailed))
}

func TestDecodeWaveform(t *testing.T) {
	codec := newFakeCodec("", "1234", "1234", "", "5678", "1234")
	samples := make([]float32, 6*512)

	results, err := DecodeWaveform(codec, samples, 48000, 512)
	require.NoError(t, err)

	texts := make([]string, 0, len(results))
	for _, r := range results {
		texts = append(texts, r.Text)
		assert.False(t, r.Timestamp.IsZero())
	}
	assert.Equal(t, []string{"1234", "5678", "1234"}, texts)
	assert.Equal(t, int32(1), codec.closes.Load())
}

func TestDecodeWaveformGatewayFailure(t *testing.T) {
	codec := newFakeCodec()
	codec.initErr = errors.New("ggwave_init returned -1")
	_, err := DecodeWaveform(codec, make([]float32, 1024), 48000, 0)
	assert.True(t, errors.Is(err, ErrGatewayLoadFailed))
}
