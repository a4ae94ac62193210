package chirp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProtocolByName(t *testing.T) {
	tests := []struct {
		name string
		want ProtocolID
		ok   bool
	}{
		{"GGWAVE_PROTOCOL_AUDIBLE_FAST", ProtocolAudibleFast, true},
		{"AUDIBLE_FAST", ProtocolAudibleFast, true},
		{" audible fast ", ProtocolAudibleFast, true},
		{"ultrasound_fastest", ProtocolUltrasoundFastest, true},
		{"MT_NORMAL", ProtocolMTNormal, true},
		{"FM_RADIO", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ProtocolByName(tt.name)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestRegistryDescriptors(t *testing.T) {
	descs := RegistryDescriptors()
	require.Len(t, descs, 12)
	for i, d := range descs {
		assert.Equal(t, ProtocolID(i), d.ID)
	}

	fast := descs[ProtocolAudibleFast]
	assert.Equal(t, "GGWAVE_PROTOCOL_AUDIBLE_FAST", fast.Name)
	assert.Equal(t, "AUDIBLE FAST", fast.DisplayName)
	assert.True(t, fast.IsAudible)
	assert.Equal(t, "Audible: Human can hear the sound", fast.Audibility())

	ultra := descs[ProtocolUltrasoundNormal]
	assert.Equal(t, "ULTRASOUND NORMAL", ultra.DisplayName)
	assert.False(t, ultra.IsAudible)
	assert.Equal(t, "Ultrasonic: Sound is not audible to humans", ultra.Audibility())

	assert.Equal(t, "DT FASTEST", descs[ProtocolDTFastest].DisplayName)
	assert.False(t, descs[ProtocolDTFastest].IsAudible)
}

func TestProtocolIDString(t *testing.T) {
	assert.Equal(t, "GGWAVE_PROTOCOL_MT_FAST", ProtocolMTFast.String())
	assert.Equal(t, "GGWAVE_PROTOCOL_UNKNOWN", ProtocolID(42).String())
}

func TestNewTransmissionRequest(t *testing.T) {
	req, err := NewTransmissionRequest("1234", ProtocolAudibleFast, 50, true)
	require.NoError(t, err)
	assert.Equal(t, TransmissionRequest{Text: "1234", ProtocolID: ProtocolAudibleFast, VolumePercent: 50, SpeakerMode: true}, req)

	_, err = NewTransmissionRequest("1234", ProtocolAudibleFast, 101, false)
	assert.True(t, IsErrorCode(err, ErrCodeInvalidRequest))

	_, err = NewTransmissionRequest("1234", ProtocolID(99), 50, false)
	assert.True(t, IsErrorCode(err, ErrCodeInvalidRequest))

	// empty text is reported later by the playback session
	_, err = NewTransmissionRequest("", ProtocolAudibleFast, 0, false)
	assert.NoError(t, err)
}

func TestInitCodecAtUsesDeviceRate(t *testing.T) {
	codec := newFakeCodec()
	inst, err := initCodecAt(codec, 44100)
	require.NoError(t, err)
	defer inst.Close()

	assert.Equal(t, 44100.0, codec.lastInit.SampleRateInp)
	assert.Equal(t, 44100.0, codec.lastInit.SampleRateOut)
	assert.Equal(t, 1024, codec.lastInit.SamplesPerFrame)
}
