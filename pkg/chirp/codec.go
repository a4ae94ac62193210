package chirp

import (
	"sort"
	"strings"
)

// ProtocolID identifies a modem configuration in the codec registry
type ProtocolID int

// Registry values match ggwave_ProtocolId
const (
	ProtocolAudibleNormal ProtocolID = iota
	ProtocolAudibleFast
	ProtocolAudibleFastest
	ProtocolUltrasoundNormal
	ProtocolUltrasoundFast
	ProtocolUltrasoundFastest
	ProtocolDTNormal
	ProtocolDTFast
	ProtocolDTFastest
	ProtocolMTNormal
	ProtocolMTFast
	ProtocolMTFastest
)

const protocolPrefix = "GGWAVE_PROTOCOL_"

var protocolNames = map[ProtocolID]string{
	ProtocolAudibleNormal:     "GGWAVE_PROTOCOL_AUDIBLE_NORMAL",
	ProtocolAudibleFast:       "GGWAVE_PROTOCOL_AUDIBLE_FAST",
	ProtocolAudibleFastest:    "GGWAVE_PROTOCOL_AUDIBLE_FASTEST",
	ProtocolUltrasoundNormal:  "GGWAVE_PROTOCOL_ULTRASOUND_NORMAL",
	ProtocolUltrasoundFast:    "GGWAVE_PROTOCOL_ULTRASOUND_FAST",
	ProtocolUltrasoundFastest: "GGWAVE_PROTOCOL_ULTRASOUND_FASTEST",
	ProtocolDTNormal:          "GGWAVE_PROTOCOL_DT_NORMAL",
	ProtocolDTFast:            "GGWAVE_PROTOCOL_DT_FAST",
	ProtocolDTFastest:         "GGWAVE_PROTOCOL_DT_FASTEST",
	ProtocolMTNormal:          "GGWAVE_PROTOCOL_MT_NORMAL",
	ProtocolMTFast:            "GGWAVE_PROTOCOL_MT_FAST",
	ProtocolMTFastest:         "GGWAVE_PROTOCOL_MT_FASTEST",
}

func (p ProtocolID) String() string {
	if name, ok := protocolNames[p]; ok {
		return name
	}
	return "GGWAVE_PROTOCOL_UNKNOWN"
}

// ProtocolByName accepts the full registry name or its short form
// ("AUDIBLE_FAST", "audible fast").
func ProtocolByName(name string) (ProtocolID, bool) {
	key := strings.ToUpper(strings.TrimSpace(name))
	key = strings.ReplaceAll(key, " ", "_")
	if !strings.HasPrefix(key, protocolPrefix) {
		key = protocolPrefix + key
	}
	for id, n := range protocolNames {
		if n == key {
			return id, true
		}
	}
	return 0, false
}

// RegistryDescriptors enumerates the protocol registry in id order
func RegistryDescriptors() []ProtocolDescriptor {
	ids := make([]int, 0, len(protocolNames))
	for id := range protocolNames {
		ids = append(ids, int(id))
	}
	sort.Ints(ids)

	out := make([]ProtocolDescriptor, 0, len(ids))
	for _, id := range ids {
		pid := ProtocolID(id)
		out = append(out, NewProtocolDescriptor(pid, protocolNames[pid]))
	}
	return out
}

// Parameters mirrors the codec's parameter object. Callers set both sample
// rates to the active device's rate before Init.
type Parameters struct {
	PayloadLength   int
	SampleRateInp   float64
	SampleRateOut   float64
	SamplesPerFrame int
}

// Codec is the gateway to the external modem library
type Codec interface {
	DefaultParameters() Parameters
	Init(params Parameters) (CodecInstance, error)
	Protocols() []ProtocolDescriptor
}

// CodecInstance is one initialised codec. Not safe for concurrent use;
// each session owns its own instance.
type CodecInstance interface {
	// Encode returns mono float32 samples at SampleRateOut
	Encode(text string, protocol ProtocolID, volumePercent int) ([]float32, error)
	// Decode consumes little-endian float32 bytes and returns the payload of
	// a completed frame, or nil when nothing was decoded yet.
	Decode(raw []byte) ([]byte, error)
	Close() error
}

func initCodecAt(codec Codec, sampleRate float64) (CodecInstance, error) {
	params := codec.DefaultParameters()
	params.SampleRateInp = sampleRate
	params.SampleRateOut = sampleRate
	inst, err := codec.Init(params)
	if err != nil {
		return nil, WrapError(err, ErrCodeGatewayLoadFailed).AddDetail("sample_rate", sampleRate)
	}
	return inst, nil
}
