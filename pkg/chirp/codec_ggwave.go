//go:build ggwave

package chirp

/*
#cgo LDFLAGS: -lggwave
#include <stdlib.h>
#include <ggwave/ggwave.h>
*/
import "C"

import (
	"fmt"
	"sync"
	"unsafe"
)

// ggwave payloads are at most 140 bytes; 256 covers the decode buffer
const ggwaveDecodeBufferSize = 256

type ggwaveCodec struct{}

var ggwaveOnce sync.Once

// LoadCodec binds the ggwave C library
func LoadCodec() (Codec, error) {
	ggwaveOnce.Do(func() {
		C.ggwave_setLogFile(nil)
	})
	return ggwaveCodec{}, nil
}

func (ggwaveCodec) DefaultParameters() Parameters {
	p := C.ggwave_getDefaultParameters()
	return Parameters{
		PayloadLength:   int(p.payloadLength),
		SampleRateInp:   float64(p.sampleRateInp),
		SampleRateOut:   float64(p.sampleRateOut),
		SamplesPerFrame: int(p.samplesPerFrame),
	}
}

func (ggwaveCodec) Init(params Parameters) (CodecInstance, error) {
	p := C.ggwave_getDefaultParameters()
	p.sampleRateInp = C.float(params.SampleRateInp)
	p.sampleRateOut = C.float(params.SampleRateOut)
	p.sampleRate = C.float(params.SampleRateOut)
	p.sampleFormatInp = C.GGWAVE_SAMPLE_FORMAT_F32
	p.sampleFormatOut = C.GGWAVE_SAMPLE_FORMAT_F32
	if params.PayloadLength > 0 {
		p.payloadLength = C.int(params.PayloadLength)
	}

	id := C.ggwave_init(p)
	if id < 0 {
		return nil, NewGatewayError("ggwave_init failed").AddDetail("sample_rate", params.SampleRateOut)
	}
	return &ggwaveInstance{id: id}, nil
}

func (ggwaveCodec) Protocols() []ProtocolDescriptor {
	return RegistryDescriptors()
}

type ggwaveInstance struct {
	id     C.ggwave_Instance
	closed bool
}

func (g *ggwaveInstance) Encode(text string, protocol ProtocolID, volumePercent int) ([]float32, error) {
	if g.closed {
		return nil, NewEncodeError("codec instance closed")
	}
	payload := C.CString(text)
	defer C.free(unsafe.Pointer(payload))

	size := C.ggwave_encode(g.id, unsafe.Pointer(payload), C.int(len(text)),
		C.ggwave_ProtocolId(protocol), C.int(volumePercent), nil, 1)
	if size <= 0 {
		return nil, NewEncodeError(fmt.Sprintf("ggwave_encode size query returned %d", int(size)))
	}

	buf := C.malloc(C.size_t(size))
	defer C.free(buf)

	n := C.ggwave_encode(g.id, unsafe.Pointer(payload), C.int(len(text)),
		C.ggwave_ProtocolId(protocol), C.int(volumePercent), buf, 0)
	if n <= 0 {
		return nil, NewEncodeError(fmt.Sprintf("ggwave_encode returned %d", int(n)))
	}
	return BytesToFloat32(C.GoBytes(buf, n)), nil
}

func (g *ggwaveInstance) Decode(raw []byte) ([]byte, error) {
	if g.closed || len(raw) == 0 {
		return nil, nil
	}
	out := make([]byte, ggwaveDecodeBufferSize)
	n := C.ggwave_ndecode(g.id, unsafe.Pointer(&raw[0]), C.int(len(raw)),
		unsafe.Pointer(&out[0]), C.int(len(out)))
	if n < 0 {
		return nil, fmt.Errorf("ggwave_ndecode returned %d", int(n))
	}
	if n == 0 {
		return nil, nil
	}
	return out[:n], nil
}

func (g *ggwaveInstance) Close() error {
	if g.closed {
		return nil
	}
	g.closed = true
	C.ggwave_free(g.id)
	return nil
}
