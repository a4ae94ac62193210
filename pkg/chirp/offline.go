package chirp

import "time"

// EncodeWaveform renders req at sampleRate without opening a device
func EncodeWaveform(codec Codec, req TransmissionRequest, sampleRate float64) ([]float32, error) {
	if req.Text == "" {
		return nil, NewAudioError("no text to transmit", ErrCodeNoText)
	}
	inst, err := initCodecAt(codec, sampleRate)
	if err != nil {
		return nil, err
	}
	defer inst.Close()
	return encodeWith(inst, req)
}

func encodeWith(inst CodecInstance, req TransmissionRequest) ([]float32, error) {
	samples, err := inst.Encode(req.Text, req.ProtocolID, req.VolumePercent)
	if err != nil {
		return nil, WrapError(err, ErrCodeEncodeFailed).AddDetail("protocol", req.ProtocolID.String())
	}
	if len(samples) == 0 {
		return nil, NewEncodeError("codec produced an empty waveform").AddDetail("protocol", req.ProtocolID.String())
	}
	return samples, nil
}

// DecodeWaveform runs recorded samples through the decoder block by block,
// the same way a capture session does, and returns every emitted result.
func DecodeWaveform(codec Codec, samples []float32, sampleRate float64, blockSize int) ([]DecodedResult, error) {
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}
	inst, err := initCodecAt(codec, sampleRate)
	if err != nil {
		return nil, err
	}
	defer inst.Close()

	var (
		filter  DuplicateFilter
		results []DecodedResult
	)
	for off := 0; off < len(samples); off += blockSize {
		end := off + blockSize
		if end > len(samples) {
			end = len(samples)
		}
		payload, err := inst.Decode(Float32ToBytes(samples[off:end]))
		if err != nil || len(payload) == 0 {
			continue
		}
		text := DecodeText(payload)
		if filter.Observe(text) {
			results = append(results, DecodedResult{Text: text, Timestamp: time.Now()})
		}
	}
	return results, nil
}
