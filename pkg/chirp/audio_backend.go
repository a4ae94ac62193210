package chirp

import "strings"

// InputConstraints lists capture-side processing that degrades symbol
// detection. All three must stay false.
type InputConstraints struct {
	EchoCancellation bool `yaml:"echo_cancellation" json:"echo_cancellation"`
	AutoGainControl  bool `yaml:"auto_gain_control" json:"auto_gain_control"`
	NoiseSuppression bool `yaml:"noise_suppression" json:"noise_suppression"`
}

// Any reports whether any processing is requested
func (c InputConstraints) Any() bool {
	return c.EchoCancellation || c.AutoGainControl || c.NoiseSuppression
}

// StreamConfig describes one mono stream
type StreamConfig struct {
	// SampleRate of 0 means the device's native rate
	SampleRate      float64
	Channels        int
	FramesPerBuffer int
	DeviceID        *int
	Constraints     InputConstraints
}

// AudioStream is an opened device stream owned by exactly one session
type AudioStream interface {
	Start() error
	Stop() error
	Close() error
	SampleRate() float64
}

// AudioBackend opens device streams. Callbacks run on the audio thread and
// must only copy data out.
type AudioBackend interface {
	OpenInput(cfg StreamConfig, process func(in []float32)) (AudioStream, error)
	OpenOutput(cfg StreamConfig, process func(out []float32)) (AudioStream, error)
	// NativeSampleRate reports the rate of the device a stream with this
	// config would open on.
	NativeSampleRate(cfg StreamConfig, output bool) (float64, error)
	OutputDevices() ([]AudioDevice, error)
}

// AudioDevice represents an audio device
type AudioDevice struct {
	ID                int     `json:"id"`
	Name              string  `json:"name"`
	MaxInputChannels  int     `json:"max_input_channels"`
	MaxOutputChannels int     `json:"max_output_channels"`
	DefaultSampleRate float64 `json:"default_sample_rate"`
	IsDefault         bool    `json:"is_default"`
	IsInput           bool    `json:"is_input"`
	IsOutput          bool    `json:"is_output"`
	HostAPI           string  `json:"host_api"`
}

// IsSpeakerLike matches output devices labelled as a loudspeaker
func (d AudioDevice) IsSpeakerLike() bool {
	name := strings.ToLower(d.Name)
	return strings.Contains(name, "speaker") || strings.Contains(name, "loud")
}

// FindSpeakerDevice returns the first speaker-like output device
func FindSpeakerDevice(backend AudioBackend) (*AudioDevice, error) {
	devices, err := backend.OutputDevices()
	if err != nil {
		return nil, err
	}
	for _, d := range devices {
		if d.IsOutput && d.IsSpeakerLike() {
			dev := d
			return &dev, nil
		}
	}
	return nil, NewDeviceError("no speaker-labelled output device")
}
