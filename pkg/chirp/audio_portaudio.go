package chirp

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/gordonklaus/portaudio"
)

// PortAudioBackend opens streams through PortAudio. PortAudio hands over
// raw PCM, so no echo cancellation, gain control or noise suppression is
// ever applied to captured audio.
type PortAudioBackend struct {
	mu     sync.Mutex
	closed bool
	logger *Logger
}

// NewPortAudioBackend initialises PortAudio. Close must be called once.
func NewPortAudioBackend() (*PortAudioBackend, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, classifyPortAudioError(err, "initialize")
	}
	return &PortAudioBackend{
		logger: GetGlobalLogger().WithComponent("PortAudioBackend"),
	}, nil
}

func (b *PortAudioBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	if err := portaudio.Terminate(); err != nil {
		b.logger.WithError(err).Error("Failed to terminate PortAudio")
		return err
	}
	return nil
}

func (b *PortAudioBackend) OpenInput(cfg StreamConfig, process func(in []float32)) (AudioStream, error) {
	if cfg.Constraints.Any() {
		return nil, NewDeviceError("input processing constraints are not supported").
			AddDetail("constraints", cfg.Constraints)
	}
	dev, err := b.device(cfg.DeviceID, false)
	if err != nil {
		return nil, err
	}
	params := portaudio.LowLatencyParameters(dev, nil)
	params.Input.Channels = channelsOrMono(cfg.Channels)
	return b.open(dev, params, cfg, process, "input")
}

func (b *PortAudioBackend) OpenOutput(cfg StreamConfig, process func(out []float32)) (AudioStream, error) {
	dev, err := b.device(cfg.DeviceID, true)
	if err != nil {
		return nil, err
	}
	params := portaudio.HighLatencyParameters(nil, dev)
	params.Output.Channels = channelsOrMono(cfg.Channels)
	return b.open(dev, params, cfg, process, "output")
}

func (b *PortAudioBackend) open(dev *portaudio.DeviceInfo, params portaudio.StreamParameters, cfg StreamConfig, process func([]float32), direction string) (AudioStream, error) {
	if cfg.SampleRate > 0 {
		params.SampleRate = cfg.SampleRate
	} else {
		params.SampleRate = dev.DefaultSampleRate
	}
	params.FramesPerBuffer = cfg.FramesPerBuffer

	stream, err := portaudio.OpenStream(params, process)
	if err != nil {
		return nil, classifyPortAudioError(err, "open "+direction).AddDetail("device", dev.Name)
	}

	b.logger.WithFields(map[string]interface{}{
		"device":      dev.Name,
		"direction":   direction,
		"sample_rate": params.SampleRate,
		"frames":      params.FramesPerBuffer,
	}).Debug("Stream opened")

	return &portAudioStream{stream: stream, rate: params.SampleRate, device: dev.Name}, nil
}

func (b *PortAudioBackend) NativeSampleRate(cfg StreamConfig, output bool) (float64, error) {
	if cfg.SampleRate > 0 {
		return cfg.SampleRate, nil
	}
	dev, err := b.device(cfg.DeviceID, output)
	if err != nil {
		return 0, err
	}
	return dev.DefaultSampleRate, nil
}

func (b *PortAudioBackend) OutputDevices() ([]AudioDevice, error) {
	devices, err := listPortAudioDevices()
	if err != nil {
		return nil, err
	}
	out := make([]AudioDevice, 0, len(devices))
	for _, d := range devices {
		if d.IsOutput {
			out = append(out, d)
		}
	}
	return out, nil
}

func (b *PortAudioBackend) device(id *int, output bool) (*portaudio.DeviceInfo, error) {
	if id == nil {
		var (
			dev *portaudio.DeviceInfo
			err error
		)
		if output {
			dev, err = portaudio.DefaultOutputDevice()
		} else {
			dev, err = portaudio.DefaultInputDevice()
		}
		if err != nil {
			return nil, classifyPortAudioError(err, "default device")
		}
		return dev, nil
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, classifyPortAudioError(err, "list devices")
	}
	if *id < 0 || *id >= len(devices) {
		return nil, NewDeviceError(fmt.Sprintf("device with ID %d not found", *id)).AddDetail("device_id", *id)
	}
	dev := devices[*id]
	if output && dev.MaxOutputChannels == 0 {
		return nil, NewDeviceError(fmt.Sprintf("device '%s' is not an output device", dev.Name))
	}
	if !output && dev.MaxInputChannels == 0 {
		return nil, NewDeviceError(fmt.Sprintf("device '%s' is not an input device", dev.Name))
	}
	return dev, nil
}

type portAudioStream struct {
	stream *portaudio.Stream
	rate   float64
	device string
}

func (s *portAudioStream) Start() error {
	if err := s.stream.Start(); err != nil {
		return classifyPortAudioError(err, "start").AddDetail("device", s.device)
	}
	return nil
}

func (s *portAudioStream) Stop() error { return s.stream.Stop() }

func (s *portAudioStream) Close() error { return s.stream.Close() }

func (s *portAudioStream) SampleRate() float64 { return s.rate }

func channelsOrMono(channels int) int {
	if channels <= 0 {
		return 1
	}
	return channels
}

// classifyPortAudioError maps PortAudio failures onto the session taxonomy.
// Both macOS privacy denials and ALSA EACCES surface as unanticipated host
// errors, so those count as a permission problem.
func classifyPortAudioError(err error, op string) *AudioError {
	var paErr portaudio.Error
	if errors.As(err, &paErr) {
		switch paErr {
		case portaudio.UnanticipatedHostError:
			return NewPermissionError(fmt.Sprintf("%s: %v", op, err))
		case portaudio.InvalidDevice, portaudio.DeviceUnavailable:
			return NewDeviceError(fmt.Sprintf("%s: %v", op, err))
		}
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "permission") || strings.Contains(msg, "denied") || strings.Contains(msg, "not authorized") {
		return NewPermissionError(fmt.Sprintf("%s: %v", op, err))
	}
	return NewDeviceError(fmt.Sprintf("%s: %v", op, err))
}

func listPortAudioDevices() ([]AudioDevice, error) {
	defaultInput, _ := portaudio.DefaultInputDevice()
	defaultOutput, _ := portaudio.DefaultOutputDevice()

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, classifyPortAudioError(err, "list devices")
	}

	out := make([]AudioDevice, 0, len(devices))
	for i, dev := range devices {
		hostAPIName := "Unknown"
		if dev.HostApi != nil {
			hostAPIName = dev.HostApi.Name
		}
		out = append(out, AudioDevice{
			ID:                i,
			Name:              dev.Name,
			MaxInputChannels:  dev.MaxInputChannels,
			MaxOutputChannels: dev.MaxOutputChannels,
			DefaultSampleRate: dev.DefaultSampleRate,
			IsDefault:         dev == defaultInput || dev == defaultOutput,
			IsInput:           dev.MaxInputChannels > 0,
			IsOutput:          dev.MaxOutputChannels > 0,
			HostAPI:           hostAPIName,
		})
	}
	return out, nil
}
