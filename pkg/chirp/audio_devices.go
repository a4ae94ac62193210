package chirp

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// DeviceManager caches the device list of a PortAudioBackend
type DeviceManager struct {
	mu      sync.RWMutex
	backend *PortAudioBackend
	devices []AudioDevice
	logger  *Logger
}

func NewDeviceManager(backend *PortAudioBackend) *DeviceManager {
	return &DeviceManager{
		backend: backend,
		devices: make([]AudioDevice, 0),
		logger:  GetGlobalLogger().WithComponent("DeviceManager"),
	}
}

// Refresh refreshes the device list
func (dm *DeviceManager) Refresh() error {
	devices, err := listPortAudioDevices()
	if err != nil {
		dm.logger.WithError(err).Error("Failed to refresh device list")
		return err
	}
	dm.mu.Lock()
	dm.devices = devices
	dm.mu.Unlock()
	dm.logger.WithField("device_count", len(devices)).Debug("Device list refreshed")
	return nil
}

// Devices returns a copy of the cached device list
func (dm *DeviceManager) Devices() []AudioDevice {
	dm.mu.RLock()
	defer dm.mu.RUnlock()
	devices := make([]AudioDevice, len(dm.devices))
	copy(devices, dm.devices)
	return devices
}

func (dm *DeviceManager) InputDevices() []AudioDevice {
	return filterDevices(dm.Devices(), func(d AudioDevice) bool { return d.IsInput })
}

func (dm *DeviceManager) OutputDevices() []AudioDevice {
	return filterDevices(dm.Devices(), func(d AudioDevice) bool { return d.IsOutput })
}

func (dm *DeviceManager) DeviceByID(id int) (*AudioDevice, error) {
	for _, device := range dm.Devices() {
		if device.ID == id {
			d := device
			return &d, nil
		}
	}
	return nil, NewDeviceError(fmt.Sprintf("device with ID %d not found", id)).AddDetail("device_id", id)
}

// DeviceInfo returns formatted device information
func (dm *DeviceManager) DeviceInfo(id int) (string, error) {
	device, err := dm.DeviceByID(id)
	if err != nil {
		return "", err
	}
	return FormatDevice(*device), nil
}

// TestInput opens the input device for duration and reports the RMS level
// it heard.
func (dm *DeviceManager) TestInput(id int, duration time.Duration) (float32, error) {
	device, err := dm.DeviceByID(id)
	if err != nil {
		return 0, err
	}
	if !device.IsInput {
		return 0, NewDeviceError(fmt.Sprintf("device '%s' is not an input device", device.Name))
	}

	var (
		mu    sync.Mutex
		sum   float64
		count int
	)
	deviceID := id
	stream, err := dm.backend.OpenInput(StreamConfig{
		Channels:        1,
		FramesPerBuffer: DefaultBlockSize,
		DeviceID:        &deviceID,
	}, func(in []float32) {
		rms := CalculateRMS(in)
		mu.Lock()
		sum += float64(rms)
		count++
		mu.Unlock()
	})
	if err != nil {
		return 0, err
	}
	defer stream.Close()

	if err := stream.Start(); err != nil {
		return 0, err
	}
	time.Sleep(duration)
	if err := stream.Stop(); err != nil {
		dm.logger.WithError(err).Warn("Failed to stop test stream")
	}

	mu.Lock()
	defer mu.Unlock()
	if count == 0 {
		return 0, nil
	}
	level := float32(sum / float64(count))
	dm.logger.WithFields(map[string]interface{}{
		"device_name": device.Name,
		"blocks":      count,
		"rms":         level,
	}).Info("Device test completed")
	return level, nil
}

// FormatDevice renders a device for the CLI
func FormatDevice(device AudioDevice) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Device: %s\n", device.Name))
	sb.WriteString(fmt.Sprintf("  ID: %d\n", device.ID))
	sb.WriteString(fmt.Sprintf("  Host API: %s\n", device.HostAPI))
	sb.WriteString(fmt.Sprintf("  Input Channels: %d\n", device.MaxInputChannels))
	sb.WriteString(fmt.Sprintf("  Output Channels: %d\n", device.MaxOutputChannels))
	sb.WriteString(fmt.Sprintf("  Default Sample Rate: %.1f Hz\n", device.DefaultSampleRate))
	sb.WriteString(fmt.Sprintf("  Is Default: %v\n", device.IsDefault))

	capabilities := make([]string, 0, 2)
	if device.IsInput {
		capabilities = append(capabilities, "Input")
	}
	if device.IsOutput {
		capabilities = append(capabilities, "Output")
	}
	if len(capabilities) == 0 {
		capabilities = append(capabilities, "None")
	}
	sb.WriteString("  Capabilities: " + strings.Join(capabilities, ", ") + "\n")
	if device.IsOutput && device.IsSpeakerLike() {
		sb.WriteString("  Speaker mode candidate: yes\n")
	}
	return sb.String()
}

func filterDevices(devices []AudioDevice, keep func(AudioDevice) bool) []AudioDevice {
	out := make([]AudioDevice, 0, len(devices))
	for _, d := range devices {
		if keep(d) {
			out = append(out, d)
		}
	}
	return out
}
