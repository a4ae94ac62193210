package chirp

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := defaultConfig()
	assert.Empty(t, cfg.Validate())
	assert.NoError(t, cfg.Err())
	assert.Equal(t, ProtocolAudibleFast, cfg.DefaultProtocol())
	assert.Equal(t, 50, cfg.Volume)
	assert.Equal(t, 5*time.Second, cfg.SentResetDelay)
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chirp.yaml")
	data := []byte(`
protocol: ULTRASOUND_FAST
volume: 80
speaker_mode: true
sent_reset_delay: 2s
log_level: debug
audio:
  channels: 1
  block_size: 512
  fft_size: 2048
  signal_interval: 50ms
  queue_depth: 8
  output_device_id: 3
`)
	require.NoError(t, os.WriteFile(path, data, 0o600))

	cfg, err := LoadConfigFile(path)
	require.NoError(t, err)
	assert.Equal(t, ProtocolUltrasoundFast, cfg.DefaultProtocol())
	assert.Equal(t, 80, cfg.Volume)
	assert.True(t, cfg.SpeakerMode)
	assert.Equal(t, 2*time.Second, cfg.SentResetDelay)
	assert.Equal(t, 512, cfg.Audio.BlockSize)
	assert.Equal(t, 2048, cfg.Audio.FFTSize)
	assert.Equal(t, 50*time.Millisecond, cfg.Audio.SignalInterval)
	require.NotNil(t, cfg.Audio.OutputDeviceID)
	assert.Equal(t, 3, *cfg.Audio.OutputDeviceID)
	assert.Nil(t, cfg.Audio.InputDeviceID)
	assert.Empty(t, cfg.Validate())

	lc := cfg.LogConfig()
	assert.Equal(t, DebugLevel, lc.Level)
}

func TestLoadConfigFileErrors(t *testing.T) {
	_, err := LoadConfigFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.True(t, IsErrorCode(err, ErrCodeConfigInvalid))

	path := filepath.Join(t.TempDir(), "broken.yaml")
	require.NoError(t, os.WriteFile(path, []byte("volume: [1, 2"), 0o600))
	_, err = LoadConfigFile(path)
	assert.True(t, IsErrorCode(err, ErrCodeConfigInvalid))
}

func TestNewConfigFromEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chirp.yaml")
	require.NoError(t, os.WriteFile(path, []byte("volume: 20\nprotocol: AUDIBLE_NORMAL\n"), 0o600))

	t.Setenv("CHIRP_CONFIG_FILE", path)
	t.Setenv("CHIRP_VOLUME", "70")
	t.Setenv("CHIRP_SENT_RESET_DELAY", "250ms")
	t.Setenv("CHIRP_INPUT_DEVICE_ID", "2")
	t.Setenv("CHIRP_SERVER_SECRET", "0123456789abcdef")

	cfg, err := NewConfig()
	require.NoError(t, err)
	assert.Equal(t, 70, cfg.Volume, "env overrides the file")
	assert.Equal(t, ProtocolAudibleNormal, cfg.DefaultProtocol(), "file overrides defaults")
	assert.Equal(t, 250*time.Millisecond, cfg.SentResetDelay)
	require.NotNil(t, cfg.Audio.InputDeviceID)
	assert.Equal(t, 2, *cfg.Audio.InputDeviceID)
	assert.Equal(t, "0123456789abcdef", cfg.ServerSecret)
	assert.NoError(t, cfg.Err())
}

func TestConfigValidateReportsIssues(t *testing.T) {
	cfg := defaultConfig()
	cfg.Protocol = "FM_RADIO"
	cfg.Volume = 101
	cfg.LogLevel = "LOUD"
	cfg.ServerSecret = "short"
	cfg.TokenTTL = 0
	cfg.Audio.Channels = 2
	cfg.Audio.FFTSize = 1000

	issues := cfg.Validate()
	assert.Len(t, issues, 7)

	err := cfg.Err()
	assert.True(t, IsErrorCode(err, ErrCodeConfigInvalid))
	assert.Contains(t, err.Error(), "Unknown protocol: FM_RADIO")
	assert.Contains(t, err.Error(), "FFT size must be a power of two")
}
