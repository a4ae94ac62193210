package chirp

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DefaultBlockSize      = 1024
	DefaultFFTSize        = 1024
	DefaultSignalInterval = 100 * time.Millisecond
	DefaultSentReset      = 5 * time.Second
	DefaultProtocolName   = "GGWAVE_PROTOCOL_AUDIBLE_FAST"
	DefaultVolume         = 50
	HistoryLimit          = 10
)

// Config holds process-wide settings. Precedence: defaults, then the YAML
// file named by CHIRP_CONFIG_FILE, then CHIRP_* environment variables.
type Config struct {
	Protocol       string        `yaml:"protocol" json:"protocol"`
	Volume         int           `yaml:"volume" json:"volume"`
	SpeakerMode    bool          `yaml:"speaker_mode" json:"speaker_mode"`
	SentResetDelay time.Duration `yaml:"sent_reset_delay" json:"sent_reset_delay"`
	LogLevel       string        `yaml:"log_level" json:"log_level"`
	LogPretty      bool          `yaml:"log_pretty" json:"log_pretty"`
	ServerAddr     string        `yaml:"server_addr" json:"server_addr"`
	ServerSecret   string        `yaml:"server_secret" json:"-"`
	TokenTTL       time.Duration `yaml:"token_ttl" json:"token_ttl"`
	Audio          *AudioConfig  `yaml:"audio" json:"audio"`
}

// AudioConfig holds device-level settings shared by both sessions
type AudioConfig struct {
	// SampleRate of 0 means the device's native rate
	SampleRate     float64       `yaml:"sample_rate" json:"sample_rate"`
	Channels       int           `yaml:"channels" json:"channels"`
	BlockSize      int           `yaml:"block_size" json:"block_size"`
	FFTSize        int           `yaml:"fft_size" json:"fft_size"`
	SignalInterval time.Duration `yaml:"signal_interval" json:"signal_interval"`
	QueueDepth     int           `yaml:"queue_depth" json:"queue_depth"`
	InputDeviceID  *int          `yaml:"input_device_id,omitempty" json:"input_device_id,omitempty"`
	OutputDeviceID *int          `yaml:"output_device_id,omitempty" json:"output_device_id,omitempty"`
}

func NewAudioConfig() *AudioConfig {
	return &AudioConfig{
		Channels:       1,
		BlockSize:      DefaultBlockSize,
		FFTSize:        DefaultFFTSize,
		SignalInterval: DefaultSignalInterval,
		QueueDepth:     32,
	}
}

func defaultConfig() *Config {
	return &Config{
		Protocol:       DefaultProtocolName,
		Volume:         DefaultVolume,
		SentResetDelay: DefaultSentReset,
		LogLevel:       "INFO",
		LogPretty:      true,
		ServerAddr:     ":8080",
		TokenTTL:       10 * time.Minute,
		Audio:          NewAudioConfig(),
	}
}

// NewConfig builds a Config from defaults, the optional YAML file and the
// environment. A broken config file is reported, not ignored.
func NewConfig() (*Config, error) {
	_ = godotenv.Load()

	c := defaultConfig()
	if path := os.Getenv("CHIRP_CONFIG_FILE"); path != "" {
		if err := c.loadFile(path); err != nil {
			return nil, err
		}
	}
	c.loadFromEnv()
	return c, nil
}

// LoadConfigFile reads a YAML config on top of the defaults
func LoadConfigFile(path string) (*Config, error) {
	c := defaultConfig()
	if err := c.loadFile(path); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return WrapError(err, ErrCodeConfigInvalid).AddDetail("path", path)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return NewConfigError(fmt.Sprintf("parse %s: %v", path, err)).AddDetail("path", path)
	}
	if c.Audio == nil {
		c.Audio = NewAudioConfig()
	}
	return nil
}

func (c *Config) loadFromEnv() {
	if protocol := os.Getenv("CHIRP_PROTOCOL"); protocol != "" {
		c.Protocol = protocol
	}
	if volume := os.Getenv("CHIRP_VOLUME"); volume != "" {
		if val, err := strconv.Atoi(volume); err == nil {
			c.Volume = val
		}
	}
	if speaker := os.Getenv("CHIRP_SPEAKER_MODE"); speaker != "" {
		c.SpeakerMode = speaker == "true"
	}
	if delay := os.Getenv("CHIRP_SENT_RESET_DELAY"); delay != "" {
		if val, err := time.ParseDuration(delay); err == nil {
			c.SentResetDelay = val
		}
	}
	if level := os.Getenv("CHIRP_LOG_LEVEL"); level != "" {
		c.LogLevel = level
	}
	if pretty := os.Getenv("CHIRP_LOG_PRETTY"); pretty != "" {
		c.LogPretty = pretty != "false"
	}
	if addr := os.Getenv("CHIRP_SERVER_ADDR"); addr != "" {
		c.ServerAddr = addr
	}
	if secret := os.Getenv("CHIRP_SERVER_SECRET"); secret != "" {
		c.ServerSecret = secret
	}
	if ttl := os.Getenv("CHIRP_TOKEN_TTL"); ttl != "" {
		if val, err := time.ParseDuration(ttl); err == nil {
			c.TokenTTL = val
		}
	}

	if rate := os.Getenv("CHIRP_SAMPLE_RATE"); rate != "" {
		if val, err := strconv.ParseFloat(rate, 64); err == nil {
			c.Audio.SampleRate = val
		}
	}
	if size := os.Getenv("CHIRP_BLOCK_SIZE"); size != "" {
		if val, err := strconv.Atoi(size); err == nil {
			c.Audio.BlockSize = val
		}
	}
	if id := os.Getenv("CHIRP_INPUT_DEVICE_ID"); id != "" {
		if val, err := strconv.Atoi(id); err == nil {
			c.Audio.InputDeviceID = &val
		}
	}
	if id := os.Getenv("CHIRP_OUTPUT_DEVICE_ID"); id != "" {
		if val, err := strconv.Atoi(id); err == nil {
			c.Audio.OutputDeviceID = &val
		}
	}
}

// Validate returns list of issues
func (c *Config) Validate() []string {
	issues := []string{}

	if _, ok := ProtocolByName(c.Protocol); !ok {
		issues = append(issues, fmt.Sprintf("Unknown protocol: %s", c.Protocol))
	}
	if c.Volume < 0 || c.Volume > 100 {
		issues = append(issues, fmt.Sprintf("Volume out of range [0,100]: %d", c.Volume))
	}
	if _, ok := ParseLogLevel(c.LogLevel); !ok {
		issues = append(issues, fmt.Sprintf("Invalid log level: %s", c.LogLevel))
	}
	if c.ServerSecret != "" {
		if err := ValidateSecret(c.ServerSecret); err != nil {
			issues = append(issues, err.Error())
		}
	}
	if c.TokenTTL <= 0 {
		issues = append(issues, "Token TTL must be positive")
	}
	if c.SentResetDelay < 0 {
		issues = append(issues, "Sent reset delay must not be negative")
	}
	if c.Audio == nil {
		issues = append(issues, "Audio config missing")
		return issues
	}
	issues = append(issues, c.Audio.Validate()...)
	return issues
}

// Validate returns list of issues
func (a *AudioConfig) Validate() []string {
	issues := []string{}
	if a.SampleRate < 0 {
		issues = append(issues, "Sample rate must not be negative")
	}
	if a.Channels != 1 {
		issues = append(issues, fmt.Sprintf("Only mono audio is supported, got %d channels", a.Channels))
	}
	if a.BlockSize <= 0 {
		issues = append(issues, "Block size must be positive")
	}
	if a.FFTSize <= 0 || a.FFTSize&(a.FFTSize-1) != 0 {
		issues = append(issues, fmt.Sprintf("FFT size must be a power of two: %d", a.FFTSize))
	}
	if a.SignalInterval <= 0 {
		issues = append(issues, "Signal interval must be positive")
	}
	if a.QueueDepth <= 0 {
		issues = append(issues, "Queue depth must be positive")
	}
	return issues
}

// Err folds Validate into a single error
func (c *Config) Err() error {
	issues := c.Validate()
	if len(issues) == 0 {
		return nil
	}
	return NewConfigError(strings.Join(issues, "; ")).AddDetail("issues", len(issues))
}

// LogConfig derives logger settings
func (c *Config) LogConfig() *LogConfig {
	lc := DefaultLogConfig()
	if level, ok := ParseLogLevel(c.LogLevel); ok {
		lc.Level = level
	}
	lc.Pretty = c.LogPretty
	return lc
}

// DefaultProtocol resolves the configured protocol name
func (c *Config) DefaultProtocol() ProtocolID {
	if id, ok := ProtocolByName(c.Protocol); ok {
		return id
	}
	return ProtocolAudibleFast
}

func (c *Config) PrintConfig() {
	fmt.Println("Chirp Configuration")
	fmt.Println("==================================================")
	fmt.Printf("Protocol: %s\n", c.Protocol)
	fmt.Printf("Volume: %d%%\n", c.Volume)
	fmt.Printf("Speaker Mode: %t\n", c.SpeakerMode)
	fmt.Printf("Sent Reset Delay: %s\n", c.SentResetDelay)
	fmt.Printf("Log Level: %s\n", c.LogLevel)
	fmt.Printf("Server Address: %s\n", c.ServerAddr)
	if c.ServerSecret != "" {
		fmt.Println("Server Secret: set")
	} else {
		fmt.Println("Server Secret: NOT SET (feed is unauthenticated)")
	}

	a := c.Audio
	if a == nil {
		return
	}
	if a.SampleRate > 0 {
		fmt.Printf("Sample Rate: %.0f Hz\n", a.SampleRate)
	} else {
		fmt.Println("Sample Rate: device native")
	}
	fmt.Printf("Block Size: %d samples\n", a.BlockSize)
	fmt.Printf("FFT Size: %d\n", a.FFTSize)
	fmt.Printf("Signal Interval: %s\n", a.SignalInterval)
	if a.InputDeviceID != nil {
		fmt.Printf("Input Device ID: %d\n", *a.InputDeviceID)
	} else {
		fmt.Println("Input Device: Default")
	}
	if a.OutputDeviceID != nil {
		fmt.Printf("Output Device ID: %d\n", *a.OutputDeviceID)
	} else {
		fmt.Println("Output Device: Default")
	}
}
