package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rojolang/chirp-go/pkg/chirp"
	"github.com/spf13/cobra"
)

var (
	verbose    bool
	configFile string
	logLevel   string
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "chirp",
		Short:         "Send and receive short codes over sound",
		Long:          "A command-line interface for transmitting text codes as audio and decoding them from the microphone",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Path to a YAML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (TRACE, DEBUG, INFO, WARN, ERROR)")

	rootCmd.AddCommand(listenCmd())
	rootCmd.AddCommand(sendCmd())
	rootCmd.AddCommand(decodeCmd())
	rootCmd.AddCommand(protocolsCmd())
	rootCmd.AddCommand(devicesCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(setupCmd())

	if err := rootCmd.Execute(); err != nil {
		chirp.GetGlobalLogger().WithError(err).Error("Command failed")
		os.Exit(1)
	}
}

// loadConfig resolves config from file, env and global flags and installs
// the global logger.
func loadConfig() (*chirp.Config, error) {
	if configFile != "" {
		os.Setenv("CHIRP_CONFIG_FILE", configFile)
	}
	config, err := chirp.NewConfig()
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		config.LogLevel = logLevel
	}
	if verbose {
		config.LogLevel = "DEBUG"
	}
	if err := config.Err(); err != nil {
		return nil, err
	}
	chirp.SetGlobalLogger(chirp.NewLogger(config.LogConfig()))
	return config, nil
}

type runtime struct {
	config  *chirp.Config
	backend *chirp.PortAudioBackend
	host    *chirp.Host
}

func newRuntime(config *chirp.Config) (*runtime, error) {
	backend, err := chirp.NewPortAudioBackend()
	if err != nil {
		return nil, err
	}
	codec, codecErr := chirp.LoadCodec()
	return &runtime{
		config:  config,
		backend: backend,
		host:    chirp.NewHost(config, codec, codecErr, backend),
	}, nil
}

func (r *runtime) Close() {
	r.host.Close()
	if err := r.backend.Close(); err != nil {
		chirp.GetGlobalLogger().WithError(err).Warn("Failed to close audio backend")
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func listenCmd() *cobra.Command {
	var (
		expected string
		duration time.Duration
	)
	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Decode codes from the microphone",
		Long:  "Listen on the input device and print every decoded code until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := loadConfig()
			if err != nil {
				return err
			}
			rt, err := newRuntime(config)
			if err != nil {
				return err
			}
			defer rt.Close()

			ctx, cancel := signalContext()
			defer cancel()
			if duration > 0 {
				ctx, cancel = context.WithTimeout(ctx, duration)
				defer cancel()
			}

			done := make(chan struct{}, 1)
			rt.host.Subscribe(chirp.CreateResultPrinter(os.Stdout))
			rt.host.Subscribe(chirp.CreateStatusHandler(chirp.CaptureKind, func(status chirp.Status) {
				if status == chirp.StatusSuccess {
					fmt.Printf("Expected code %q received\n", expected)
					select {
					case done <- struct{}{}:
					default:
					}
				}
			}))
			if verbose {
				rt.host.Subscribe(chirp.CreateSignalBar(os.Stderr, chirp.CaptureKind, 30, 200*time.Millisecond))
			}

			if err := rt.host.StartListening(ctx, expected); err != nil {
				return err
			}
			fmt.Println("Listening... press Ctrl+C to stop")

			select {
			case <-ctx.Done():
			case <-done:
			}
			rt.host.StopListening()

			history := rt.host.History()
			fmt.Printf("\nDecoded %d code(s)\n", len(history))
			if expected != "" && rt.host.Snapshot().CaptureStatus != chirp.StatusSuccess {
				return fmt.Errorf("expected code %q was not received", expected)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&expected, "expect", "e", "", "Stop with success once this code is decoded")
	cmd.Flags().DurationVarP(&duration, "duration", "d", 0, "Stop listening after this long (0 means until interrupted)")
	return cmd
}

func sendCmd() *cobra.Command {
	var (
		protocol string
		volume   int
		speaker  bool
		outFile  string
		rate     float64
	)
	cmd := &cobra.Command{
		Use:   "send [text]",
		Short: "Transmit a code through the speaker",
		Long:  "Encode text with the selected protocol and play it, or write the waveform to a WAV file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := loadConfig()
			if err != nil {
				return err
			}

			id := config.DefaultProtocol()
			if protocol != "" {
				var ok bool
				if id, ok = chirp.ProtocolByName(protocol); !ok {
					return fmt.Errorf("unknown protocol %q (see 'chirp protocols')", protocol)
				}
			}
			if !cmd.Flags().Changed("volume") {
				volume = config.Volume
			}
			if !cmd.Flags().Changed("speaker") {
				speaker = config.SpeakerMode
			}
			req, err := chirp.NewTransmissionRequest(args[0], id, volume, speaker)
			if err != nil {
				return err
			}

			if outFile != "" {
				return writeWaveform(req, outFile, rate)
			}

			rt, err := newRuntime(config)
			if err != nil {
				return err
			}
			defer rt.Close()

			ctx, cancel := signalContext()
			defer cancel()

			if verbose {
				rt.host.Subscribe(chirp.CreateSignalBar(os.Stderr, chirp.PlaybackKind, 30, 200*time.Millisecond))
			}

			fmt.Printf("Sending %q with %s at %d%% volume...\n", req.Text, chirp.NewProtocolDescriptor(id, id.String()).DisplayName, req.VolumePercent)
			if err := rt.host.Transmit(ctx, req); err != nil {
				return err
			}
			fmt.Println("\nSent")
			return nil
		},
	}

	cmd.Flags().StringVarP(&protocol, "protocol", "p", "", "Protocol name, e.g. AUDIBLE_FAST or ULTRASOUND_NORMAL")
	cmd.Flags().IntVar(&volume, "volume", chirp.DefaultVolume, "Volume percent (0-100)")
	cmd.Flags().BoolVar(&speaker, "speaker", false, "Try to route output to a speaker device")
	cmd.Flags().StringVarP(&outFile, "out", "o", "", "Write the waveform to this WAV file instead of playing it")
	cmd.Flags().Float64Var(&rate, "rate", 48000, "Sample rate for --out")
	return cmd
}

func writeWaveform(req chirp.TransmissionRequest, path string, rate float64) error {
	codec, err := chirp.LoadCodec()
	if err != nil {
		return err
	}
	samples, err := chirp.EncodeWaveform(codec, req, rate)
	if err != nil {
		return err
	}
	if err := chirp.SaveWAV(path, samples, rate); err != nil {
		return err
	}
	fmt.Printf("Wrote %d samples (%.2fs) to %s\n", len(samples), float64(len(samples))/rate, path)
	return nil
}

func decodeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "decode [wav-file]",
		Short: "Decode codes from a recorded WAV file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := loadConfig()
			if err != nil {
				return err
			}
			codec, err := chirp.LoadCodec()
			if err != nil {
				return err
			}
			samples, rate, err := chirp.LoadWAV(args[0])
			if err != nil {
				return err
			}
			results, err := chirp.DecodeWaveform(codec, samples, rate, config.Audio.BlockSize)
			if err != nil {
				return err
			}
			if len(results) == 0 {
				fmt.Println("No codes found")
				return nil
			}
			for _, r := range results {
				fmt.Println(r.Text)
			}
			return nil
		},
	}
	return cmd
}

func protocolsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "protocols",
		Short: "List transmission protocols",
		Run: func(cmd *cobra.Command, args []string) {
			descriptors := chirp.RegistryDescriptors()
			if codec, err := chirp.LoadCodec(); err == nil {
				descriptors = codec.Protocols()
			}
			for _, p := range descriptors {
				fmt.Printf("  %2d: %-20s %s\n", int(p.ID), p.DisplayName, p.Audibility())
			}
		},
	}
}

func serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the session state over HTTP and websocket",
		Long:  "Run a session host and expose /status and a /ws event feed that accepts start, stop, reset and transmit commands",
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := loadConfig()
			if err != nil {
				return err
			}
			rt, err := newRuntime(config)
			if err != nil {
				return err
			}
			defer rt.Close()

			rt.host.Subscribe(chirp.CreateLoggingEventHandler(chirp.GetGlobalLogger().WithComponent("Feed"), verbose))
			if config.ServerSecret == "" {
				chirp.GetGlobalLogger().Warn("CHIRP_SERVER_SECRET not set, feed is unauthenticated")
			}

			ctx, cancel := signalContext()
			defer cancel()
			return chirp.NewEventServer(rt.host, config).ListenAndServe(ctx, addr)
		},
	}
	cmd.Flags().StringVarP(&addr, "addr", "a", "", "Listen address (default from config)")
	return cmd
}

func tokenCmd() *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an access token for the event server",
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := loadConfig()
			if err != nil {
				return err
			}
			if config.ServerSecret == "" {
				return fmt.Errorf("CHIRP_SERVER_SECRET is not set")
			}
			if ttl == 0 {
				ttl = config.TokenTTL
			}
			token, err := chirp.IssueAccessToken(config.ServerSecret, subject, ttl)
			if err != nil {
				return err
			}
			fmt.Println(token.Token)
			if verbose {
				fmt.Fprintf(os.Stderr, "expires %s\n", token.ExpiresAt.Format(time.RFC3339))
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&subject, "subject", "s", "cli", "Token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "Token lifetime (default from config)")
	return cmd
}

func setupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Setup and configuration commands",
	}
	cmd.AddCommand(setupConfigCmd())
	cmd.AddCommand(setupTestCmd())
	return cmd
}

func setupConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			if configFile != "" {
				os.Setenv("CHIRP_CONFIG_FILE", configFile)
			}
			config, err := chirp.NewConfig()
			if err != nil {
				return err
			}
			config.PrintConfig()
			if issues := config.Validate(); len(issues) > 0 {
				fmt.Println("\nConfiguration issues:")
				for _, issue := range issues {
					fmt.Printf("  - %s\n", issue)
				}
			}
			return nil
		},
	}
}

func setupTestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "test",
		Short: "Check that the codec and audio system load",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := loadConfig(); err != nil {
				return err
			}
			fmt.Println("Testing system configuration...")

			ok := true
			if codec, err := chirp.LoadCodec(); err != nil {
				fmt.Printf("✗ Codec: %v\n", err)
				ok = false
			} else {
				p := codec.DefaultParameters()
				fmt.Printf("✓ Codec loaded (payload length %d, %d samples per frame)\n", p.PayloadLength, p.SamplesPerFrame)
			}

			backend, err := chirp.NewPortAudioBackend()
			if err != nil {
				fmt.Printf("✗ Audio system: %v\n", err)
				ok = false
			} else {
				defer backend.Close()
				dm := chirp.NewDeviceManager(backend)
				if err := dm.Refresh(); err != nil {
					fmt.Printf("✗ Device list: %v\n", err)
					ok = false
				} else {
					fmt.Printf("✓ Audio system: %d input, %d output device(s)\n", len(dm.InputDevices()), len(dm.OutputDevices()))
				}
			}

			if !ok {
				return fmt.Errorf("system check failed")
			}
			fmt.Println("System configuration test completed!")
			return nil
		},
	}
}

func devicesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "devices",
		Short: "Audio device management",
	}
	cmd.AddCommand(devicesListCmd())
	cmd.AddCommand(devicesTestCmd())
	return cmd
}

func withDevices(fn func(dm *chirp.DeviceManager) error) error {
	if _, err := loadConfig(); err != nil {
		return err
	}
	backend, err := chirp.NewPortAudioBackend()
	if err != nil {
		return err
	}
	defer backend.Close()
	dm := chirp.NewDeviceManager(backend)
	if err := dm.Refresh(); err != nil {
		return err
	}
	return fn(dm)
}

func devicesListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List available audio devices",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDevices(func(dm *chirp.DeviceManager) error {
				printDevices("Input Devices:", dm.InputDevices(), func(d chirp.AudioDevice) int { return d.MaxInputChannels })
				printDevices("Output Devices:", dm.OutputDevices(), func(d chirp.AudioDevice) int { return d.MaxOutputChannels })
				return nil
			})
		},
	}
}

func printDevices(title string, devices []chirp.AudioDevice, channels func(chirp.AudioDevice) int) {
	fmt.Println(title)
	if len(devices) == 0 {
		fmt.Println("  (none)")
	}
	for _, device := range devices {
		var marks []string
		if device.IsDefault {
			marks = append(marks, "default")
		}
		if device.IsOutput && device.IsSpeakerLike() {
			marks = append(marks, "speaker")
		}
		suffix := ""
		if len(marks) > 0 {
			suffix = " (" + strings.Join(marks, ", ") + ")"
		}
		fmt.Printf("  %d: %s%s - %d channels, %.0f Hz\n", device.ID, device.Name, suffix, channels(device), device.DefaultSampleRate)
	}
	fmt.Println()
}

func devicesTestCmd() *cobra.Command {
	var duration time.Duration
	cmd := &cobra.Command{
		Use:   "test [device-id]",
		Short: "Measure the input level of a device",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDevices(func(dm *chirp.DeviceManager) error {
				deviceID := -1
				if len(args) > 0 {
					id, err := strconv.Atoi(args[0])
					if err != nil {
						return fmt.Errorf("invalid device id %q", args[0])
					}
					deviceID = id
				} else {
					for _, d := range dm.InputDevices() {
						if d.IsDefault {
							deviceID = d.ID
							break
						}
					}
				}

				info, err := dm.DeviceInfo(deviceID)
				if err != nil {
					return err
				}
				fmt.Print(info)

				fmt.Printf("Recording for %s...\n", duration)
				level, err := dm.TestInput(deviceID, duration)
				if err != nil {
					return err
				}
				fmt.Printf("Average RMS level: %.4f\n", level)
				if level < 0.001 {
					fmt.Println("Warning: the device appears silent")
				}
				return nil
			})
		},
	}
	cmd.Flags().DurationVarP(&duration, "duration", "d", 3*time.Second, "How long to record")
	return cmd
}
