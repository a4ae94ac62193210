// Package chirp sends short text codes as sound and decodes them from a
// microphone.
//
// # Overview
//
// Encoding and decoding are done by the ggwave library (build with
// -tags ggwave). This package owns everything around it:
//   - Capture and playback sessions over PortAudio devices
//   - Duplicate suppression and a bounded result history
//   - Smoothed signal-strength metering for UI feedback
//   - A session host that fans events out to subscribers
//   - An optional HTTP/websocket feed of the host's state
//
// # Quick Start
//
//	config, err := chirp.NewConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
//	backend, err := chirp.NewPortAudioBackend()
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer backend.Close()
//
//	codec, codecErr := chirp.LoadCodec()
//	host := chirp.NewHost(config, codec, codecErr, backend)
//	defer host.Close()
//
//	host.Subscribe(chirp.CreateResultPrinter(os.Stdout))
//	if err := host.StartListening(ctx, "1234"); err != nil {
//		log.Fatal(err)
//	}
//
// # Transmitting
//
//	req, err := chirp.NewTransmissionRequest("1234", chirp.ProtocolAudibleFast, 50, false)
//	if err != nil {
//		log.Fatal(err)
//	}
//	if err := host.Transmit(ctx, req); err != nil {
//		log.Printf("transmit failed: %v", err)
//	}
//
// Transmit returns once local playback has finished. Nothing confirms that
// another instance decoded the code.
//
// # Configuration
//
// Config is built from defaults, then the YAML file named by
// CHIRP_CONFIG_FILE, then CHIRP_* environment variables (a .env file is
// loaded first):
//
//	CHIRP_PROTOCOL=AUDIBLE_FAST
//	CHIRP_VOLUME=50
//	CHIRP_LOG_LEVEL=DEBUG
//	CHIRP_SERVER_SECRET=change-me-to-something-long
//
// # Errors
//
// Every session operation returns *AudioError. Match on the code with
// errors.Is:
//
//	if errors.Is(err, chirp.ErrPermissionDenied) {
//		fmt.Println("grant microphone access and try again")
//	}
//
// A codec that failed to load makes every host operation return
// ErrGatewayLoadFailed until the process restarts.
//
// # Event Feed
//
//	server := chirp.NewEventServer(host, config)
//	go server.ListenAndServe(ctx, ":8080")
//
// GET /status returns a Snapshot. GET /ws sends a snapshot, then every Host
// event, and accepts {"type":"start"|"stop"|"reset"|"transmit", ...}
// commands. When a server secret is configured, requests need a token from
// IssueAccessToken.
package chirp
