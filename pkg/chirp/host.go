package chirp

import (
	"context"
	"sync"
	"time"
)

// Snapshot is the Host's view-state at one instant
type Snapshot struct {
	GatewayReady   bool                 `json:"gateway_ready"`
	GatewayError   string               `json:"gateway_error,omitempty"`
	CaptureStatus  Status               `json:"capture_status"`
	CaptureState   SessionState         `json:"capture_state"`
	CaptureSignal  float64              `json:"capture_signal"`
	CaptureStats   *CaptureStats        `json:"capture_stats,omitempty"`
	Expected       string               `json:"expected,omitempty"`
	PlaybackStatus Status               `json:"playback_status"`
	PlaybackState  SessionState         `json:"playback_state"`
	PlaybackSignal float64              `json:"playback_signal"`
	LastError      string               `json:"last_error,omitempty"`
	History        []DecodedResult      `json:"history"`
	Protocols      []ProtocolDescriptor `json:"protocols"`
	Timestamp      time.Time            `json:"timestamp"`
}

// Host orchestrates one capture and one playback session, keeps the decoded
// history and fans events out to subscribers.
type Host struct {
	config   *Config
	codec    Codec
	codecErr *AudioError
	backend  AudioBackend
	logger   *Logger
	history  *ResultHistory

	protocolsOnce sync.Once
	protocols     []ProtocolDescriptor

	mu            sync.Mutex
	capture       *CaptureSession
	playback      *PlaybackSession
	captureStatus Status
	// starting reserves the capture slot while a StartListening call is
	// between picking a session and that session reaching acquiring
	starting  bool
	expected  string
	lastError string
	sentTimer *time.Timer
	closed    bool

	subMu       sync.RWMutex
	subscribers map[int]EventHandler
	nextSubID   int
}

// NewHost builds a Host. A non-nil codecErr means the codec failed to load;
// every session operation then fails with GATEWAY_LOAD_FAILED.
func NewHost(config *Config, codec Codec, codecErr error, backend AudioBackend) *Host {
	if config == nil {
		config = defaultConfig()
	}
	if config.Audio == nil {
		config.Audio = NewAudioConfig()
	}
	h := &Host{
		config:        config,
		codec:         codec,
		backend:       backend,
		logger:        GetGlobalLogger().WithComponent("Host"),
		history:       NewResultHistory(HistoryLimit),
		captureStatus: StatusIdle,
		subscribers:   make(map[int]EventHandler),
	}
	if codecErr == nil && codec == nil {
		codecErr = NewGatewayError("no codec provided")
	}
	if codecErr != nil {
		h.codecErr = WrapError(codecErr, ErrCodeGatewayLoadFailed)
		h.lastError = h.codecErr.Message
		h.logger.LogError(h.codecErr)
		return h
	}

	h.playback = NewPlaybackSession(codec, backend, config.Audio, h.logger)
	h.playback.OnStatus(h.onPlaybackStatus)
	h.playback.OnSignal(func(v float64) {
		h.publish(Event{Type: EventSignal, Session: PlaybackKind, SessionID: h.playback.ID(), Signal: v})
	})
	return h
}

func (h *Host) gateway() error {
	if h.codecErr != nil {
		return h.codecErr
	}
	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		return NewAudioError("host is closed", ErrCodeUnknown)
	}
	return nil
}

// Subscribe registers handler for every Host event. Handlers run on session
// goroutines and must not block. The returned func removes the handler.
func (h *Host) Subscribe(handler EventHandler) func() {
	h.subMu.Lock()
	id := h.nextSubID
	h.nextSubID++
	h.subscribers[id] = handler
	h.subMu.Unlock()

	return func() {
		h.subMu.Lock()
		delete(h.subscribers, id)
		h.subMu.Unlock()
	}
}

func (h *Host) publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	h.subMu.RLock()
	handlers := make([]EventHandler, 0, len(h.subscribers))
	for _, handler := range h.subscribers {
		handlers = append(handlers, handler)
	}
	h.subMu.RUnlock()

	for _, handler := range handlers {
		handler(event)
	}
}

func (h *Host) publishError(kind SessionKind, sessionID string, err error) {
	h.mu.Lock()
	h.lastError = err.Error()
	h.mu.Unlock()
	h.publish(Event{
		Type:      EventError,
		Session:   kind,
		SessionID: sessionID,
		Error:     err.Error(),
		Code:      ErrorCode(err),
	})
}

// StartListening opens a fresh capture session. When expected is non-empty,
// decoding that exact text sets the status to success and stops capture.
func (h *Host) StartListening(ctx context.Context, expected string) error {
	if err := h.gateway(); err != nil {
		return err
	}

	h.mu.Lock()
	if h.starting {
		h.mu.Unlock()
		return NewAudioError("capture already running", ErrCodeSessionActive).AddDetail("state", string(StateAcquiring))
	}
	if h.capture != nil {
		if state := h.capture.State(); state == StateAcquiring || state == StateActive || state == StateStopping {
			h.mu.Unlock()
			return NewAudioError("capture already running", ErrCodeSessionActive).AddDetail("state", string(state))
		}
	}
	sess := NewCaptureSession(h.codec, h.backend, h.config.Audio, h.logger)
	h.capture = sess
	h.expected = expected
	h.starting = true
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		h.starting = false
		h.mu.Unlock()
	}()

	sess.OnResult(func(r DecodedResult) { h.handleResult(sess, r) })
	sess.OnSignal(func(v float64) {
		h.publish(Event{Type: EventSignal, Session: CaptureKind, SessionID: sess.ID(), Signal: v})
	})

	if err := sess.Start(ctx); err != nil {
		if ctx2err(err) != nil {
			h.setCaptureStatus(sess, StatusIdle)
			return err
		}
		h.setCaptureStatus(sess, StatusError)
		h.publishError(CaptureKind, sess.ID(), err)
		return err
	}

	h.mu.Lock()
	closed := h.closed
	listening := h.capture == sess && sess.State() == StateActive && h.captureStatus != StatusSuccess
	h.mu.Unlock()
	if closed {
		// Close ran before the session reached acquiring and could not stop it
		sess.Stop()
		return NewAudioError("host is closed", ErrCodeUnknown)
	}
	if listening {
		h.setCaptureStatus(sess, StatusListening)
	}
	return nil
}

func (h *Host) handleResult(sess *CaptureSession, r DecodedResult) {
	h.mu.Lock()
	if h.capture != sess {
		h.mu.Unlock()
		return
	}
	expected := h.expected
	h.mu.Unlock()

	h.history.Add(r)
	result := r
	h.publish(Event{Type: EventDecoded, Session: CaptureKind, SessionID: sess.ID(), Result: &result})

	if expected != "" && r.Text == expected {
		h.logger.WithField("code", r.Text).Info("Expected code received")
		h.setCaptureStatus(sess, StatusSuccess)
		// the result handler runs on the session worker, so stop elsewhere
		go h.stopCapture(sess)
	}
}

// StopListening stops the current capture session. History is kept.
func (h *Host) StopListening() {
	h.mu.Lock()
	sess := h.capture
	h.mu.Unlock()
	if sess == nil {
		return
	}
	h.stopCapture(sess)
}

func (h *Host) stopCapture(sess *CaptureSession) {
	sess.Stop()

	h.mu.Lock()
	reset := h.capture == sess && h.captureStatus == StatusListening
	h.mu.Unlock()
	if reset {
		h.setCaptureStatus(sess, StatusIdle)
	}
}

func (h *Host) setCaptureStatus(sess *CaptureSession, status Status) {
	h.mu.Lock()
	if h.capture != sess {
		h.mu.Unlock()
		return
	}
	h.captureStatus = status
	h.mu.Unlock()
	h.publish(Event{Type: EventStatus, Session: CaptureKind, SessionID: sess.ID(), Status: status})
}

// Reset stops capture, clears the decoded history and returns the capture
// status to idle.
func (h *Host) Reset() {
	h.StopListening()
	h.history.Clear()

	h.mu.Lock()
	h.captureStatus = StatusIdle
	h.lastError = ""
	if h.codecErr != nil {
		h.lastError = h.codecErr.Message
	}
	h.mu.Unlock()

	h.logger.Info("Session host reset")
	h.publish(Event{Type: EventReset, Session: CaptureKind, Status: StatusIdle})
}

// Transmit plays req and blocks until local playback finished
func (h *Host) Transmit(ctx context.Context, req TransmissionRequest) error {
	if err := h.gateway(); err != nil {
		return err
	}

	h.mu.Lock()
	if h.sentTimer != nil {
		h.sentTimer.Stop()
		h.sentTimer = nil
	}
	h.mu.Unlock()

	err := h.playback.Transmit(ctx, req)
	if err != nil && ctx2err(err) == nil {
		h.publishError(PlaybackKind, h.playback.ID(), err)
	}
	return err
}

// StopTransmit aborts an in-flight transmission
func (h *Host) StopTransmit() {
	if h.playback != nil {
		h.playback.Stop()
	}
}

func (h *Host) onPlaybackStatus(status Status) {
	h.publish(Event{Type: EventStatus, Session: PlaybackKind, SessionID: h.playback.ID(), Status: status})
	if status != StatusSent {
		return
	}

	delay := h.config.SentResetDelay
	if delay <= 0 {
		return
	}
	h.mu.Lock()
	if h.sentTimer != nil {
		h.sentTimer.Stop()
	}
	h.sentTimer = time.AfterFunc(delay, func() {
		h.playback.ResetStatus(StatusSent)
	})
	h.mu.Unlock()
}

// History returns decoded results, most recent first
func (h *Host) History() []DecodedResult {
	return h.history.Results()
}

// Protocols enumerates the codec's registry once. Without a codec the
// built-in registry is used so callers can still render the list.
func (h *Host) Protocols() []ProtocolDescriptor {
	h.protocolsOnce.Do(func() {
		if h.codec != nil {
			h.protocols = h.codec.Protocols()
		}
		if len(h.protocols) == 0 {
			h.protocols = RegistryDescriptors()
		}
	})
	out := make([]ProtocolDescriptor, len(h.protocols))
	copy(out, h.protocols)
	return out
}

// Config returns the configuration the Host was built with
func (h *Host) Config() *Config {
	return h.config
}

func (h *Host) Snapshot() Snapshot {
	h.mu.Lock()
	snap := Snapshot{
		GatewayReady:   h.codecErr == nil,
		CaptureStatus:  h.captureStatus,
		CaptureState:   StateIdle,
		Expected:       h.expected,
		PlaybackStatus: StatusIdle,
		PlaybackState:  StateIdle,
		LastError:      h.lastError,
	}
	capture := h.capture
	playback := h.playback
	h.mu.Unlock()

	if h.codecErr != nil {
		snap.GatewayError = h.codecErr.Message
	}
	if capture != nil {
		snap.CaptureState = capture.State()
		snap.CaptureSignal = capture.SignalStrength()
		stats := capture.Stats()
		snap.CaptureStats = &stats
	}
	if playback != nil {
		snap.PlaybackStatus = playback.Status()
		snap.PlaybackState = playback.State()
		snap.PlaybackSignal = playback.SignalStrength()
	}
	snap.History = h.history.Results()
	snap.Protocols = h.Protocols()
	snap.Timestamp = time.Now()
	return snap
}

// Close stops both sessions and refuses further operations
func (h *Host) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	if h.sentTimer != nil {
		h.sentTimer.Stop()
		h.sentTimer = nil
	}
	h.mu.Unlock()

	h.StopListening()
	h.StopTransmit()

	h.subMu.Lock()
	h.subscribers = make(map[int]EventHandler)
	h.subMu.Unlock()
	h.logger.Debug("Session host closed")
}
