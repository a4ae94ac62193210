package chirp

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// CaptureStats counts what a capture session has done so far
type CaptureStats struct {
	BlocksProcessed uint64 `json:"blocks_processed"`
	BlocksDropped   uint64 `json:"blocks_dropped"`
	DecodeErrors    uint64 `json:"decode_errors"`
	ResultsEmitted  uint64 `json:"results_emitted"`
}

// CaptureSession turns microphone audio into decode attempts
type CaptureSession struct {
	id      string
	codec   Codec
	backend AudioBackend
	config  *AudioConfig
	logger  *Logger

	mu        sync.Mutex
	state     SessionState
	startedAt time.Time
	gen       uint64
	run       *captureRun
	onResult  ResultHandler
	onSignal  SignalHandler
	onState   StateHandler

	meter  SignalMeter
	filter DuplicateFilter

	processed atomic.Uint64
	dropped   atomic.Uint64
	decodeErr atomic.Uint64
	emitted   atomic.Uint64
}

// captureRun owns everything acquired by one successful Start
type captureRun struct {
	stream   AudioStream
	instance CodecInstance
	analyser *Analyser
	blocks   chan []float32
	quit     chan struct{}
	done     chan struct{}
	stopped  atomic.Bool
	dropped  *atomic.Uint64

	// emitMu orders result and signal emission against shutdown
	emitMu sync.Mutex
}

func NewCaptureSession(codec Codec, backend AudioBackend, config *AudioConfig, logger *Logger) *CaptureSession {
	if config == nil {
		config = NewAudioConfig()
	}
	if logger == nil {
		logger = GetGlobalLogger()
	}
	id := uuid.NewString()
	return &CaptureSession{
		id:      id,
		codec:   codec,
		backend: backend,
		config:  config,
		logger:  logger.WithComponent("CaptureSession").WithField("session_id", id),
		state:   StateIdle,
	}
}

func (s *CaptureSession) ID() string { return s.id }

// OnResult sets the handler for decoded results. Handlers run on the
// session worker, must not block and must not call Stop.
func (s *CaptureSession) OnResult(h ResultHandler) {
	s.mu.Lock()
	s.onResult = h
	s.mu.Unlock()
}

func (s *CaptureSession) OnSignal(h SignalHandler) {
	s.mu.Lock()
	s.onSignal = h
	s.mu.Unlock()
}

func (s *CaptureSession) OnState(h StateHandler) {
	s.mu.Lock()
	s.onState = h
	s.mu.Unlock()
}

// Start acquires the input device and begins decoding. If Stop is called
// while the device is being acquired, Start releases what it got and
// returns nil with the session idle.
func (s *CaptureSession) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateAcquiring || s.state == StateActive || s.state == StateStopping {
		s.mu.Unlock()
		return NewAudioError("capture session already active", ErrCodeSessionActive).AddDetail("state", string(s.state))
	}
	s.gen++
	gen := s.gen
	s.state = StateAcquiring
	s.mu.Unlock()

	s.filter.Reset()
	s.meter.Reset()
	s.emitState(StateAcquiring)

	run, err := s.acquire(ctx)
	if err != nil {
		return s.fail(gen, err)
	}

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		run.abandon()
		s.logger.Debug("Capture stopped during acquisition")
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		s.state = StateIdle
		s.mu.Unlock()
		run.abandon()
		s.emitState(StateIdle)
		return ctxErr
	}
	s.run = run
	s.state = StateActive
	s.startedAt = time.Now()
	s.mu.Unlock()

	go s.worker(run)

	s.logger.LogAudioEvent("capture_started", map[string]interface{}{
		"sample_rate": run.stream.SampleRate(),
		"block_size":  s.config.BlockSize,
	})
	s.emitState(StateActive)
	return nil
}

func (s *CaptureSession) acquire(ctx context.Context) (*captureRun, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cfg := StreamConfig{
		SampleRate:      s.config.SampleRate,
		Channels:        1,
		FramesPerBuffer: s.config.BlockSize,
		DeviceID:        s.config.InputDeviceID,
		// echo cancellation, auto gain and noise suppression stay off
		Constraints: InputConstraints{},
	}

	rate, err := s.backend.NativeSampleRate(cfg, false)
	if err != nil {
		return nil, WrapError(err, ErrCodeDeviceUnavailable)
	}
	cfg.SampleRate = rate

	inst, err := initCodecAt(s.codec, rate)
	if err != nil {
		return nil, err
	}

	run := &captureRun{
		instance: inst,
		analyser: NewAnalyser(s.config.FFTSize),
		blocks:   make(chan []float32, s.queueDepth()),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
		dropped:  &s.dropped,
	}

	stream, err := s.backend.OpenInput(cfg, run.enqueue)
	if err != nil {
		_ = inst.Close()
		return nil, WrapError(err, ErrCodeDeviceUnavailable)
	}
	run.stream = stream

	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = inst.Close()
		return nil, WrapError(err, ErrCodeDeviceUnavailable)
	}
	return run, nil
}

func (s *CaptureSession) fail(gen uint64, err error) error {
	if ctxErr := ctx2err(err); ctxErr != nil {
		s.mu.Lock()
		if s.gen == gen {
			s.state = StateIdle
		}
		s.mu.Unlock()
		s.emitState(StateIdle)
		return ctxErr
	}

	aErr := WrapError(err, ErrCodeDeviceUnavailable)
	s.mu.Lock()
	current := s.gen == gen
	if current {
		s.state = StateFailed
	}
	s.mu.Unlock()

	s.logger.LogError(aErr)
	if current {
		s.emitState(StateFailed)
	}
	return aErr
}

// Stop releases the device and codec instance and returns once the worker
// has exited, so no result or signal is emitted after it returns.
// Idempotent, and safe to call while Start is still acquiring.
func (s *CaptureSession) Stop() {
	s.mu.Lock()
	run := s.run
	s.run = nil
	if run == nil && s.state != StateAcquiring && s.state != StateActive {
		s.mu.Unlock()
		return
	}
	s.gen++
	s.state = StateStopping
	s.mu.Unlock()
	s.emitState(StateStopping)

	if run != nil {
		run.shutdown(s.logger)
		<-run.done
	}
	s.meter.Reset()

	s.mu.Lock()
	s.state = StateIdle
	s.mu.Unlock()

	s.logger.LogAudioEvent("capture_stopped", map[string]interface{}{
		"blocks_processed": s.processed.Load(),
		"blocks_dropped":   s.dropped.Load(),
	})
	s.emitState(StateIdle)
	s.emitSignal(0)
}

func (s *CaptureSession) worker(run *captureRun) {
	defer close(run.done)
	defer func() {
		if err := run.instance.Close(); err != nil {
			s.logger.WithError(err).Warn("Failed to release codec instance")
		}
	}()

	ticker := time.NewTicker(s.signalInterval())
	defer ticker.Stop()

	for {
		select {
		case <-run.quit:
			return
		case block := <-run.blocks:
			s.processBlock(run, block)
		case <-ticker.C:
			s.sampleSignal(run)
		}
	}
}

func (s *CaptureSession) processBlock(run *captureRun, block []float32) {
	if run.stopped.Load() {
		return
	}
	s.processed.Add(1)
	run.analyser.Write(block)

	payload, err := run.instance.Decode(Float32ToBytes(block))
	if err != nil {
		s.decodeErr.Add(1)
		s.logger.WithError(err).Debug("Decode failed")
		return
	}
	if len(payload) == 0 {
		return
	}

	// Stop may have landed while Decode was running
	run.emitMu.Lock()
	defer run.emitMu.Unlock()
	if run.stopped.Load() {
		return
	}
	text := DecodeText(payload)
	if !s.filter.Observe(text) {
		return
	}
	s.emitted.Add(1)
	s.emitResult(DecodedResult{Text: text, Timestamp: time.Now()})
}

// sampleSignal holds the run's emit lock while emitting, so signal
// handlers must not call Stop.
func (s *CaptureSession) sampleSignal(run *captureRun) {
	run.emitMu.Lock()
	defer run.emitMu.Unlock()
	if run.stopped.Load() {
		return
	}
	s.emitSignal(s.meter.Update(run.analyser.Strength()))
}

func (s *CaptureSession) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *CaptureSession) StartedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startedAt
}

func (s *CaptureSession) SignalStrength() float64 {
	return s.meter.Value()
}

func (s *CaptureSession) Stats() CaptureStats {
	return CaptureStats{
		BlocksProcessed: s.processed.Load(),
		BlocksDropped:   s.dropped.Load(),
		DecodeErrors:    s.decodeErr.Load(),
		ResultsEmitted:  s.emitted.Load(),
	}
}

func (s *CaptureSession) queueDepth() int {
	if s.config.QueueDepth > 0 {
		return s.config.QueueDepth
	}
	return 32
}

func (s *CaptureSession) signalInterval() time.Duration {
	if s.config.SignalInterval > 0 {
		return s.config.SignalInterval
	}
	return DefaultSignalInterval
}

func (s *CaptureSession) emitResult(r DecodedResult) {
	s.mu.Lock()
	h := s.onResult
	s.mu.Unlock()
	if h != nil {
		h(r)
	}
}

func (s *CaptureSession) emitSignal(v float64) {
	s.mu.Lock()
	h := s.onSignal
	s.mu.Unlock()
	if h != nil {
		h(v)
	}
}

func (s *CaptureSession) emitState(state SessionState) {
	s.logger.LogSessionEvent(CaptureKind, s.id, state)
	s.mu.Lock()
	h := s.onState
	s.mu.Unlock()
	if h != nil {
		h(state)
	}
}

// enqueue runs on the audio thread. The device reuses its buffer, so the
// block is copied; a full queue drops the block rather than blocking.
func (r *captureRun) enqueue(in []float32) {
	if r.stopped.Load() {
		return
	}
	block := make([]float32, len(in))
	copy(block, in)
	select {
	case r.blocks <- block:
	default:
		r.dropped.Add(1)
	}
}

// shutdown releases the device stream and tells the worker to exit; the
// worker frees the codec instance on its way out and then closes done.
func (r *captureRun) shutdown(logger *Logger) {
	r.emitMu.Lock()
	swapped := r.stopped.CompareAndSwap(false, true)
	r.emitMu.Unlock()
	if !swapped {
		return
	}
	if err := r.stream.Stop(); err != nil {
		logger.WithError(err).Warn("Failed to stop input stream")
	}
	if err := r.stream.Close(); err != nil {
		logger.WithError(err).Warn("Failed to close input stream")
	}
	close(r.quit)
}

// abandon releases a run whose worker never started
func (r *captureRun) abandon() {
	r.stopped.Store(true)
	_ = r.stream.Stop()
	_ = r.stream.Close()
	_ = r.instance.Close()
}
