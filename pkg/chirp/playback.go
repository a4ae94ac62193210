package chirp

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// PlaybackSession synthesizes and plays one transmission at a time
type PlaybackSession struct {
	id      string
	codec   Codec
	backend AudioBackend
	config  *AudioConfig
	logger  *Logger

	mu        sync.Mutex
	state     SessionState
	status    Status
	startedAt time.Time
	gen       uint64
	run       *playbackRun
	onSignal  SignalHandler
	onState   StateHandler
	onStatus  func(Status)

	meter SignalMeter
}

type playbackRun struct {
	stream   AudioStream
	analyser *Analyser
	samples  []float32
	pos      int

	stopped     atomic.Bool
	signalMu    sync.Mutex
	finished    chan struct{}
	finishOnce  sync.Once
	aborted     chan struct{}
	abortOnce   sync.Once
	releaseOnce sync.Once
}

func NewPlaybackSession(codec Codec, backend AudioBackend, config *AudioConfig, logger *Logger) *PlaybackSession {
	if config == nil {
		config = NewAudioConfig()
	}
	if logger == nil {
		logger = GetGlobalLogger()
	}
	id := uuid.NewString()
	return &PlaybackSession{
		id:      id,
		codec:   codec,
		backend: backend,
		config:  config,
		logger:  logger.WithComponent("PlaybackSession").WithField("session_id", id),
		state:   StateIdle,
		status:  StatusIdle,
	}
}

func (p *PlaybackSession) ID() string { return p.id }

func (p *PlaybackSession) OnSignal(h SignalHandler) {
	p.mu.Lock()
	p.onSignal = h
	p.mu.Unlock()
}

func (p *PlaybackSession) OnState(h StateHandler) {
	p.mu.Lock()
	p.onState = h
	p.mu.Unlock()
}

func (p *PlaybackSession) OnStatus(h func(Status)) {
	p.mu.Lock()
	p.onStatus = h
	p.mu.Unlock()
}

// Transmit encodes req and blocks until local playback has finished. The
// only completion signal is the end of local playback; nothing confirms the
// other side decoded it. There is no timeout besides ctx.
func (p *PlaybackSession) Transmit(ctx context.Context, req TransmissionRequest) error {
	if req.Text == "" {
		return NewAudioError("no text to transmit", ErrCodeNoText)
	}

	p.mu.Lock()
	if p.state == StateAcquiring || p.state == StateActive || p.state == StateStopping {
		p.mu.Unlock()
		return NewAudioError("playback session already active", ErrCodeSessionActive).AddDetail("state", string(p.state))
	}
	p.gen++
	gen := p.gen
	p.state = StateAcquiring
	p.mu.Unlock()

	p.meter.Reset()
	p.emitState(StateAcquiring)
	p.setStatus(StatusSending)

	run, err := p.acquire(ctx, req)
	if err != nil {
		return p.fail(gen, err)
	}

	p.mu.Lock()
	if p.gen != gen {
		p.mu.Unlock()
		run.release(p.logger)
		return nil
	}
	p.run = run
	p.state = StateActive
	p.startedAt = time.Now()
	p.mu.Unlock()

	p.logger.LogAudioEvent("transmission_started", map[string]interface{}{
		"protocol":    req.ProtocolID.String(),
		"volume":      req.VolumePercent,
		"samples":     len(run.samples),
		"sample_rate": run.stream.SampleRate(),
	})
	p.emitState(StateActive)

	ticker := time.NewTicker(p.signalInterval())
	defer ticker.Stop()

	for {
		select {
		case <-run.finished:
			p.complete(gen, run)
			return nil
		case <-run.aborted:
			return nil
		case <-ctx.Done():
			p.abort(gen, run)
			return ctx.Err()
		case <-ticker.C:
			p.sampleSignal(run)
		}
	}
}

func (p *PlaybackSession) acquire(ctx context.Context, req TransmissionRequest) (*playbackRun, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cfg := StreamConfig{
		SampleRate:      p.config.SampleRate,
		Channels:        1,
		FramesPerBuffer: p.config.BlockSize,
		DeviceID:        p.config.OutputDeviceID,
	}
	fallback := cfg
	if req.SpeakerMode {
		cfg = p.speakerConfig(cfg)
	}

	rate, err := p.backend.NativeSampleRate(cfg, true)
	if err != nil && cfg.DeviceID != fallback.DeviceID {
		p.logger.WithError(err).Warn("Speaker device unusable, using default output")
		cfg = fallback
		rate, err = p.backend.NativeSampleRate(cfg, true)
	}
	if err != nil {
		return nil, WrapError(err, ErrCodeDeviceUnavailable)
	}
	cfg.SampleRate = rate
	fallback.SampleRate = rate

	inst, err := initCodecAt(p.codec, rate)
	if err != nil {
		return nil, err
	}
	samples, err := encodeWith(inst, req)
	if cerr := inst.Close(); cerr != nil {
		p.logger.WithError(cerr).Warn("Failed to release codec instance")
	}
	if err != nil {
		return nil, err
	}

	run := &playbackRun{
		analyser: NewAnalyser(p.config.FFTSize),
		samples:  samples,
		finished: make(chan struct{}),
		aborted:  make(chan struct{}),
	}

	stream, err := p.backend.OpenOutput(cfg, run.fill)
	if err != nil && cfg.DeviceID != fallback.DeviceID {
		p.logger.WithError(err).Warn("Speaker device failed to open, using default output")
		stream, err = p.backend.OpenOutput(fallback, run.fill)
	}
	if err != nil {
		return nil, WrapError(err, ErrCodeDeviceUnavailable)
	}
	run.stream = stream

	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return nil, WrapError(err, ErrCodeDeviceUnavailable)
	}
	return run, nil
}

// sampleSignal holds the run's signal lock while emitting, so signal
// handlers must not call Stop.
func (p *PlaybackSession) sampleSignal(run *playbackRun) {
	run.signalMu.Lock()
	defer run.signalMu.Unlock()
	if run.stopped.Load() {
		return
	}
	p.emitSignal(p.meter.Update(run.analyser.Strength()))
}

// speakerConfig is best effort: any failure keeps the configured output
func (p *PlaybackSession) speakerConfig(cfg StreamConfig) StreamConfig {
	dev, err := FindSpeakerDevice(p.backend)
	if err != nil {
		p.logger.WithError(err).Warn("Speaker mode unavailable")
		return cfg
	}
	id := dev.ID
	cfg.DeviceID = &id
	p.logger.WithField("device", dev.Name).Info("Speaker mode enabled")
	return cfg
}

func (p *PlaybackSession) fail(gen uint64, err error) error {
	if ctxErr := ctx2err(err); ctxErr != nil {
		p.mu.Lock()
		current := p.gen == gen
		if current {
			p.state = StateIdle
		}
		p.mu.Unlock()
		if current {
			p.emitState(StateIdle)
			p.setStatus(StatusIdle)
		}
		return ctxErr
	}

	aErr := WrapError(err, ErrCodeDeviceUnavailable)
	p.mu.Lock()
	current := p.gen == gen
	if current {
		p.state = StateFailed
	}
	p.mu.Unlock()

	p.logger.LogError(aErr)
	if current {
		p.emitState(StateFailed)
		p.setStatus(StatusError)
	}
	return aErr
}

func (p *PlaybackSession) complete(gen uint64, run *playbackRun) {
	run.release(p.logger)
	p.meter.Reset()

	p.mu.Lock()
	current := p.gen == gen
	if current {
		p.run = nil
		p.state = StateIdle
	}
	p.mu.Unlock()
	if !current {
		return
	}

	p.logger.LogAudioEvent("transmission_sent", map[string]interface{}{
		"samples": len(run.samples),
	})
	p.emitSignal(0)
	p.emitState(StateIdle)
	p.setStatus(StatusSent)
}

func (p *PlaybackSession) abort(gen uint64, run *playbackRun) {
	run.release(p.logger)
	p.meter.Reset()

	p.mu.Lock()
	current := p.gen == gen
	if current {
		p.run = nil
		p.state = StateIdle
	}
	p.mu.Unlock()
	if current {
		p.emitSignal(0)
		p.emitState(StateIdle)
		p.setStatus(StatusIdle)
	}
}

// Stop aborts an in-flight transmission. Idempotent.
func (p *PlaybackSession) Stop() {
	p.mu.Lock()
	run := p.run
	p.run = nil
	if run == nil && p.state != StateAcquiring && p.state != StateActive {
		p.mu.Unlock()
		return
	}
	p.gen++
	p.state = StateStopping
	p.mu.Unlock()
	p.emitState(StateStopping)

	if run != nil {
		run.release(p.logger)
	}
	p.meter.Reset()

	p.mu.Lock()
	p.state = StateIdle
	p.mu.Unlock()

	p.emitSignal(0)
	p.emitState(StateIdle)
	p.setStatus(StatusIdle)
}

// ResetStatus moves a terminal sent/error status back to idle. It returns
// false when the status was something else.
func (p *PlaybackSession) ResetStatus(from Status) bool {
	p.mu.Lock()
	if p.status != from || p.state == StateActive || p.state == StateAcquiring {
		p.mu.Unlock()
		return false
	}
	p.mu.Unlock()
	p.setStatus(StatusIdle)
	return true
}

func (p *PlaybackSession) State() SessionState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *PlaybackSession) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

func (p *PlaybackSession) StartedAt() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.startedAt
}

func (p *PlaybackSession) SignalStrength() float64 {
	return p.meter.Value()
}

func (p *PlaybackSession) signalInterval() time.Duration {
	if p.config.SignalInterval > 0 {
		return p.config.SignalInterval
	}
	return DefaultSignalInterval
}

func (p *PlaybackSession) setStatus(status Status) {
	p.mu.Lock()
	p.status = status
	h := p.onStatus
	p.mu.Unlock()
	if h != nil {
		h(status)
	}
}

func (p *PlaybackSession) emitSignal(v float64) {
	p.mu.Lock()
	h := p.onSignal
	p.mu.Unlock()
	if h != nil {
		h(v)
	}
}

func (p *PlaybackSession) emitState(state SessionState) {
	p.logger.LogSessionEvent(PlaybackKind, p.id, state)
	p.mu.Lock()
	h := p.onState
	p.mu.Unlock()
	if h != nil {
		h(state)
	}
}

// fill runs on the audio thread. Completion is signalled on the first
// callback after the waveform has been handed over entirely, so the tail
// has left the buffer.
func (r *playbackRun) fill(out []float32) {
	if r.stopped.Load() {
		for i := range out {
			out[i] = 0
		}
		return
	}
	n := copy(out, r.samples[r.pos:])
	for i := n; i < len(out); i++ {
		out[i] = 0
	}
	if n > 0 {
		r.analyser.Write(out[:n])
	}
	r.pos += n
	if n == 0 && r.pos >= len(r.samples) {
		r.finishOnce.Do(func() { close(r.finished) })
	}
}

func (r *playbackRun) release(logger *Logger) {
	r.releaseOnce.Do(func() {
		r.signalMu.Lock()
		r.stopped.Store(true)
		r.signalMu.Unlock()
		r.abortOnce.Do(func() { close(r.aborted) })
		if err := r.stream.Stop(); err != nil {
			logger.WithError(err).Warn("Failed to stop output stream")
		}
		if err := r.stream.Close(); err != nil {
			logger.WithError(err).Warn("Failed to close output stream")
		}
	})
}
