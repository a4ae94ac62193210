package chirp

import (
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// fakeCodec decodes from a script: each Decode call pops the next payload,
// an empty string meaning "nothing decoded".
type fakeCodec struct {
	mu        sync.Mutex
	script    []string
	initErr   error
	encodeErr error
	waveform  int
	// onDecode runs at the start of every Decode call
	onDecode func()

	inits     atomic.Int32
	closes    atomic.Int32
	lastInit  Parameters
	lastText  string
	lastProto ProtocolID
	lastVol   int
}

func newFakeCodec(script ...string) *fakeCodec {
	return &fakeCodec{script: script, waveform: 4096}
}

func (c *fakeCodec) DefaultParameters() Parameters {
	return Parameters{PayloadLength: -1, SampleRateInp: 48000, SampleRateOut: 48000, SamplesPerFrame: 1024}
}

func (c *fakeCodec) Init(params Parameters) (CodecInstance, error) {
	if c.initErr != nil {
		return nil, c.initErr
	}
	c.inits.Add(1)
	c.mu.Lock()
	c.lastInit = params
	c.mu.Unlock()
	return &fakeInstance{codec: c}, nil
}

func (c *fakeCodec) Protocols() []ProtocolDescriptor {
	return RegistryDescriptors()
}

func (c *fakeCodec) next() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.script) == 0 {
		return ""
	}
	s := c.script[0]
	c.script = c.script[1:]
	return s
}

type fakeInstance struct {
	codec  *fakeCodec
	closed atomic.Bool
}

func (i *fakeInstance) Encode(text string, protocol ProtocolID, volumePercent int) ([]float32, error) {
	c := i.codec
	c.mu.Lock()
	c.lastText, c.lastProto, c.lastVol = text, protocol, volumePercent
	c.mu.Unlock()
	if c.encodeErr != nil {
		return nil, c.encodeErr
	}
	return sine(c.waveform, 0.5), nil
}

func (i *fakeInstance) Decode(raw []byte) ([]byte, error) {
	if i.codec.onDecode != nil {
		i.codec.onDecode()
	}
	if s := i.codec.next(); s != "" {
		return []byte(s), nil
	}
	return nil, nil
}

func (i *fakeInstance) Close() error {
	if i.closed.CompareAndSwap(false, true) {
		i.codec.closes.Add(1)
	}
	return nil
}

// fakeBackend drives callbacks from a goroutine per started stream
type fakeBackend struct {
	rate      float64
	inputErr  error
	outputErr error
	startErr  error
	outputs   []AudioDevice
	// beforeOpen runs inside OpenInput/OpenOutput, before the stream exists
	beforeOpen func()
	amplitude  float32

	mu      sync.Mutex
	streams []*fakeStream
	lastOut StreamConfig
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{rate: 48000, amplitude: 0.5}
}

func (b *fakeBackend) OpenInput(cfg StreamConfig, process func(in []float32)) (AudioStream, error) {
	if b.beforeOpen != nil {
		b.beforeOpen()
	}
	if b.inputErr != nil {
		return nil, b.inputErr
	}
	return b.newStream(cfg, func(buf []float32) {
		copy(buf, sine(len(buf), b.amplitude))
		process(buf)
	}), nil
}

func (b *fakeBackend) OpenOutput(cfg StreamConfig, process func(out []float32)) (AudioStream, error) {
	if b.beforeOpen != nil {
		b.beforeOpen()
	}
	if b.outputErr != nil {
		return nil, b.outputErr
	}
	b.mu.Lock()
	b.lastOut = cfg
	b.mu.Unlock()
	return b.newStream(cfg, process), nil
}

func (b *fakeBackend) newStream(cfg StreamConfig, tick func([]float32)) *fakeStream {
	frames := cfg.FramesPerBuffer
	if frames <= 0 {
		frames = DefaultBlockSize
	}
	s := &fakeStream{rate: b.rate, frames: frames, tick: tick, startErr: b.startErr}
	b.mu.Lock()
	b.streams = append(b.streams, s)
	b.mu.Unlock()
	return s
}

func (b *fakeBackend) NativeSampleRate(cfg StreamConfig, output bool) (float64, error) {
	return b.rate, nil
}

func (b *fakeBackend) OutputDevices() ([]AudioDevice, error) {
	return b.outputs, nil
}

func (b *fakeBackend) openStreams() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, s := range b.streams {
		if !s.closed.Load() {
			n++
		}
	}
	return n
}

// stopsRequested reports whether the first stream has been asked to stop
func (b *fakeBackend) stopsRequested() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.streams) > 0 && b.streams[0].stops.Load() > 0
}

func (b *fakeBackend) streamCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.streams)
}

type fakeStream struct {
	rate     float64
	frames   int
	tick     func([]float32)
	startErr error

	mu      sync.Mutex
	quit    chan struct{}
	done    chan struct{}
	stops   atomic.Int32
	closed  atomic.Bool
	started atomic.Bool
}

func (s *fakeStream) Start() error {
	if s.startErr != nil {
		return s.startErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quit = make(chan struct{})
	s.done = make(chan struct{})
	s.started.Store(true)
	go func(quit, done chan struct{}) {
		defer close(done)
		buf := make([]float32, s.frames)
		for {
			select {
			case <-quit:
				return
			default:
			}
			s.tick(buf)
			time.Sleep(time.Millisecond)
		}
	}(s.quit, s.done)
	return nil
}

// Stop waits for the callback goroutine like a real device would
func (s *fakeStream) Stop() error {
	s.stops.Add(1)
	s.mu.Lock()
	quit, done := s.quit, s.done
	s.quit = nil
	s.mu.Unlock()
	if quit != nil {
		close(quit)
		<-done
	}
	return nil
}

func (s *fakeStream) Close() error {
	s.closed.Store(true)
	return nil
}

func (s *fakeStream) SampleRate() float64 { return s.rate }

func sine(n int, amplitude float32) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = amplitude * float32(math.Sin(2*math.Pi*1875*float64(i)/48000))
	}
	return out
}

func testAudioConfig() *AudioConfig {
	cfg := NewAudioConfig()
	cfg.SignalInterval = 5 * time.Millisecond
	return cfg
}

func testConfig() *Config {
	cfg := defaultConfig()
	cfg.Audio = testAudioConfig()
	cfg.SentResetDelay = 30 * time.Millisecond
	return cfg
}

func init() {
	SetGlobalLogger(NopLogger())
}
