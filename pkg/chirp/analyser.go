package chirp

import (
	"math"
	"sync"

	"gonum.org/v1/gonum/dsp/fourier"
)

// Byte-scaled spectrum range, same defaults as a WebAudio AnalyserNode
const (
	analyserMinDecibels = -100.0
	analyserMaxDecibels = -30.0

	// SmoothingPrevious is the weight kept from the previous strength value
	SmoothingPrevious = 0.7
)

// Analyser keeps the most recent window of samples and produces a
// frequency-domain magnitude snapshot on demand. Safe for one writer and
// one reader on different goroutines.
type Analyser struct {
	mu   sync.Mutex
	size int
	ring []float64
	pos  int

	fft    *fourier.FFT
	window []float64
	seq    []float64
	coeffs []complex128
	bins   []uint8
}

// NewAnalyser creates an analyser over fftSize samples (a power of two)
func NewAnalyser(fftSize int) *Analyser {
	if fftSize <= 0 {
		fftSize = DefaultFFTSize
	}
	return &Analyser{
		size:   fftSize,
		ring:   make([]float64, fftSize),
		fft:    fourier.NewFFT(fftSize),
		window: blackmanWindow(fftSize),
		seq:    make([]float64, fftSize),
		bins:   make([]uint8, fftSize/2),
	}
}

// Write appends samples to the analysis window
func (a *Analyser) Write(samples []float32) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, s := range samples {
		a.ring[a.pos] = float64(s)
		a.pos++
		if a.pos == a.size {
			a.pos = 0
		}
	}
}

// Reset clears the analysis window
func (a *Analyser) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i := range a.ring {
		a.ring[i] = 0
	}
	a.pos = 0
}

// FrequencyData returns byte-scaled magnitudes for fftSize/2 bins. The
// returned slice is a copy.
func (a *Analyser) FrequencyData() []uint8 {
	a.mu.Lock()
	defer a.mu.Unlock()

	// oldest sample first
	for i := 0; i < a.size; i++ {
		a.seq[i] = a.ring[(a.pos+i)%a.size] * a.window[i]
	}
	a.coeffs = a.fft.Coefficients(a.coeffs, a.seq)

	scale := 1.0 / float64(a.size)
	span := analyserMaxDecibels - analyserMinDecibels
	for i := range a.bins {
		mag := math.Hypot(real(a.coeffs[i]), imag(a.coeffs[i])) * scale
		db := analyserMinDecibels
		if mag > 0 {
			db = 20 * math.Log10(mag)
		}
		v := 255 * (db - analyserMinDecibels) / span
		switch {
		case v < 0:
			a.bins[i] = 0
		case v > 255:
			a.bins[i] = 255
		default:
			a.bins[i] = uint8(v)
		}
	}

	out := make([]uint8, len(a.bins))
	copy(out, a.bins)
	return out
}

// Strength is the average of the frequency data normalised to [0,1]
func (a *Analyser) Strength() float64 {
	data := a.FrequencyData()
	if len(data) == 0 {
		return 0
	}
	var sum float64
	for _, v := range data {
		sum += float64(v)
	}
	return clamp01(sum / float64(len(data)) / 255)
}

func blackmanWindow(n int) []float64 {
	const alpha = 0.16
	a0 := (1 - alpha) / 2
	a1 := 0.5
	a2 := alpha / 2
	w := make([]float64, n)
	for i := range w {
		x := float64(i) / float64(n)
		w[i] = a0 - a1*math.Cos(2*math.Pi*x) + a2*math.Cos(4*math.Pi*x)
	}
	return w
}

// SignalMeter smooths raw strength readings for display
type SignalMeter struct {
	mu    sync.Mutex
	value float64
}

// Update folds a new reading into the meter and returns the smoothed value.
// Readings outside [0,1] are clamped first.
func (m *SignalMeter) Update(raw float64) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.value = clamp01(SmoothingPrevious*m.value + (1-SmoothingPrevious)*clamp01(raw))
	return m.value
}

func (m *SignalMeter) Value() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.value
}

func (m *SignalMeter) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.value = 0
}
