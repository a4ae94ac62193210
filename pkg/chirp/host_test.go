package chirp

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) handle(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *eventRecorder) ofType(t EventType) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func TestHostGatewayFailureDisablesOperations(t *testing.T) {
	backend := newFakeBackend()
	h := NewHost(testConfig(), nil, NewGatewayError("libggwave not found"), backend)
	defer h.Close()

	err := h.StartListening(context.Background(), "")
	assert.True(t, errors.Is(err, ErrGatewayLoadFailed))

	req, reqErr := NewTransmissionRequest("1234", ProtocolAudibleFast, 50, false)
	require.NoError(t, reqErr)
	assert.True(t, errors.Is(h.Transmit(context.Background(), req), ErrGatewayLoadFailed))

	snap := h.Snapshot()
	assert.False(t, snap.GatewayReady)
	assert.Contains(t, snap.GatewayError, "libggwave not found")
	assert.Equal(t, 0, backend.streamCount())

	// the registry is still listed so a UI can render it
	assert.Len(t, h.Protocols(), 12)
}

func TestHostDecodedResultsReachHistoryAndSubscribers(t *testing.T) {
	codec := newFakeCodec("", "1234", "1234", "5678")
	h := NewHost(testConfig(), codec, nil, newFakeBackend())
	defer h.Close()

	rec := &eventRecorder{}
	unsubscribe := h.Subscribe(rec.handle)
	defer unsubscribe()

	require.NoError(t, h.StartListening(context.Background(), ""))
	assert.Equal(t, StatusListening, h.Snapshot().CaptureStatus)

	require.Eventually(t, func() bool { return len(h.History()) == 2 }, time.Second, 5*time.Millisecond)
	history := h.History()
	assert.Equal(t, "5678", history[0].Text)
	assert.Equal(t, "1234", history[1].Text)

	require.Eventually(t, func() bool { return len(rec.ofType(EventDecoded)) == 2 }, time.Second, 5*time.Millisecond)

	h.StopListening()
	snap := h.Snapshot()
	assert.Equal(t, StatusIdle, snap.CaptureStatus)
	assert.Equal(t, StateIdle, snap.CaptureState)
	assert.Len(t, snap.History, 2, "stop keeps history")
}

func TestHostHistoryIsCapped(t *testing.T) {
	script := make([]string, 0, 15)
	for i := 0; i < 15; i++ {
		script = append(script, fmt.Sprintf("code-%02d", i))
	}
	h := NewHost(testConfig(), newFakeCodec(script...), nil, newFakeBackend())
	defer h.Close()

	require.NoError(t, h.StartListening(context.Background(), ""))
	rec := &eventRecorder{}
	h.Subscribe(rec.handle)

	require.Eventually(t, func() bool {
		latest := h.History()
		return len(latest) > 0 && latest[0].Text == "code-14"
	}, time.Second, 5*time.Millisecond)

	history := h.History()
	assert.Len(t, history, HistoryLimit)
	assert.Equal(t, "code-05", history[HistoryLimit-1].Text)
}

func TestHostExpectedCodeStopsCapture(t *testing.T) {
	codec := newFakeCodec("0000", "1234")
	backend := newFakeBackend()
	h := NewHost(testConfig(), codec, nil, backend)
	defer h.Close()

	require.NoError(t, h.StartListening(context.Background(), "1234"))

	require.Eventually(t, func() bool {
		snap := h.Snapshot()
		return snap.CaptureStatus == StatusSuccess && snap.CaptureState == StateIdle
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, 0, backend.openStreams())
	history := h.History()
	require.NotEmpty(t, history)
	assert.Equal(t, "1234", history[0].Text)
}

func TestHostSecondCaptureIsRejected(t *testing.T) {
	h := NewHost(testConfig(), newFakeCodec(), nil, newFakeBackend())
	defer h.Close()

	require.NoError(t, h.StartListening(context.Background(), ""))
	err := h.StartListening(context.Background(), "")
	assert.True(t, errors.Is(err, ErrSessionActive))

	h.StopListening()
	require.NoError(t, h.StartListening(context.Background(), ""))
}

func TestHostCaptureFailureReportsError(t *testing.T) {
	backend := newFakeBackend()
	backend.inputErr = NewPermissionError("denied")
	h := NewHost(testConfig(), newFakeCodec(), nil, backend)
	defer h.Close()

	rec := &eventRecorder{}
	h.Subscribe(rec.handle)

	err := h.StartListening(context.Background(), "")
	assert.True(t, errors.Is(err, ErrPermissionDenied))

	snap := h.Snapshot()
	assert.Equal(t, StatusError, snap.CaptureStatus)
	assert.NotEmpty(t, snap.LastError)

	errs := rec.ofType(EventError)
	require.Len(t, errs, 1)
	assert.Equal(t, ErrCodePermissionDenied, errs[0].Code)
}

func TestHostResetClearsHistory(t *testing.T) {
	h := NewHost(testConfig(), newFakeCodec("1234"), nil, newFakeBackend())
	defer h.Close()

	rec := &eventRecorder{}
	h.Subscribe(rec.handle)

	require.NoError(t, h.StartListening(context.Background(), ""))
	require.Eventually(t, func() bool { return len(h.History()) == 1 }, time.Second, 5*time.Millisecond)

	h.Reset()
	snap := h.Snapshot()
	assert.Empty(t, snap.History)
	assert.Equal(t, StatusIdle, snap.CaptureStatus)
	assert.Equal(t, StateIdle, snap.CaptureState)
	assert.Len(t, rec.ofType(EventReset), 1)
}

func TestHostSentReturnsToIdle(t *testing.T) {
	h := NewHost(testConfig(), newFakeCodec(), nil, newFakeBackend())
	defer h.Close()

	rec := &eventRecorder{}
	h.Subscribe(rec.handle)

	req, err := NewTransmissionRequest("1234", ProtocolAudibleFast, 50, false)
	require.NoError(t, err)
	require.NoError(t, h.Transmit(context.Background(), req))
	assert.Equal(t, StatusSent, h.Snapshot().PlaybackStatus)

	require.Eventually(t, func() bool { return h.Snapshot().PlaybackStatus == StatusIdle }, time.Second, 5*time.Millisecond)

	var statuses []Status
	for _, e := range rec.ofType(EventStatus) {
		if e.Session == PlaybackKind {
			statuses = append(statuses, e.Status)
		}
	}
	assert.Equal(t, []Status{StatusSending, StatusSent, StatusIdle}, statuses)
}

func TestHostTransmitNoText(t *testing.T) {
	h := NewHost(testConfig(), newFakeCodec(), nil, newFakeBackend())
	defer h.Close()

	rec := &eventRecorder{}
	h.Subscribe(rec.handle)

	err := h.Transmit(context.Background(), TransmissionRequest{ProtocolID: ProtocolAudibleFast, VolumePercent: 50})
	assert.True(t, errors.Is(err, ErrNoText))
	errs := rec.ofType(EventError)
	require.Len(t, errs, 1)
	assert.Equal(t, ErrCodeNoText, errs[0].Code)
}

func TestHostUnsubscribe(t *testing.T) {
	h := NewHost(testConfig(), newFakeCodec(), nil, newFakeBackend())
	defer h.Close()

	rec := &eventRecorder{}
	unsubscribe := h.Subscribe(rec.handle)
	unsubscribe()

	h.Reset()
	assert.Empty(t, rec.ofType(EventReset))
}

func TestHostCloseRefusesOperations(t *testing.T) {
	backend := newFakeBackend()
	h := NewHost(testConfig(), newFakeCodec(), nil, backend)
	require.NoError(t, h.StartListening(context.Background(), ""))

	h.Close()
	h.Close()
	assert.Equal(t, 0, backend.openStreams())
	assert.Error(t, h.StartListening(context.Background(), ""))
}

func TestHostResetDropsDecodeInFlight(t *testing.T) {
	codec := newFakeCodec("LATE")
	entered, release := blockFirstDecode(codec)
	backend := newFakeBackend()
	h := NewHost(testConfig(), codec, nil, backend)
	defer h.Close()

	rec := &eventRecorder{}
	h.Subscribe(rec.handle)

	require.NoError(t, h.StartListening(context.Background(), ""))
	<-entered

	done := make(chan struct{})
	go func() {
		h.Reset()
		close(done)
	}()
	require.Eventually(t, backend.stopsRequested, time.Second, time.Millisecond)
	close(release)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Reset did not return")
	}
	assert.Empty(t, h.History())
	assert.Empty(t, rec.ofType(EventDecoded))
	assert.Equal(t, StatusIdle, h.Snapshot().CaptureStatus)
}

func TestHostConcurrentStartsOpenOneCapture(t *testing.T) {
	backend := newFakeBackend()
	h := NewHost(testConfig(), newFakeCodec(), nil, backend)
	defer h.Close()

	const callers = 16
	var (
		wg    sync.WaitGroup
		begin = make(chan struct{})
		errs  = make(chan error, callers)
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-begin
			errs <- h.StartListening(context.Background(), "")
		}()
	}
	close(begin)
	wg.Wait()
	close(errs)

	started := 0
	for err := range errs {
		if err == nil {
			started++
			continue
		}
		assert.True(t, errors.Is(err, ErrSessionActive), "unexpected error: %v", err)
	}
	assert.Equal(t, 1, started)
	assert.Equal(t, 1, backend.streamCount())

	h.StopListening()
	assert.Equal(t, 0, backend.openStreams())
}

func TestHostRejectsStartWhileAcquiring(t *testing.T) {
	backend := newFakeBackend()
	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	backend.beforeOpen = func() {
		once.Do(func() {
			close(entered)
			<-release
		})
	}
	h := NewHost(testConfig(), newFakeCodec(), nil, backend)
	defer h.Close()

	errCh := make(chan error, 1)
	go func() { errCh <- h.StartListening(context.Background(), "") }()
	<-entered

	err := h.StartListening(context.Background(), "")
	assert.True(t, errors.Is(err, ErrSessionActive))

	close(release)
	require.NoError(t, <-errCh)
	assert.Equal(t, StatusListening, h.Snapshot().CaptureStatus)
}

func TestHostCloseDuringStartReleasesDevice(t *testing.T) {
	backend := newFakeBackend()
	entered := make(chan struct{})
	release := make(chan struct{})
	backend.beforeOpen = func() {
		close(entered)
		<-release
	}
	h := NewHost(testConfig(), newFakeCodec(), nil, backend)

	errCh := make(chan error, 1)
	go func() { errCh <- h.StartListening(context.Background(), "") }()
	<-entered

	h.Close()
	close(release)
	assert.Error(t, <-errCh)
	assert.Equal(t, 0, backend.openStreams())
}
