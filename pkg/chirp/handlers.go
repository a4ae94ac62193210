package chirp

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

// Factory functions for common event handlers

func CreateLoggingEventHandler(logger *Logger, verbose bool) EventHandler {
	if logger == nil {
		logger = GetGlobalLogger()
	}
	return func(event Event) {
		if event.Type == EventSignal && !verbose {
			return
		}
		fields := map[string]interface{}{
			"type":    string(event.Type),
			"session": string(event.Session),
		}
		if event.Status != "" {
			fields["status"] = string(event.Status)
		}
		if event.Result != nil {
			fields["text"] = event.Result.Text
		}
		if event.Type == EventSignal {
			fields["signal"] = event.Signal
		}
		if event.Error != "" {
			fields["error"] = event.Error
			fields["code"] = event.Code
		}
		logger.LogAudioEvent("host_event", fields)
	}
}

// CreateResultHandler calls callback for every decoded result
func CreateResultHandler(callback func(DecodedResult)) EventHandler {
	return func(event Event) {
		if event.Type == EventDecoded && event.Result != nil {
			callback(*event.Result)
		}
	}
}

func CreateStatusHandler(kind SessionKind, callback func(Status)) EventHandler {
	return func(event Event) {
		if event.Type == EventStatus && event.Session == kind {
			callback(event.Status)
		}
	}
}

func CreateErrorHandler(callback func(code, message string)) EventHandler {
	return func(event Event) {
		if event.Type == EventError {
			callback(event.Code, event.Error)
		}
	}
}

// CreateResultPrinter writes each decoded result as one line
func CreateResultPrinter(w io.Writer) EventHandler {
	var mu sync.Mutex
	return CreateResultHandler(func(r DecodedResult) {
		mu.Lock()
		defer mu.Unlock()
		fmt.Fprintf(w, "[%s] %s\n", r.Timestamp.Format("15:04:05"), r.Text)
	})
}

// CreateSignalBar renders signal strength as a bar, redrawn in place at
// most once per interval.
func CreateSignalBar(w io.Writer, kind SessionKind, width int, interval time.Duration) EventHandler {
	if width <= 0 {
		width = 30
	}
	var (
		mu   sync.Mutex
		last time.Time
	)
	return func(event Event) {
		if event.Type != EventSignal || event.Session != kind {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		if event.Signal > 0 && time.Since(last) < interval {
			return
		}
		last = time.Now()
		fmt.Fprintf(w, "\r%s", FormatSignalBar(event.Signal, width))
	}
}

// FormatSignalBar draws strength in [0,1] as a fixed-width bar
func FormatSignalBar(strength float64, width int) string {
	strength = clamp01(strength)
	filled := int(strength*float64(width) + 0.5)
	return fmt.Sprintf("[%s%s] %3.0f%%",
		strings.Repeat("#", filled),
		strings.Repeat("-", width-filled),
		strength*100)
}

func CreateEventTypeFilter(eventType EventType, handler EventHandler) EventHandler {
	return func(event Event) {
		if event.Type == eventType {
			handler(event)
		}
	}
}

// CreateBufferedHandler moves handler off the session goroutine. Events are
// dropped when the buffer is full.
func CreateBufferedHandler(bufferSize int, handler EventHandler) EventHandler {
	events := make(chan Event, bufferSize)
	go func() {
		for event := range events {
			handler(event)
		}
	}()
	return func(event Event) {
		select {
		case events <- event:
		default:
			Warn("Event buffer full, dropping event")
		}
	}
}

func SequentialEventHandlers(handlers ...EventHandler) EventHandler {
	return func(event Event) {
		for _, h := range handlers {
			if h != nil {
				h(event)
			}
		}
	}
}
