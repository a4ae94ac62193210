package chirp

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Error codes as constants
const (
	ErrCodePermissionDenied  = "PERMISSION_DENIED"
	ErrCodeDeviceUnavailable = "DEVICE_UNAVAILABLE"
	ErrCodeEncodeFailed      = "ENCODE_FAILED"
	ErrCodeNoText            = "NO_TEXT"
	ErrCodeGatewayLoadFailed = "GATEWAY_LOAD_FAILED"
	ErrCodeSessionActive     = "SESSION_ACTIVE"
	ErrCodeInvalidRequest    = "INVALID_REQUEST"
	ErrCodeConfigInvalid     = "CONFIG_INVALID"
	ErrCodeUnauthorized      = "UNAUTHORIZED"
	ErrCodeUnknown           = "UNKNOWN_ERROR"
)

// Sentinels for errors.Is. Matching is by code only.
var (
	ErrPermissionDenied  = &AudioError{Code: ErrCodePermissionDenied, Message: "microphone permission denied"}
	ErrDeviceUnavailable = &AudioError{Code: ErrCodeDeviceUnavailable, Message: "audio device unavailable"}
	ErrEncodeFailed      = &AudioError{Code: ErrCodeEncodeFailed, Message: "codec could not produce a waveform"}
	ErrNoText            = &AudioError{Code: ErrCodeNoText, Message: "no text to transmit"}
	ErrGatewayLoadFailed = &AudioError{Code: ErrCodeGatewayLoadFailed, Message: "codec gateway failed to load"}
	ErrSessionActive     = &AudioError{Code: ErrCodeSessionActive, Message: "session already active"}
	ErrUnauthorized      = &AudioError{Code: ErrCodeUnauthorized, Message: "unauthorized"}
)

// AudioError is the error type returned by every session operation
type AudioError struct {
	Message   string
	Code      string
	Timestamp time.Time
	Details   map[string]interface{}
	err       error
}

func NewAudioError(message, code string) *AudioError {
	return &AudioError{
		Message:   message,
		Code:      code,
		Timestamp: time.Now(),
	}
}

// WrapError wraps any error with a code. An *AudioError is returned as is.
func WrapError(err error, code string) *AudioError {
	if err == nil {
		return nil
	}
	var aErr *AudioError
	if errors.As(err, &aErr) {
		return aErr
	}
	return &AudioError{
		Message:   err.Error(),
		Code:      code,
		Timestamp: time.Now(),
		err:       err,
	}
}

func (e *AudioError) Error() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%s (%s)", e.Message, e.Code))
	if len(e.Details) > 0 {
		keys := make([]string, 0, len(e.Details))
		for k := range e.Details {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		sb.WriteString(":")
		for _, k := range keys {
			sb.WriteString(fmt.Sprintf(" %s=%v", k, e.Details[k]))
		}
	}
	return sb.String()
}

func (e *AudioError) Unwrap() error {
	return e.err
}

func (e *AudioError) Is(target error) bool {
	t, ok := target.(*AudioError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// AddDetail attaches a key/value to the error
func (e *AudioError) AddDetail(key string, value interface{}) *AudioError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

func (e *AudioError) GetDetail(key string) (interface{}, bool) {
	if e.Details == nil {
		return nil, false
	}
	value, exists := e.Details[key]
	return value, exists
}

// Specific error creators
func NewPermissionError(message string) *AudioError {
	return NewAudioError(message, ErrCodePermissionDenied)
}

func NewDeviceError(message string) *AudioError {
	return NewAudioError(message, ErrCodeDeviceUnavailable)
}

func NewEncodeError(message string) *AudioError {
	return NewAudioError(message, ErrCodeEncodeFailed)
}

func NewGatewayError(message string) *AudioError {
	return NewAudioError(message, ErrCodeGatewayLoadFailed)
}

func NewConfigError(message string) *AudioError {
	return NewAudioError(message, ErrCodeConfigInvalid)
}

// ErrorCode returns the code carried by err, or ErrCodeUnknown
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	var aErr *AudioError
	if errors.As(err, &aErr) {
		return aErr.Code
	}
	return ErrCodeUnknown
}

// IsErrorCode reports whether err carries the given code
func IsErrorCode(err error, code string) bool {
	return err != nil && ErrorCode(err) == code
}

// IsDeviceError reports whether err came from device acquisition
func IsDeviceError(err error) bool {
	switch ErrorCode(err) {
	case ErrCodePermissionDenied, ErrCodeDeviceUnavailable:
		return true
	}
	return false
}
