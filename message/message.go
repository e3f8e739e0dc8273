package message

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ModuleType identifies the pipeline module a record originates from.
type ModuleType string

const (
	ModuleASR    ModuleType = "asr"
	ModuleLLM    ModuleType = "llm"
	ModuleTTS    ModuleType = "tts"
	ModuleMLLM   ModuleType = "mllm"
	ModuleAvatar ModuleType = "avatar"
	ModuleTurn   ModuleType = "turn"
)

// ErrorCode classifies module failures. After a fatal error the module stops
// the current request; after a non-fatal error processing continues.
type ErrorCode int

const (
	CodeOK            ErrorCode = 0
	CodeFatalError    ErrorCode = -1000
	CodeNonFatalError ErrorCode = 1000
)

// Standard metric keys emitted by the pipelines.
const (
	MetricASRTTFW          = "ttfw" // time to first word
	MetricASRTTLW          = "ttlw" // time to last word
	MetricASRConnectDelay  = "connect_delay"
	MetricASRActualSend    = "actual_send_audio_duration"
	MetricTTSTTFB          = "ttfb" // time to first byte
	MetricLLMTTFT          = "ttft" // time to first token
	MetricLLMTTFS          = "ttfs" // time to first sentence
	MetricRequestDurationMS = "request_duration_ms"
)

// Metadata keys stamped onto outbound records for correlation.
const (
	MetadataSessionID = "session_id"
	MetadataTurnID    = "turn_id"
)

// VendorInfo carries a backend's original diagnostics so they survive
// translation into the generic error taxonomy.
type VendorInfo struct {
	Vendor  string `json:"vendor"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// VendorError wraps VendorInfo as a Go error so backend adapters can surface
// vendor diagnostics through ordinary error returns.
type VendorError struct {
	Info VendorInfo
}

// Error implements the error interface.
func (e *VendorError) Error() string {
	return fmt.Sprintf("vendor %s error: %s (code %s)", e.Info.Vendor, e.Info.Message, e.Info.Code)
}

// AsVendorError extracts a *VendorError from an error chain, if present.
func AsVendorError(err error) (*VendorError, bool) {
	var ve *VendorError
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}

// ModuleError is the typed failure record handed to the boundary layer.
// Module, Code and Message are required; VendorInfo and Metadata are optional.
type ModuleError struct {
	ID         string         `json:"id"`
	Module     ModuleType     `json:"module"`
	Code       ErrorCode      `json:"code"`
	Message    string         `json:"message"`
	VendorInfo *VendorInfo    `json:"vendor_info,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// NewModuleError constructs a ModuleError with a fresh correlation id.
func NewModuleError(module ModuleType, code ErrorCode, msg string) ModuleError {
	return ModuleError{ID: NewID(), Module: module, Code: code, Message: msg}
}

// Validate reports whether all required fields are present.
func (e ModuleError) Validate() error {
	if e.Module == "" {
		return errors.New("module error: module is required")
	}
	if e.Message == "" {
		return errors.New("module error: message is required")
	}
	return nil
}

// ModuleMetrics is the typed metrics record handed to the boundary layer.
// Module, Vendor and Metrics are required.
type ModuleMetrics struct {
	ID       string         `json:"id"`
	Module   ModuleType     `json:"module"`
	Vendor   string         `json:"vendor"`
	Metrics  map[string]any `json:"metrics"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// NewModuleMetrics constructs a ModuleMetrics record with a fresh correlation id.
func NewModuleMetrics(module ModuleType, vendor string, metrics map[string]any) ModuleMetrics {
	return ModuleMetrics{ID: NewID(), Module: module, Vendor: vendor, Metrics: metrics}
}

// Validate reports whether all required fields are present.
func (m ModuleMetrics) Validate() error {
	if m.Module == "" {
		return errors.New("module metrics: module is required")
	}
	if m.Vendor == "" {
		return errors.New("module metrics: vendor is required")
	}
	if m.Metrics == nil {
		return errors.New("module metrics: metrics map is required")
	}
	return nil
}

// NewID generates a unique identifier for records and turns.
func NewID() string { return uuid.NewString() }
