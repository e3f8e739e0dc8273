package message

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestModuleError_Validate(t *testing.T) {
	err := NewModuleError(ModuleTTS, CodeNonFatalError, "synthesis interrupted")
	require.NoError(t, err.Validate())
	assert.NotEmpty(t, err.ID)

	assert.Error(t, ModuleError{Code: CodeFatalError, Message: "boom"}.Validate())
	assert.Error(t, ModuleError{Module: ModuleASR, Code: CodeFatalError}.Validate())
}

func TestModuleError_VendorPassthrough(t *testing.T) {
	me := NewModuleError(ModuleASR, CodeFatalError, "connection lost")
	me.VendorInfo = &VendorInfo{Vendor: "acme", Code: "E42", Message: "socket reset"}

	require.NoError(t, me.Validate())
	assert.Equal(t, "acme", me.VendorInfo.Vendor)
}

func TestModuleMetrics_Validate(t *testing.T) {
	m := NewModuleMetrics(ModuleASR, "acme", map[string]any{MetricASRTTFW: 120})
	require.NoError(t, m.Validate())

	assert.Error(t, ModuleMetrics{Vendor: "acme", Metrics: map[string]any{}}.Validate())
	assert.Error(t, ModuleMetrics{Module: ModuleASR, Metrics: map[string]any{}}.Validate())
	assert.Error(t, ModuleMetrics{Module: ModuleASR, Vendor: "acme"}.Validate())
}

func TestErrorCodes(t *testing.T) {
	assert.Equal(t, ErrorCode(0), CodeOK)
	assert.Equal(t, ErrorCode(-1000), CodeFatalError)
	assert.Equal(t, ErrorCode(1000), CodeNonFatalError)
}

func TestAsVendorError(t *testing.T) {
	ve := &VendorError{Info: VendorInfo{Vendor: "acme", Code: "E7", Message: "quota"}}
	wrapped := fmt.Errorf("request failed: %w", ve)

	got, ok := AsVendorError(wrapped)
	require.True(t, ok)
	assert.Equal(t, "acme", got.Info.Vendor)

	_, ok = AsVendorError(errors.New("plain"))
	assert.False(t, ok)
}

func TestWireShapes_Validate(t *testing.T) {
	assert.Error(t, TTSTextInput{Text: "hi"}.Validate())
	assert.NoError(t, TTSTextInput{RequestID: "r1", Text: "hi"}.Validate())

	assert.Error(t, TTSTextResult{RequestID: "r1"}.Validate())
	assert.NoError(t, TTSTextResult{RequestID: "r1", Words: []TTSWord{}}.Validate())

	assert.Error(t, ASRResult{Text: "hello", Language: "en-US"}.Validate())
	assert.Error(t, ASRResult{ID: NewID(), Language: "en-US"}.Validate())
	assert.Error(t, ASRResult{ID: NewID(), Text: "hello"}.Validate())
	assert.NoError(t, ASRResult{ID: NewID(), Text: "hello", Language: "en-US"}.Validate())
}
