// Package api defines the JSON payloads of the diagnostic HTTP surface.
package api

import (
	"github.com/skobkin/hwserial/internal/sampler"
)

// HelloMessage is the initial payload sent on WebSocket connection.
type HelloMessage struct {
	Type       string          `json:"type"`
	IntervalMS int             `json:"interval_ms"`
	SerialPort string          `json:"serial_port"`
	GPUBackend string          `json:"gpu_backend"`
	Features   map[string]bool `json:"features"`
}

// NewHelloMessage constructs a hello payload.
func NewHelloMessage(intervalMS int, serialPort, gpuBackend string, features map[string]bool) HelloMessage {
	return HelloMessage{
		Type:       "hello",
		IntervalMS: intervalMS,
		SerialPort: serialPort,
		GPUBackend: gpuBackend,
		Features:   features,
	}
}

// SampleMessage wraps a tick together with the line written to the device.
type SampleMessage struct {
	Type  string `json:"type"`
	Frame string `json:"frame"`
	sampler.Sample
}

// NewSampleMessage constructs a sample payload.
func NewSampleMessage(sample sampler.Sample) SampleMessage {
	return SampleMessage{
		Type:   "sample",
		Frame:  sampler.Format(sample),
		Sample: sample,
	}
}

// ErrorMessage communicates an error condition to the client.
type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// ClientMessage is a generic envelope used for decoding inbound client messages.
type ClientMessage struct {
	Type string `json:"type"`
}

// PongMessage is the response to a ping.
type PongMessage struct {
	Type string `json:"type"`
}
