// File: api/schemas/interfaces.go
package schemas

import "context"

// Vision focus hints. A focus biases extraction toward one capture set.
const (
	FocusMeasurePanel = "measure_panel"
	FocusViewcube     = "viewcube"
)

// ObserveRequest describes one perception request: the goal text, an
// optional focus hint, the captured images to embed, and an optional path
// where the raw model content should be persisted for offline debugging.
type ObserveRequest struct {
	Goal       string
	Focus      string
	ImagePaths []string
	RawPath    string
}

// VisionClient turns captured images into a normalized, schema-conforming
// observation. Implementations own their retry policy; a returned error
// means the perception channel itself failed, not that the model's output
// was malformed (malformed output is degraded, never rejected).
type VisionClient interface {
	Observe(ctx context.Context, req ObserveRequest) (*Observation, error)
}

// ToolClient is the narrow vocabulary of primitive input/capture operations
// the control loop is allowed to invoke. Each call is a single synchronous
// request/response exchange over the tool channel.
type ToolClient interface {
	// Initialize performs the channel handshake. Must be called once before
	// any Call.
	Initialize(ctx context.Context) error
	// Call invokes a named tool with the given arguments and returns the
	// decoded result payload.
	Call(ctx context.Context, name string, args map[string]any) (map[string]any, error)
	// Close tears down the underlying connection or server process.
	Close() error
}
