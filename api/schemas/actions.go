// File: api/schemas/actions.go
package schemas

// Planner action intents. An intent names what the control loop should make
// happen; Tool/Args carry a primitive call when the action is a passthrough.
const (
	IntentWait              = "wait"
	IntentEscape            = "escape"
	IntentNavigate          = "navigate"
	IntentMeasure           = "measure"
	IntentMeasureBaseline   = "measure_baseline"
	IntentFitView           = "fit_view"
	IntentZoomIn            = "zoom_in"
	IntentZoomOut           = "zoom_out"
	IntentSetViewFront      = "set_view_front"
	IntentSetViewTop        = "set_view_top"
	IntentSetViewRight      = "set_view_right"
	IntentEdit              = "edit"
	IntentVerify            = "verify"
	IntentRecover           = "recover"
	IntentRequestBetterView = "request_better_view"
)

// Primitive tool names exposed by the tool channel.
const (
	ToolMouseClick    = "mouse_click"
	ToolKeyPress      = "key_press"
	ToolMouseScroll   = "mouse_scroll"
	ToolWait          = "wait"
	ToolCaptureScreen = "capture_screen"
	ToolSaveSnapshot  = "save_snapshot"
	ToolGetScreenInfo = "get_screen_info"
)

// Action is an instruction produced by the planner: a named intent,
// optionally paired with a primitive tool invocation. Actions are ephemeral;
// they are never persisted and appear only in the audit trail.
type Action struct {
	Intent string         `json:"intent"`
	Tool   string         `json:"tool,omitempty"`
	Args   map[string]any `json:"arguments,omitempty"`
	Steps  int            `json:"steps,omitempty"`
}

// WaitAction builds a passive wait for the given number of milliseconds.
func WaitAction(intent string, milliseconds int) Action {
	return Action{
		Intent: intent,
		Tool:   ToolWait,
		Args:   map[string]any{"milliseconds": milliseconds},
	}
}

// KeyPressAction builds a key_press action for the given key chord.
func KeyPressAction(intent string, keys ...string) Action {
	return Action{
		Intent: intent,
		Tool:   ToolKeyPress,
		Args:   map[string]any{"keys": keys},
	}
}
