package models

// Output ports shared across node kinds.
const (
	PortDefault = "default"
	PortItem    = "item"
	PortDone    = "done"
	PortTrue    = "true"
	PortFalse   = "false"
)

// NodeOutput is the result of executing one workflow node. Executors never
// fail across the execution boundary: errors are carried in Error/ErrorCode
// with OK=false.
//
// Invariant: when OK is false, Text and Data must not contain the failing
// call's raw response body.
type NodeOutput struct {
	OK          bool           `json:"ok"`
	Text        string         `json:"text,omitempty"`
	Data        map[string]any `json:"data,omitempty"`
	Items       []any          `json:"items,omitempty"`
	Error       string         `json:"error,omitempty"`
	ErrorCode   string         `json:"error_code,omitempty"`
	Port        string         `json:"port,omitempty"`
	ArtifactRef string         `json:"artifact_ref,omitempty"`
}

// FailedOutput builds a failure output with no content fields populated.
func FailedOutput(errorCode, message string) *NodeOutput {
	return &NodeOutput{
		OK:        false,
		Error:     message,
		ErrorCode: errorCode,
	}
}
