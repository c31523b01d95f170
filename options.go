package browserpilot

// VisionMode selects how screenshots participate in planning.
type VisionMode string

const (
	// VisionOff plans from the text DOM only.
	VisionOff VisionMode = "off"
	// VisionOn attaches a screenshot to every planning call.
	VisionOn VisionMode = "on"
	// VisionFallback plans from text and verifies visually on completion.
	VisionFallback VisionMode = "fallback"
)

// ActOptions tune one Act call. The zero value is usable.
type ActOptions struct {
	// Model overrides the configured default model.
	Model string
	// Variables are substituted into step arguments as %name% placeholders.
	// Values never appear in prompts or logs.
	Variables map[string]string
	Vision    VisionMode
	// Verify requests an explicit completion check before success is
	// reported.
	Verify bool
}

// ObserveOptions tune one Observe call.
type ObserveOptions struct {
	// Instruction narrows what to look for; empty means general
	// actionable-element discovery.
	Instruction string
	Model       string
	Vision      VisionMode
}

// ExtractOptions tune one Extract call.
type ExtractOptions struct {
	// Schema describes the wanted shape: a struct (reflected to JSON
	// schema) or a map[string]any JSON schema used as-is.
	Schema any
	Model  string
}

// ObserveResult is one discovered element.
type ObserveResult struct {
	Selector    string `json:"selector"`
	Description string `json:"description"`
}

// ActResult is the typed outcome of one Act call.
type ActResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Action  string `json:"action"`
}
