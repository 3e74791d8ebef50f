package types

// ChatRequest is the payload for POST /v1/chat.
type ChatRequest struct {
	// User message to answer.
	Message string `json:"message"`
}

// VisionRequest is the payload for POST /v1/vision.
type VisionRequest struct {
	// Instruction describing what to analyze in the image.
	Prompt string `json:"prompt"`
	// Base64-encoded image bytes.
	ImageBase64 string `json:"image_base64"`
}

// ChainRequest is the payload for POST /v1/chain.
type ChainRequest struct {
	// Ordered agent prompts; each step sees the previous step's output.
	Steps []string `json:"steps"`
}

// ExtractRequest is the payload for POST /v1/extract.
type ExtractRequest struct {
	// Raw text to extract structured facts from.
	Text string `json:"text"`
}

// FeatureResponse is the common response for the feature endpoints.
type FeatureResponse struct {
	Content string `json:"content"`
	// True when the local CLI path produced the answer, false when the
	// remote API fallback did.
	ViaCLI bool `json:"via_cli"`
}

// ChainResponse is returned by POST /v1/chain.
type ChainResponse struct {
	// Per-step outputs, in execution order.
	Steps []FeatureResponse `json:"steps"`
	// Output of the final step.
	Content string `json:"content"`
}
