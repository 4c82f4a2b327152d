package pricing

import "strings"

// DetectProvider determines the provider from a model name. Pattern matching
// is a fallback for models absent from the catalog; catalog entries carry an
// explicit provider field.
func DetectProvider(model string) string {
	if model == "" {
		return "unknown"
	}
	ml := strings.ToLower(model)

	// Groq before llama: groq-hosted llama variants identify as groq.
	if strings.Contains(ml, "groq") {
		return "groq"
	}

	if strings.Contains(ml, "gpt-") || strings.Contains(ml, "davinci") ||
		strings.Contains(ml, "turbo") || strings.Contains(ml, "o1-") {
		return "openai"
	}
	if strings.Contains(ml, "claude") || strings.Contains(ml, "opus") ||
		strings.Contains(ml, "sonnet") || strings.Contains(ml, "haiku") {
		return "anthropic"
	}
	if strings.Contains(ml, "gemini") || strings.Contains(ml, "palm") {
		return "google"
	}
	if strings.Contains(ml, "deepseek") {
		return "deepseek"
	}
	if strings.Contains(ml, "qwen") {
		return "qwen"
	}
	if strings.Contains(ml, "grok") {
		return "xai"
	}
	if strings.Contains(ml, "mistral") || strings.Contains(ml, "mixtral") ||
		strings.Contains(ml, "codestral") {
		return "mistral"
	}
	// Local deployment convention for llama-family models.
	if strings.Contains(ml, "llama") {
		return "ollama"
	}
	if strings.Contains(ml, "command") || strings.Contains(ml, "cohere") {
		return "cohere"
	}
	return "unknown"
}
