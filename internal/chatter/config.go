package chatter

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// VariantConfig is the per-variant YAML document controlling one chatter.
type VariantConfig struct {
	// Activate gates the variant. An inactive variant still records
	// incoming messages but always answers with DefaultReply.
	Activate bool `yaml:"activate"`

	// Model is the chat completion model name.
	Model string `yaml:"model"`

	// DefaultReply is sent when the variant is inactive, when inference
	// yields nothing usable, or as the reminder acknowledgement.
	DefaultReply string `yaml:"default_reply"`

	// MessageCacheLen bounds the short-term history per conversation.
	MessageCacheLen int `yaml:"message_cache_len"`

	// PromptVersion selects the active entry in Prompts.
	PromptVersion string `yaml:"prompt_version"`

	// Prompts holds system prompts by version.
	Prompts map[string]string `yaml:"prompts"`

	// CustomSystemPrompt overrides Prompts entirely when set.
	CustomSystemPrompt string `yaml:"custom_system_prompt"`

	// Temperature is passed through to the completion request.
	Temperature float32 `yaml:"temperature"`

	// MaxTokens caps the completion length; zero means provider default.
	MaxTokens int `yaml:"max_tokens"`
}

// LoadVariantConfig reads a variant's YAML document.
func LoadVariantConfig(path string) (*VariantConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read variant config: %w", err)
	}

	var cfg VariantConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse variant config: %w", err)
	}
	return &cfg, nil
}

var promptVarPattern = regexp.MustCompile(`\$\{(\w+)\}`)

// SystemPrompt returns the active system prompt with ${name} placeholders
// substituted from vars. Unknown placeholders are left as-is.
func (c *VariantConfig) SystemPrompt(vars map[string]string) string {
	prompt := c.CustomSystemPrompt
	if prompt == "" {
		prompt = c.Prompts[c.PromptVersion]
	}
	if prompt == "" {
		return ""
	}

	return promptVarPattern.ReplaceAllStringFunc(prompt, func(match string) string {
		name := promptVarPattern.FindStringSubmatch(match)[1]
		if value, ok := vars[name]; ok {
			return value
		}
		return match
	})
}
