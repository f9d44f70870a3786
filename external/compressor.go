// Compression client for the narrative compressor service.
//
// The pipeline treats compression as an opaque collaborator:
//
//	Compress(text, mode) -> {blocks: [{text}]} | error
//
// A nil result or an empty block list is a failure; callers degrade to
// pass-through. Three modes select the system prompt: general narrative,
// location-structure, and combat-log (whose output must carry a strict
// format tag, validated by the combat compressor, not here).
package external

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Mode selects the compression flavor.
type Mode string

const (
	// ModeNarrative compresses arbitrary prose into compact symbolic notation.
	ModeNarrative Mode = "narrative"
	// ModeLocation compresses structured location JSON (doors, traps, NPCs,
	// connectivity) into the same notation.
	ModeLocation Mode = "location"
	// ModeCombat compresses combat rounds into the combat DSL. Output must
	// begin with the combat format tag.
	ModeCombat Mode = "combat"
)

// Block is one unit of compressed output.
type Block struct {
	Text string `json:"text"`
}

// CompressResult is the compressor's response. Blocks[0].Text is the
// compressed representation; an empty list means the call failed.
type CompressResult struct {
	Blocks       []Block `json:"blocks"`
	InputTokens  int     `json:"input_tokens,omitempty"`
	OutputTokens int     `json:"output_tokens,omitempty"`
}

// ClientConfig configures the compression client.
type ClientConfig struct {
	Provider  string        `yaml:"provider"`   // anthropic|openai|gemini|bedrock (empty = detect)
	Endpoint  string        `yaml:"endpoint"`   // API endpoint URL
	APIKey    string        `yaml:"api_key"`    // usually ${DM_COMPRESSOR_API_KEY}
	Model     string        `yaml:"model"`      // model identifier
	MaxTokens int           `yaml:"max_tokens"` // output cap per call
	Timeout   time.Duration `yaml:"timeout"`    // per-call timeout
}

// Client calls the LLM backend with mode-specific prompts.
type Client struct {
	cfg        ClientConfig
	httpClient *http.Client
}

// NewClient creates a compression client. For the bedrock provider a SigV4
// signing HTTP client is constructed up front so credential problems surface
// at startup, not mid-pipeline.
func NewClient(cfg ClientConfig) (*Client, error) {
	c := &Client{cfg: cfg}
	if cfg.Provider == "bedrock" {
		hc, err := NewBedrockHTTPClient()
		if err != nil {
			return nil, fmt.Errorf("failed to create Bedrock HTTP client: %w", err)
		}
		c.httpClient = hc
	}
	return c, nil
}

// Compress sends text to the backend under the given mode's prompt contract.
func (c *Client) Compress(ctx context.Context, text string, mode Mode) (*CompressResult, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("nothing to compress")
	}

	prompt, ok := modePrompts[mode]
	if !ok {
		return nil, fmt.Errorf("unknown compression mode %q", mode)
	}

	log.Debug().
		Str("mode", string(mode)).
		Str("model", c.cfg.Model).
		Int("input_bytes", len(text)).
		Msg("calling compression backend")

	result, err := CallLLM(ctx, CallLLMParams{
		Provider:     c.cfg.Provider,
		Endpoint:     c.cfg.Endpoint,
		APIKey:       c.cfg.APIKey,
		Model:        c.cfg.Model,
		SystemPrompt: prompt,
		UserPrompt:   text,
		MaxTokens:    c.cfg.MaxTokens,
		Timeout:      c.cfg.Timeout,
		HTTPClient:   c.httpClient,
	})
	if err != nil {
		return nil, fmt.Errorf("compression call failed: %w", err)
	}

	content := strings.TrimSpace(result.Content)
	if content == "" {
		return nil, fmt.Errorf("compressor returned empty content")
	}

	return &CompressResult{
		Blocks:       []Block{{Text: content}},
		InputTokens:  result.InputTokens,
		OutputTokens: result.OutputTokens,
	}, nil
}

// CombatTagPrefix is the format tag combat-mode output must begin with. The
// combat compressor rejects output lacking it, because the compact combat DSL
// is consumed by the model, not read as prose.
const CombatTagPrefix = "CMB1|"

// modePrompts are the system prompts per compression flavor. The notation is
// what the DM model was trained to read back; keep the contract lines stable.
var modePrompts = map[Mode]string{
	ModeNarrative: "Compress the following game narrative into compact symbolic notation. " +
		"Preserve every proper noun, NPC identity, location connection, quest state, and unresolved hook. " +
		"Drop prose style, repeated description, and table talk. Output only the compressed notation.",
	ModeLocation: "Compress the following location state JSON into compact symbolic notation. " +
		"Preserve the location identifier, exits and connectivity, doors and their states, traps, " +
		"treasure, and every NPC or monster with current disposition. Output only the compressed notation.",
	ModeCombat: "Compress the following combat transcript into the combat DSL. " +
		"The first line must begin with the tag " + CombatTagPrefix + " followed by round number. " +
		"Preserve every creature's HP, conditions, position, and remaining dice pools. " +
		"Output only the DSL, no commentary.",
}
