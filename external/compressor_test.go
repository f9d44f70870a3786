package external

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func anthropicStub(t *testing.T, reply string, gotSystem *string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req AnthropicRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if gotSystem != nil {
			*gotSystem = req.System
		}

		resp := AnthropicResponse{}
		resp.Content = append(resp.Content, struct {
			Type string `json:"type"`
			Text string `json:"text"`
		}{Type: "text", Text: reply})
		json.NewEncoder(w).Encode(resp)
	}))
}

func TestClientCompress(t *testing.T) {
	var gotSystem string
	srv := anthropicStub(t, "  compact form  ", &gotSystem)
	defer srv.Close()

	client, err := NewClient(ClientConfig{
		Provider: "anthropic",
		Endpoint: srv.URL,
		APIKey:   "k",
		Model:    "m",
	})
	require.NoError(t, err)

	result, err := client.Compress(context.Background(), "a long narrative", ModeNarrative)
	require.NoError(t, err)

	require.Len(t, result.Blocks, 1)
	assert.Equal(t, "compact form", result.Blocks[0].Text, "output is trimmed")
	assert.Equal(t, modePrompts[ModeNarrative], gotSystem)
}

func TestClientCompressModePrompts(t *testing.T) {
	var gotSystem string
	srv := anthropicStub(t, CombatTagPrefix+"r1|ok", &gotSystem)
	defer srv.Close()

	client, err := NewClient(ClientConfig{Provider: "anthropic", Endpoint: srv.URL, APIKey: "k", Model: "m"})
	require.NoError(t, err)

	_, err = client.Compress(context.Background(), "round one", ModeCombat)
	require.NoError(t, err)
	assert.Equal(t, modePrompts[ModeCombat], gotSystem)
	assert.Contains(t, gotSystem, CombatTagPrefix)
}

func TestClientCompressRejectsBadInput(t *testing.T) {
	client, err := NewClient(ClientConfig{Provider: "anthropic", Endpoint: "http://unused", APIKey: "k", Model: "m"})
	require.NoError(t, err)

	_, err = client.Compress(context.Background(), "   ", ModeNarrative)
	assert.Error(t, err, "blank input")

	_, err = client.Compress(context.Background(), "text", Mode("prose"))
	assert.Error(t, err, "unknown mode")
}

func TestClientCompressEmptyBackendOutput(t *testing.T) {
	srv := anthropicStub(t, "   ", nil)
	defer srv.Close()

	client, err := NewClient(ClientConfig{Provider: "anthropic", Endpoint: srv.URL, APIKey: "k", Model: "m"})
	require.NoError(t, err)

	_, err = client.Compress(context.Background(), "text", ModeNarrative)
	assert.Error(t, err)
}
