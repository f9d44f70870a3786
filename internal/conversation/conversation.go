// Package conversation models the persisted game transcript.
//
// DESIGN: A conversation is an ordered list of {role, content} messages - the
// canonical Dungeon Master game history. Order is turn history and is never
// reordered; the compression pipeline only rewrites content, and only in
// copies. The canonical file on disk is owned by the game loop, not by this
// package's consumers.
package conversation

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Message roles. The game loop writes system prompts, player input arrives as
// user messages, and DM narration comes back as assistant messages.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn entry in the transcript.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Clone returns a deep copy of the conversation. The pipeline always works on
// copies so the caller's slice stays intact for canonical persistence.
func Clone(conv []Message) []Message {
	out := make([]Message, len(conv))
	copy(out, conv)
	return out
}

// Load reads a conversation file (JSON array of {role, content}).
func Load(path string) ([]Message, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read conversation file '%s': %w", path, err)
	}
	return Parse(data)
}

// Parse decodes a conversation from raw JSON bytes.
func Parse(data []byte) ([]Message, error) {
	var conv []Message
	if err := json.Unmarshal(data, &conv); err != nil {
		return nil, fmt.Errorf("failed to parse conversation: %w", err)
	}
	for i, m := range conv {
		switch m.Role {
		case RoleSystem, RoleUser, RoleAssistant:
		default:
			return nil, fmt.Errorf("message %d has unknown role %q", i, m.Role)
		}
	}
	return conv, nil
}

// Save writes a conversation as an indented JSON array. Used only for derived
// (compressed) conversations - never for the canonical history file.
func Save(path string, conv []Message) error {
	data, err := json.MarshalIndent(conv, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize conversation: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write conversation file '%s': %w", path, err)
	}
	return nil
}

// UserMessageIndexes returns the indexes of user-role messages in order.
func UserMessageIndexes(conv []Message) []int {
	var idx []int
	for i, m := range conv {
		if m.Role == RoleUser {
			idx = append(idx, i)
		}
	}
	return idx
}
