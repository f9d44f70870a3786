// Package tokens estimates token counts for savings statistics.
//
// DESIGN: Uses tiktoken (cl100k_base) when the encoding is available, falling
// back to the bytes/4 heuristic the rest of the pipeline already assumes.
// Counts here feed progress payloads and reduction stats only - the byte
// budget in the structural compressor deliberately uses bytes, not tokens.
package tokens

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
	"github.com/rs/zerolog/log"
)

const fallbackBytesPerToken = 4

// Counter counts tokens in text.
type Counter struct {
	once sync.Once
	enc  *tiktoken.Tiktoken
}

// NewCounter creates a counter. Encoding load is deferred to first use so
// construction never fails.
func NewCounter() *Counter {
	return &Counter{}
}

func (c *Counter) encoding() *tiktoken.Tiktoken {
	c.once.Do(func() {
		enc, err := tiktoken.GetEncoding(tiktoken.MODEL_CL100K_BASE)
		if err != nil {
			log.Debug().Err(err).Msg("tiktoken encoding unavailable; using bytes/4 estimate")
			return
		}
		c.enc = enc
	})
	return c.enc
}

// Count returns the token count of s, or a bytes/4 estimate when the
// encoding could not be loaded.
func (c *Counter) Count(s string) int {
	if s == "" {
		return 0
	}
	if enc := c.encoding(); enc != nil {
		return len(enc.Encode(s, nil, nil))
	}
	return (len(s) + fallbackBytesPerToken - 1) / fallbackBytesPerToken
}
