package host

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"

	"github.com/0x6d61/webtrufflehog/internal/protocol"
)

// cache remembers which URLs were already handled and what each distinct
// body produced, for the lifetime of the host process.
type cache struct {
	mu       sync.Mutex
	urls     map[string]struct{}
	findings map[string][]protocol.Finding
}

func newCache() *cache {
	return &cache{
		urls:     make(map[string]struct{}),
		findings: make(map[string][]protocol.Finding),
	}
}

// claimURL marks url as handled. It returns false if it already was.
func (c *cache) claimURL(url string) bool {
	key := hashOf([]byte(url))
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.urls[key]; ok {
		return false
	}
	c.urls[key] = struct{}{}
	return true
}

// releaseURL lets url be claimed again, after a failed attempt.
func (c *cache) releaseURL(url string) {
	key := hashOf([]byte(url))
	c.mu.Lock()
	delete(c.urls, key)
	c.mu.Unlock()
}

func (c *cache) lookup(contentHash string) ([]protocol.Finding, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	f, ok := c.findings[contentHash]
	return f, ok
}

func (c *cache) remember(contentHash string, f []protocol.Finding) {
	c.mu.Lock()
	c.findings[contentHash] = f
	c.mu.Unlock()
}

func hashOf(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
