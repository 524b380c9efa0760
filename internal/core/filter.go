package core

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/yourname/viewpulse/internal/store"
)

const (
	ReasonAlreadyViewed = "already_viewed"
	ReasonBotDetected   = "bot_detected"
)

// Substrings that mark a user agent as automated traffic.
var botMarkers = []string{
	"bot", "crawl", "spider", "scraper", "curl", "wget", "slurp", "mediapartners",
}

// Fingerprint identifies one viewer of one item: a stable hash over
// content id, client IP and user agent. Approximate by design, it is
// an anti-double-count signal, not an identity.
func Fingerprint(contentID int64, ip, userAgent string) string {
	h := sha256.New()
	fmt.Fprintf(h, "%d\n%s\n%s", contentID, ip, userAgent)
	return hex.EncodeToString(h.Sum(nil))
}

// IsBot reports whether the user agent matches the bot denylist.
func IsBot(userAgent string) bool {
	ua := strings.ToLower(userAgent)
	for _, marker := range botMarkers {
		if strings.Contains(ua, marker) {
			return true
		}
	}
	return false
}

// Filter decides whether an incoming view event counts at all.
type Filter struct {
	store store.Store
}

func NewFilter(s store.Store) *Filter {
	return &Filter{store: s}
}

// ShouldCount returns (false, reason) for duplicate views within the
// dedup TTL and for bot traffic. It never mutates state: the caller
// marks the fingerprint only after the view is accepted, so rejected
// events do not reset the dedup window.
func (f *Filter) ShouldCount(contentID int64, ip, userAgent string) (bool, string, error) {
	seen, err := f.store.SeenFingerprint(Fingerprint(contentID, ip, userAgent))
	if err != nil {
		return false, "", fmt.Errorf("dedup lookup: %w", err)
	}
	if seen {
		return false, ReasonAlreadyViewed, nil
	}
	if IsBot(userAgent) {
		return false, ReasonBotDetected, nil
	}
	return true, "", nil
}

// MarkViewed records the fingerprint so repeat views within ttl are
// suppressed.
func (f *Filter) MarkViewed(contentID int64, ip, userAgent string, ttl time.Duration) error {
	return f.store.MarkFingerprint(Fingerprint(contentID, ip, userAgent), ttl)
}
