package captcha

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"clientdesk.org/internal/security"
)

const defaultReplaySize = 4096

// ReplayGuard rejects tokens that were already accepted once. Only a digest of each token
// is retained.
type ReplayGuard struct {
	next security.CaptchaVerifier
	used *lru.Cache[string, struct{}]
}

// NewReplayGuard wraps next, remembering up to size consumed tokens.
func NewReplayGuard(next security.CaptchaVerifier, size int) (*ReplayGuard, error) {
	if next == nil {
		return nil, fmt.Errorf("captcha: replay guard needs a verifier")
	}
	if size <= 0 {
		size = defaultReplaySize
	}
	cache, err := lru.New[string, struct{}](size)
	if err != nil {
		return nil, fmt.Errorf("captcha: replay cache: %w", err)
	}
	return &ReplayGuard{next: next, used: cache}, nil
}

func (g *ReplayGuard) Verify(ctx context.Context, token string, action security.SecurityType) (bool, error) {
	key := digest(token)
	if g.used.Contains(key) {
		return false, nil
	}
	ok, err := g.next.Verify(ctx, token, action)
	if err != nil || !ok {
		return ok, err
	}
	if seen, _ := g.used.ContainsOrAdd(key, struct{}{}); seen {
		return false, nil
	}
	return true, nil
}

func digest(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
