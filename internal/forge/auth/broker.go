// Package auth mints short-lived GitHub App installation tokens and caches
// them per installation. When App credentials are absent it falls back to a
// long-lived personal token.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/bradleyfalzon/ghinstallation/v2"
	gh "github.com/google/go-github/v82/github"
	"golang.org/x/sync/singleflight"
)

// ErrAuthUnconfigured is returned when neither App credentials nor a fallback
// token are available.
var ErrAuthUnconfigured = errors.New("github credentials not configured: set app id + private key, or a fallback token")

// refreshMargin is how close to expiry a cached token may get before it is
// re-minted. GitHub installation tokens live one hour, so a token handed out
// here is always valid for at least 55 minutes.
const refreshMargin = 5 * time.Minute

type cachedToken struct {
	token     string
	expiresAt time.Time
}

// Broker mints installation tokens from App credentials and caches them by
// installation id. Safe for concurrent use; refreshes are single-flight per
// installation.
type Broker struct {
	appsTransport *ghinstallation.AppsTransport
	appClient     *gh.Client
	fallbackToken string

	mu    sync.Mutex
	cache map[int64]cachedToken
	group singleflight.Group

	now func() time.Time // overridable in tests
}

// NewBroker builds a Broker. privateKey is PEM text, or a filesystem path when
// it does not contain a PEM header. Either of (appID, privateKey) and
// fallbackToken may be empty, but not both.
func NewBroker(appID int64, privateKey, fallbackToken string) (*Broker, error) {
	b := &Broker{
		fallbackToken: fallbackToken,
		cache:         make(map[int64]cachedToken),
		now:           time.Now,
	}

	if appID != 0 && privateKey != "" {
		keyBytes, err := resolveKey(privateKey)
		if err != nil {
			return nil, fmt.Errorf("reading app private key: %w", err)
		}
		tr, err := ghinstallation.NewAppsTransport(http.DefaultTransport, appID, keyBytes)
		if err != nil {
			return nil, fmt.Errorf("building app transport: %w", err)
		}
		b.appsTransport = tr
		b.appClient = gh.NewClient(&http.Client{Transport: tr, Timeout: 30 * time.Second})
	}

	if b.appsTransport == nil && b.fallbackToken == "" {
		return nil, ErrAuthUnconfigured
	}
	return b, nil
}

// resolveKey returns PEM bytes from inline text or from a file path.
func resolveKey(key string) ([]byte, error) {
	if strings.Contains(key, "-----BEGIN") {
		return []byte(key), nil
	}
	return os.ReadFile(key)
}

// AppClient returns a client authenticated as the App itself (JWT), or nil
// when App credentials are not configured. Used for installation discovery.
func (b *Broker) AppClient() *gh.Client {
	return b.appClient
}

// Token returns a bearer token for the given installation. An installationID
// of zero, or a broker without App credentials, yields the fallback token.
func (b *Broker) Token(ctx context.Context, installationID int64) (string, error) {
	if b.appsTransport == nil || installationID == 0 {
		if b.fallbackToken == "" {
			return "", ErrAuthUnconfigured
		}
		return b.fallbackToken, nil
	}

	b.mu.Lock()
	if tok, ok := b.cache[installationID]; ok && b.now().Before(tok.expiresAt.Add(-refreshMargin)) {
		b.mu.Unlock()
		return tok.token, nil
	}
	b.mu.Unlock()

	// Single-flight the mint so a stampede of calls refreshes once.
	v, err, _ := b.group.Do(fmt.Sprintf("inst-%d", installationID), func() (any, error) {
		return b.mint(ctx, installationID)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (b *Broker) mint(ctx context.Context, installationID int64) (string, error) {
	// Re-check under the lock: a racing caller may have refreshed already.
	b.mu.Lock()
	if tok, ok := b.cache[installationID]; ok && b.now().Before(tok.expiresAt.Add(-refreshMargin)) {
		b.mu.Unlock()
		return tok.token, nil
	}
	b.mu.Unlock()

	itok, _, err := b.appClient.Apps.CreateInstallationToken(ctx, installationID, nil)
	if err != nil {
		return "", fmt.Errorf("minting installation token for %d: %w", installationID, err)
	}

	token := itok.GetToken()
	expires := itok.GetExpiresAt().Time
	if expires.IsZero() {
		expires = b.now().Add(time.Hour)
	}

	b.mu.Lock()
	b.cache[installationID] = cachedToken{token: token, expiresAt: expires}
	b.mu.Unlock()

	slog.Debug("minted installation token", "installation", installationID, "expires", expires)
	return token, nil
}

// Invalidate drops a cached token, forcing a re-mint on next use.
func (b *Broker) Invalidate(installationID int64) {
	b.mu.Lock()
	delete(b.cache, installationID)
	b.mu.Unlock()
}
