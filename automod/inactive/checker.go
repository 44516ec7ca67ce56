// Inactivity heuristic and the periodic sweep that purges long-inactive accounts.
package inactive

import (
	"context"
	"log/slog"

	"github.com/forgeguard/forgeguard/automod/cachestore"
	"github.com/forgeguard/forgeguard/forge"
)

const cacheName = "inactive"

// Checker decides whether an account looks unused: an empty activity feed and, optionally, no
// access tokens and no OAuth2 applications.
type Checker struct {
	Client forge.Client
	// optional; verdicts are memoized per account and check flags
	Cache  cachestore.CacheStore
	Logger *slog.Logger
}

func NewChecker(client forge.Client, cache cachestore.CacheStore, logger *slog.Logger) *Checker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Checker{
		Client: client,
		Cache:  cache,
		Logger: logger.With("component", "inactive"),
	}
}

func cacheKey(username string, checkTokens, checkApps bool) string {
	key := username
	if checkTokens {
		key += "/tokens"
	}
	if checkApps {
		key += "/apps"
	}
	return key
}

// IsInactive reports whether username is inactive, and how many forge requests it took to find
// out. Checks stop at the first sign of activity. Any request error makes the account count as
// active.
func (c *Checker) IsInactive(ctx context.Context, username string, checkTokens, checkApps bool) (bool, int) {
	key := cacheKey(username, checkTokens, checkApps)
	if c.Cache != nil {
		val, ok, err := c.Cache.Get(ctx, cacheName, key)
		if err != nil {
			c.Logger.Warn("inactivity cache read failed", "username", username, "err", err)
		} else if ok {
			return val == "1", 0
		}
	}

	checks := []func(context.Context, string) (bool, error){c.Client.IsFeedEmpty}
	if checkTokens {
		checks = append(checks, c.Client.IsTokensEmpty)
	}
	if checkApps {
		checks = append(checks, c.Client.IsAppsEmpty)
	}

	reqs := 0
	inactive := true
	for _, check := range checks {
		reqs++
		empty, err := check(ctx, username)
		if err != nil {
			c.Logger.Error("inactivity check failed, treating account as active", "username", username, "err", err)
			return false, reqs
		}
		if !empty {
			inactive = false
			break
		}
	}

	if c.Cache != nil {
		val := "0"
		if inactive {
			val = "1"
		}
		if err := c.Cache.Set(ctx, cacheName, key, val); err != nil {
			c.Logger.Warn("inactivity cache write failed", "username", username, "err", err)
		}
	}
	return inactive, reqs
}
