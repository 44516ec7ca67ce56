package engine

import (
	"log/slog"

	"github.com/forgeguard/forgeguard/automod/inactive"
	"github.com/forgeguard/forgeguard/automod/modstore"
	"github.com/forgeguard/forgeguard/automod/rules"
	"github.com/forgeguard/forgeguard/forge"
)

// EngineTestFixture returns an engine over an in-memory store and the given mock forge, with a
// dispatcher attached. Ban rules match usernames starting with "spam_"; sus rules match
// biographies mentioning crypto or casinos.
func EngineTestFixture(client *forge.MockClient) *Engine {
	ban := &rules.Expr{
		Enabled:   true,
		Usernames: []rules.Rule{rules.MustRule("spam username", `^spam_`)},
		Emails:    []rules.Rule{rules.MustRule("", `@spam\.example$`)},
	}
	sus := &rules.Expr{
		Enabled: true,
		Biographies: []rules.Rule{
			rules.MustRule("crypto promotion", `(?i)crypto`, `(?i)profit`),
			rules.MustRule("gambling", `(?i)casino`),
		},
		Websites: []rules.Rule{rules.MustRule("link shortener", `^https?://bit\.ly/`)},
	}
	return &Engine{
		Logger:  slog.Default(),
		Client:  client,
		Store:   modstore.NewMemStore(),
		Checker: inactive.NewChecker(client, nil, nil),
		Ban:     ban,
		Sus:     sus,
		Alerts:  NewDispatcher(DefaultQueueSize),
		Settings: Settings{
			BanAlert:  true,
			BanAction: forge.BanPurge,
		},
	}
}

// FixtureAccount returns a fake account with a biography and website that match no rule in
// the fixture.
func FixtureAccount(id int64, username string) forge.Account {
	a := forge.FakeAccount(id, username)
	a.Biography = "I like writing Go."
	a.Website = "https://example.org/" + username
	a.Email = username + "@example.org"
	return a
}
