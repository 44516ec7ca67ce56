package slack

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/forgeguard/forgeguard/automod/engine"
	"github.com/forgeguard/forgeguard/automod/rules"
	"github.com/forgeguard/forgeguard/bots"
	"github.com/forgeguard/forgeguard/forge"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendAlert(t *testing.T) {
	assert := assert.New(t)

	var got webhookBody
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(http.MethodPost, r.Method)
		assert.Equal("application/json", r.Header.Get("Content-Type"))
		assert.NoError(json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	n := New(srv.URL, nil, bots.Renderer{BanAction: forge.BanSuspend}, srv.Client(), slog.Default())
	a := &engine.Alert{
		Kind:    engine.AlertBanNotify,
		Account: forge.FakeAccount(42, "spam_42"),
		Match:   rules.Match{Field: rules.FieldUsername, Rule: rules.MustRule("spam username", `^spam_`)},
	}
	require.NoError(t, n.SendAlert(context.Background(), a))
	assert.Contains(got.Text, "⚠️ Account suspended ⚠️")
	assert.Contains(got.Text, "Username: spam_42")
	assert.Contains(got.Text, "Reason: spam username")
}

func TestSendAlertRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte("invalid_token"))
	}))
	defer srv.Close()

	n := New(srv.URL, nil, bots.Renderer{}, srv.Client(), slog.Default())
	err := n.SendAlert(context.Background(), &engine.Alert{Kind: engine.AlertSus, Account: forge.FakeAccount(1, "a")})
	assert.ErrorContains(t, err, "status=403")
}

func TestRunDeliversQueuedAlerts(t *testing.T) {
	assert := assert.New(t)

	got := make(chan webhookBody, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var b webhookBody
		json.NewDecoder(r.Body).Decode(&b)
		got <- b
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	eng := engine.EngineTestFixture(forge.NewMockClient())
	n := New(srv.URL, eng, bots.Renderer{BanAction: forge.BanPurge}, srv.Client(), slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- n.Run(ctx) }()

	acct := forge.FakeAccount(7, "carol")
	require.NoError(t, eng.Alerts.Send(ctx, engine.Alert{Kind: engine.AlertSus, Account: acct}))
	b := <-got
	assert.Contains(b.Text, "Suspicious account detected")

	cancel()
	assert.ErrorIs(<-done, context.Canceled)
}
