package config

import (
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/forgeguard/forgeguard/automod/rules"
	"github.com/forgeguard/forgeguard/forge"
)

type decoder struct {
	errs     []error
	warnings []string
}

func (d *decoder) errorf(format string, args ...any) {
	d.errs = append(d.errs, fmt.Errorf(format, args...))
}

// table is one TOML table, addressed by its dotted path for messages.
type table struct {
	d    *decoder
	path string
	m    map[string]any
}

func root(d *decoder, m map[string]any) table {
	return table{d: d, m: m}
}

func (t table) key(k string) string {
	if t.path == "" {
		return k
	}
	return t.path + "." + k
}

// sub returns a nested table; a missing table is empty.
func (t table) sub(k string) table {
	out := table{d: t.d, path: t.key(k), m: map[string]any{}}
	v, ok := t.m[k]
	if !ok {
		return out
	}
	m, ok := v.(map[string]any)
	if !ok {
		t.d.errorf("`%s` must be a table, found `%v`", t.key(k), v)
		return out
	}
	out.m = m
	return out
}

func (t table) has(k string) bool {
	_, ok := t.m[k]
	return ok
}

func (t table) missing(k, ty string) {
	t.d.errorf("missing key `%s`, it must be a %s", t.key(k), ty)
}

func (t table) wrongType(k, ty string, v any) {
	t.d.errorf("`%s` must be a %s, found `%v`", t.key(k), ty, v)
}

// warnUnknown records a warning for every key not in known.
func (t table) warnUnknown(known ...string) {
	for k := range t.m {
		if !slices.Contains(known, k) {
			t.d.warnings = append(t.d.warnings, fmt.Sprintf("unused key `%s` in the configuration", t.key(k)))
		}
	}
}

func (t table) boolean(k string, def bool) bool {
	v, ok := t.m[k]
	if !ok {
		return def
	}
	b, ok := v.(bool)
	if !ok {
		t.wrongType(k, "boolean", v)
	}
	return b
}

func (t table) integer(k string, def int64) int64 {
	v, ok := t.m[k]
	if !ok {
		return def
	}
	n, ok := v.(int64)
	if !ok {
		t.wrongType(k, "integer", v)
	}
	return n
}

// positive is an integer of at least min.
func (t table) positive(k string, def int64, min int64) int {
	n := t.integer(k, def)
	if _, ok := t.m[k].(int64); (ok || !t.has(k)) && n < min {
		t.d.errorf("`%s` must be at least %d, found `%d`", t.key(k), min, n)
	}
	return int(n)
}

func (t table) float(k string, def float64) float64 {
	v, ok := t.m[k]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case float64:
		return n
	case int64:
		return float64(n)
	}
	t.wrongType(k, "number", v)
	return def
}

func (t table) str(k string, def string) string {
	v, ok := t.m[k]
	if !ok {
		return def
	}
	s, ok := v.(string)
	if !ok {
		t.wrongType(k, "string", v)
	}
	return s
}

func (t table) requiredStr(k string) string {
	if !t.has(k) {
		t.missing(k, "string")
		return ""
	}
	return t.str(k, "")
}

// secret is a required string; "env.NAME" reads the value from the environment.
func (t table) secret(k string) string {
	s := t.requiredStr(k)
	name, ok := strings.CutPrefix(s, "env.")
	if !ok {
		return s
	}
	val := os.Getenv(name)
	if val == "" {
		t.d.errorf("`%s` refers to the environment variable %s, which is not set", t.key(k), name)
	}
	return val
}

func (t table) url(k string) string {
	s := t.requiredStr(k)
	if s != "" && !strings.HasPrefix(s, "http://") && !strings.HasPrefix(s, "https://") {
		t.d.errorf("`%s` must be an http or https URL, found `%s`", t.key(k), s)
	}
	return strings.TrimSuffix(s, "/")
}

func (t table) duration(k string, def time.Duration) time.Duration {
	v, ok := t.m[k]
	if !ok {
		return def
	}
	var d time.Duration
	var err error
	switch x := v.(type) {
	case int64:
		d = time.Duration(x) * time.Second
	case string:
		d, err = ParseInterval(x)
	default:
		err = fmt.Errorf("expected seconds or a suffixed interval, eg 30s, 5m, 2h, 7d")
	}
	if err == nil && d <= 0 {
		err = fmt.Errorf("must be positive")
	}
	if err != nil {
		t.d.errorf("`%s`: %v, found `%v`", t.key(k), err, v)
	}
	return d
}

func (t table) list(k string) []any {
	v, ok := t.m[k]
	if !ok {
		return nil
	}
	l, ok := v.([]any)
	if !ok {
		t.wrongType(k, "array", v)
	}
	return l
}

func (t table) strs(k string) []string {
	var out []string
	for i, v := range t.list(k) {
		s, ok := v.(string)
		if !ok {
			t.d.errorf("`%s[%d]` must be a string, found `%v`", t.key(k), i, v)
			continue
		}
		out = append(out, s)
	}
	return out
}

func (t table) ints(k string) []int64 {
	var out []int64
	for i, v := range t.list(k) {
		n, ok := v.(int64)
		if !ok {
			t.d.errorf("`%s[%d]` must be an integer, found `%v`", t.key(k), i, v)
			continue
		}
		out = append(out, n)
	}
	return out
}

// ParseInterval parses a number followed by s, m, h or d.
func ParseInterval(s string) (time.Duration, error) {
	if len(s) < 2 {
		return 0, fmt.Errorf("expected a suffixed interval, eg 30s, 5m, 2h, 7d")
	}
	n, err := strconv.ParseUint(s[:len(s)-1], 10, 32)
	if err != nil {
		return 0, fmt.Errorf("expected a positive integer before the suffix")
	}
	unit := map[byte]time.Duration{
		's': time.Second,
		'm': time.Minute,
		'h': time.Hour,
		'd': 24 * time.Hour,
	}[s[len(s)-1]]
	if unit == 0 {
		return 0, fmt.Errorf("unknown suffix %q, expected s, m, h or d", s[len(s)-1])
	}
	return time.Duration(n) * unit, nil
}

func (d *decoder) config(t table) *Config {
	t.warnUnknown("dry_run", "hide_user_email", "database", "forgejo", "expressions", "inactive", "lazy_purge", "telegram", "matrix", "slack")
	if !t.has("forgejo") {
		t.missing("forgejo", "table")
	}
	return &Config{
		DryRun:        t.boolean("dry_run", false),
		HideUserEmail: t.boolean("hide_user_email", false),
		Database:      d.database(t.sub("database")),
		Forgejo:       d.forgejo(t.sub("forgejo")),
		Expressions:   d.expressions(t.sub("expressions")),
		Inactive:      d.inactive(t.sub("inactive")),
		LazyPurge:     d.lazyPurge(t.sub("lazy_purge")),
		Telegram:      d.telegram(t.sub("telegram")),
		Matrix:        d.matrix(t.sub("matrix")),
		Slack:         d.slack(t.sub("slack")),
	}
}

func (d *decoder) database(t table) Database {
	t.warnUnknown("path", "redis_url")
	return Database{
		Path:     t.str("path", DefaultDBPath),
		RedisURL: t.str("redis_url", ""),
	}
}

func (d *decoder) forgejo(t table) Forgejo {
	t.warnUnknown("instance_url", "token", "rate_limit")
	f := Forgejo{
		InstanceURL: t.url("instance_url"),
		Token:       t.secret("token"),
		RateLimit:   t.float("rate_limit", 0),
	}
	if f.RateLimit < 0 {
		d.errorf("`%s` must not be negative", t.key("rate_limit"))
	}
	return f
}

func (d *decoder) expressions(t table) Expressions {
	t.warnUnknown("interval", "limit", "req_limit", "req_interval", "ban_action", "ban_alert", "safe_mode",
		"check_existing_users", "check_updated_users", "active_notice", "ban", "sus")
	e := Expressions{
		Interval:           t.duration("interval", 300*time.Second),
		Limit:              t.positive("limit", 100, 1),
		ReqLimit:           t.positive("req_limit", 200, 4),
		ReqInterval:        t.duration("req_interval", 600*time.Second),
		BanAlert:           t.boolean("ban_alert", false),
		SafeMode:           t.boolean("safe_mode", false),
		CheckExistingUsers: t.boolean("check_existing_users", false),
		CheckUpdatedUsers:  t.boolean("check_updated_users", false),
		ActiveNotice:       t.boolean("active_notice", false),
		Ban:                d.expr(t.sub("ban")),
		Sus:                d.expr(t.sub("sus")),
	}
	action, err := forge.ParseBanAction(t.str("ban_action", string(forge.BanPurge)))
	if err != nil {
		d.errorf("`%s`: %v", t.key("ban_action"), err)
	}
	e.BanAction = action
	return e
}

var exprFields = map[string]rules.Field{
	"usernames":   rules.FieldUsername,
	"full_names":  rules.FieldFullName,
	"biographies": rules.FieldBiography,
	"emails":      rules.FieldEmail,
	"websites":    rules.FieldWebsite,
	"locations":   rules.FieldLocation,
}

func (d *decoder) expr(t table) rules.Expr {
	t.warnUnknown("enabled", "usernames", "full_names", "biographies", "emails", "websites", "locations")
	e := rules.Expr{Enabled: t.boolean("enabled", true)}
	for name, field := range exprFields {
		for i, v := range t.list(name) {
			r, ok := d.rule(fmt.Sprintf("%s[%d]", t.key(name), i), v)
			if !ok {
				continue
			}
			if err := e.Append(field, r); err != nil {
				d.errs = append(d.errs, err)
			}
		}
	}
	return e
}

// rule accepts "re", ["re", "re"], or {re = "re" | ["re", ...], reason = "..."}.
func (d *decoder) rule(path string, v any) (rules.Rule, bool) {
	var patterns []string
	reason := ""
	switch x := v.(type) {
	case string, []any:
		p, ok := d.patterns(path, x)
		if !ok {
			return rules.Rule{}, false
		}
		patterns = p
	case map[string]any:
		t := table{d: d, path: path, m: x}
		t.warnUnknown("re", "reason")
		re, ok := x["re"]
		if !ok {
			d.errorf("`%s` must contain a `re` key with a string or an array of strings", path)
			return rules.Rule{}, false
		}
		p, ok := d.patterns(path+".re", re)
		if !ok {
			return rules.Rule{}, false
		}
		patterns = p
		reason = t.str("reason", "")
	default:
		d.errorf("`%s` must be a string, an array of strings or a table with `re` and optional `reason`, found `%v`", path, v)
		return rules.Rule{}, false
	}

	if len(patterns) == 0 {
		d.errorf("`%s` has no patterns", path)
		return rules.Rule{}, false
	}
	r, err := rules.NewRule(reason, patterns...)
	if err != nil {
		d.errorf("`%s`: %v", path, err)
		return rules.Rule{}, false
	}
	return r, true
}

func (d *decoder) patterns(path string, v any) ([]string, bool) {
	switch x := v.(type) {
	case string:
		return []string{x}, true
	case []any:
		out := make([]string, 0, len(x))
		for i, p := range x {
			s, ok := p.(string)
			if !ok {
				d.errorf("`%s[%d]` must be a string, found `%v`", path, i, p)
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	}
	d.errorf("`%s` must be a string or an array of strings, found `%v`", path, v)
	return nil, false
}

func (d *decoder) inactive(t table) Inactive {
	t.warnUnknown("enabled", "exclude", "source_id", "source_id_exclude", "check_tokens", "check_oauth2",
		"days", "req_limit", "req_interval", "interval")
	return Inactive{
		Enabled:         t.boolean("enabled", false),
		Exclude:         t.strs("exclude"),
		SourceID:        t.ints("source_id"),
		SourceIDExclude: t.ints("source_id_exclude"),
		CheckTokens:     t.boolean("check_tokens", true),
		CheckOAuth2:     t.boolean("check_oauth2", true),
		Days:            t.positive("days", 30, 1),
		ReqLimit:        t.positive("req_limit", 200, 4),
		ReqInterval:     t.duration("req_interval", 600*time.Second),
		Interval:        t.duration("interval", 7*24*time.Hour),
	}
}

func (d *decoder) lazyPurge(t table) LazyPurge {
	t.warnUnknown("enabled", "interval", "req_limit", "req_interval", "purge_after")
	return LazyPurge{
		Enabled:     t.boolean("enabled", false),
		Interval:    t.duration("interval", time.Hour),
		ReqLimit:    t.positive("req_limit", 200, 1),
		ReqInterval: t.duration("req_interval", 600*time.Second),
		PurgeAfter:  t.duration("purge_after", 24*time.Hour),
	}
}

// enabled checks the `enabled` key of a front-end block; the other keys are only required
// when it is true.
func enabled(t table) bool {
	if !t.has("enabled") {
		if len(t.m) > 0 {
			t.missing("enabled", "boolean")
		}
		return false
	}
	return t.boolean("enabled", false)
}

func (d *decoder) telegram(t table) Telegram {
	t.warnUnknown("enabled", "token", "chat")
	if !enabled(t) {
		return Telegram{}
	}
	tg := Telegram{Enabled: true, Token: t.secret("token")}
	if !t.has("chat") {
		t.missing("chat", "integer")
	} else {
		tg.Chat = t.integer("chat", 0)
	}
	return tg
}

func (d *decoder) matrix(t table) Matrix {
	t.warnUnknown("enabled", "homeserver", "user_id", "access_token", "room")
	if !enabled(t) {
		return Matrix{}
	}
	return Matrix{
		Enabled:     true,
		Homeserver:  t.url("homeserver"),
		UserID:      t.requiredStr("user_id"),
		AccessToken: t.secret("access_token"),
		Room:        t.requiredStr("room"),
	}
}

func (d *decoder) slack(t table) Slack {
	t.warnUnknown("enabled", "webhook_url")
	if !enabled(t) {
		return Slack{}
	}
	return Slack{Enabled: true, WebhookURL: t.secret("webhook_url")}
}
