package rules

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/forgeguard/forgeguard/forge"
)

// Field is an account profile field that rules can be written against.
type Field string

const (
	FieldUsername  Field = "username"
	FieldFullName  Field = "full_name"
	FieldBiography Field = "biography"
	FieldEmail     Field = "email"
	FieldWebsite   Field = "website"
	FieldLocation  Field = "location"
)

// Fields in evaluation priority order. The first field with a matching rule wins.
var Fields = []Field{FieldUsername, FieldFullName, FieldBiography, FieldEmail, FieldWebsite, FieldLocation}

// Rule is a list of regular expressions which must all match the same field value, with an
// optional human readable reason.
type Rule struct {
	Patterns []*regexp.Regexp
	Reason   string
}

// NewRule compiles the patterns into a rule.
func NewRule(reason string, patterns ...string) (Rule, error) {
	if len(patterns) == 0 {
		return Rule{}, fmt.Errorf("rule needs at least one regular expression")
	}
	r := Rule{Reason: reason}
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return Rule{}, fmt.Errorf("invalid regular expression %q: %w", p, err)
		}
		r.Patterns = append(r.Patterns, re)
	}
	return r, nil
}

func MustRule(reason string, patterns ...string) Rule {
	r, err := NewRule(reason, patterns...)
	if err != nil {
		panic(err)
	}
	return r
}

// a rule without patterns never matches
func (r Rule) matches(val string) bool {
	if len(r.Patterns) == 0 {
		return false
	}
	for _, re := range r.Patterns {
		if !re.MatchString(val) {
			return false
		}
	}
	return true
}

func (r Rule) String() string {
	parts := make([]string, 0, len(r.Patterns)+1)
	for _, re := range r.Patterns {
		parts = append(parts, re.String())
	}
	s := strings.Join(parts, " ")
	if r.Reason != "" {
		s += " (" + r.Reason + ")"
	}
	return s
}

// Expr is a rule set: per-field ordered rule lists, plus an enabled flag.
type Expr struct {
	Enabled     bool
	Usernames   []Rule
	FullNames   []Rule
	Biographies []Rule
	Emails      []Rule
	Websites    []Rule
	Locations   []Rule
}

func (e *Expr) Rules(f Field) []Rule {
	switch f {
	case FieldUsername:
		return e.Usernames
	case FieldFullName:
		return e.FullNames
	case FieldBiography:
		return e.Biographies
	case FieldEmail:
		return e.Emails
	case FieldWebsite:
		return e.Websites
	case FieldLocation:
		return e.Locations
	}
	return nil
}

// Append adds a rule to the list for the given field.
func (e *Expr) Append(f Field, r Rule) error {
	switch f {
	case FieldUsername:
		e.Usernames = append(e.Usernames, r)
	case FieldFullName:
		e.FullNames = append(e.FullNames, r)
	case FieldBiography:
		e.Biographies = append(e.Biographies, r)
	case FieldEmail:
		e.Emails = append(e.Emails, r)
	case FieldWebsite:
		e.Websites = append(e.Websites, r)
	case FieldLocation:
		e.Locations = append(e.Locations, r)
	default:
		return fmt.Errorf("unknown rule field %q", f)
	}
	return nil
}

// Len is the total number of rules across all fields.
func (e *Expr) Len() int {
	n := 0
	for _, f := range Fields {
		n += len(e.Rules(f))
	}
	return n
}

// Match is the rule which matched an account, and where.
type Match struct {
	Rule  Rule
	Field Field
}

func (m *Match) Reason() string {
	return m.Rule.Reason
}

func (m *Match) String() string {
	return fmt.Sprintf("%s: %s", m.Field, m.Rule)
}

// Evaluate returns the first matching rule of the expression for the account, or nil. Disabled
// expressions never match.
//
// This has no side effects; the same (expr, account) pair always gives the same result.
func Evaluate(e *Expr, acct *forge.Account) *Match {
	if e == nil || !e.Enabled {
		return nil
	}
	for _, f := range Fields {
		rules := e.Rules(f)
		if len(rules) == 0 {
			continue
		}
		val := normalize(fieldValue(acct, f))
		for _, r := range rules {
			if r.matches(val) {
				return &Match{Rule: r, Field: f}
			}
		}
	}
	return nil
}

func fieldValue(acct *forge.Account, f Field) string {
	switch f {
	case FieldUsername:
		return acct.Username
	case FieldFullName:
		return acct.FullName
	case FieldBiography:
		return acct.Biography
	case FieldEmail:
		return acct.Email
	case FieldWebsite:
		return acct.Website
	case FieldLocation:
		return acct.Location
	}
	return ""
}

// biographies are commonly multi-line, which trips up whole-value patterns
func normalize(val string) string {
	if !strings.ContainsAny(val, "\r\n") {
		return val
	}
	val = strings.ReplaceAll(val, "\r\n", "\n")
	return strings.Join(strings.Split(val, "\n"), " ")
}
