package config

import (
	"errors"
	"fmt"
)

func (c *Config) validate() error {
	var errs []error
	enabled := 0
	for _, on := range []bool{c.Telegram.Enabled, c.Matrix.Enabled, c.Slack.Enabled} {
		if on {
			enabled++
		}
	}
	if enabled > 1 {
		errs = append(errs, errors.New("only one of `telegram`, `matrix` and `slack` can be enabled"))
	}

	if c.Expressions.SafeMode {
		if !c.Expressions.BanAction.IsPurge() {
			errs = append(errs, errors.New("`expressions.safe_mode` requires `expressions.ban_action` to be \"purge\""))
		}
		if !c.Interactive() {
			errs = append(errs, errors.New("`expressions.safe_mode` requires the telegram or matrix bot to be enabled"))
		}
	}
	if c.LazyPurge.Enabled {
		if !c.Expressions.BanAction.IsPurge() {
			errs = append(errs, errors.New("`lazy_purge` requires `expressions.ban_action` to be \"purge\""))
		}
		if !c.Interactive() {
			errs = append(errs, errors.New("`lazy_purge` requires the telegram or matrix bot to be enabled"))
		}
	}
	return errors.Join(errs...)
}

func (c *Config) warnings() []string {
	var out []string
	if c.Expressions.Sus.Enabled && c.Expressions.Sus.Len() > 0 && c.FrontEnd() == "" {
		out = append(out, "sus expressions are configured but no chat front-end is enabled, suspicious accounts will not be reported")
	}
	if c.Expressions.Ban.Enabled && c.Expressions.Ban.Len() == 0 && c.Expressions.Sus.Len() == 0 {
		out = append(out, "no ban or sus expressions are configured")
	}
	if c.Inactive.Enabled && c.Inactive.ReqInterval > c.Inactive.Interval {
		out = append(out, fmt.Sprintf("`inactive.req_interval` (%s) is longer than `inactive.interval` (%s), sweeps may not finish before the next starts", c.Inactive.ReqInterval, c.Inactive.Interval))
	}
	if c.DryRun {
		out = append(out, "dry run is enabled, no account will be banned")
	}
	return out
}
