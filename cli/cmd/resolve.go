package cmd

import (
	"time"

	"github.com/urfave/cli/v2"

	"github.com/klaki892/chunked-dc/cli/config"
)

// Precedence for every setting: explicit flag, then config file, then the
// flag's default.

func resolveString(c *cli.Context, flag, cfgVal string) string {
	if c.IsSet(flag) || cfgVal == "" {
		return c.String(flag)
	}
	return cfgVal
}

func resolveInt(c *cli.Context, flag string, cfgVal int) int {
	if c.IsSet(flag) || cfgVal == 0 {
		return c.Int(flag)
	}
	return cfgVal
}

func resolveInt64(c *cli.Context, flag string, cfgVal int64) int64 {
	if c.IsSet(flag) || cfgVal == 0 {
		return c.Int64(flag)
	}
	return cfgVal
}

func resolveBool(c *cli.Context, flag string, cfgVal bool) bool {
	if c.IsSet(flag) {
		return c.Bool(flag)
	}
	return cfgVal || c.Bool(flag)
}

func resolveDuration(c *cli.Context, flag string, cfgVal time.Duration) time.Duration {
	if c.IsSet(flag) || cfgVal == 0 {
		return c.Duration(flag)
	}
	return cfgVal
}

// configVal reads a field from a possibly nil config.
func configVal[T any](cfg *config.Config, get func(*config.Config) T) T {
	var zero T
	if cfg == nil {
		return zero
	}
	return get(cfg)
}
