// Package envconfig reads process configuration from environment
// variables. It mirrors the ad-hoc EnvConfig helper used across the
// rest of the pack instead of pulling in a file-based config library:
// every setting this system needs (RPM_BASEURL, GPG_PRIVATE_KEY,
// CLOUDFRONT_DISTRIBUTION_ID, ...) already arrives as an environment
// variable per the event-driven deployment model.
package envconfig

import (
	"fmt"
	"os"
	"strconv"
)

// EnvConfig loads values from the environment, optionally under a prefix.
type EnvConfig struct {
	prefix string
}

// New creates an EnvConfig. prefix may be empty.
func New(prefix string) *EnvConfig {
	return &EnvConfig{prefix: prefix}
}

func (c *EnvConfig) key(name string) string {
	if c.prefix == "" {
		return name
	}
	return c.prefix + name
}

// GetString returns the named variable, or def if unset or empty.
func (c *EnvConfig) GetString(name, def string) string {
	if v := os.Getenv(c.key(name)); v != "" {
		return v
	}
	return def
}

// LookupString returns the named variable and whether it was set and non-empty.
func (c *EnvConfig) LookupString(name string) (string, bool) {
	v := os.Getenv(c.key(name))
	return v, v != ""
}

// MustGetString returns the named variable, or panics if unset or empty.
func (c *EnvConfig) MustGetString(name string) string {
	v, ok := c.LookupString(name)
	if !ok {
		panic(fmt.Sprintf("required environment variable %s not set", c.key(name)))
	}
	return v
}

// GetInt returns the named variable parsed as an int, or def if unset or invalid.
func (c *EnvConfig) GetInt(name string, def int) int {
	v, ok := c.LookupString(name)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// GetBool returns the named variable parsed as a bool, or def if unset or invalid.
func (c *EnvConfig) GetBool(name string, def bool) bool {
	v, ok := c.LookupString(name)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
