package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/randalmurphal/promptarena/budget"
	"github.com/randalmurphal/promptarena/resolver"
	"github.com/randalmurphal/promptarena/source"
)

// KeyError reports a value that could not be converted.
type KeyError struct {
	Key    string
	Value  string
	Source Source
	Err    error
}

func (e *KeyError) Error() string {
	return fmt.Sprintf("config: invalid %s %q (from %s): %v", e.Key, e.Value, e.Source, e.Err)
}

func (e *KeyError) Unwrap() error { return e.Err }

type setter func(o *resolver.Options, v string) error

var optionSetters = map[string]setter{
	KeyConcurrency: func(o *resolver.Options, v string) error {
		return positiveInt(v, &o.Concurrency)
	},
	KeyMaxRetries: func(o *resolver.Options, v string) error {
		n, err := nonNegativeInt(v)
		if err != nil {
			return err
		}
		if n == 0 {
			n = -1 // zero in Options means the default
		}
		o.MaxRetries = n
		return nil
	},
	KeyRetryBaseDelay: func(o *resolver.Options, v string) error {
		return duration(v, &o.RetryBaseDelay)
	},
	KeyPerFetchTimeout: func(o *resolver.Options, v string) error {
		return duration(v, &o.PerFetchTimeout)
	},
	KeyMaxDepth: func(o *resolver.Options, v string) error {
		n, err := nonNegativeInt(v)
		if err != nil {
			return err
		}
		if n == 0 {
			n = -1
		}
		o.MaxDepth = n
		return nil
	},
	KeyMaxFilesPerDirectory: func(o *resolver.Options, v string) error {
		return positiveInt(v, &o.MaxFilesPerDirectory)
	},
	KeyIncludePatterns: func(o *resolver.Options, v string) (err error) {
		o.Include, err = resolver.CompilePatterns(strings.Split(v, ","))
		return err
	},
	KeyExcludePatterns: func(o *resolver.Options, v string) (err error) {
		o.Exclude, err = resolver.CompilePatterns(strings.Split(v, ","))
		return err
	},
	KeyMaxFiles: func(o *resolver.Options, v string) (err error) {
		o.Limits.MaxFiles, err = nonNegativeInt(v)
		return err
	},
	KeyMaxTotalBytes: func(o *resolver.Options, v string) error {
		n, err := humanize.ParseBytes(v)
		if err != nil {
			return err
		}
		o.Limits.MaxTotalBytes = int64(n)
		return nil
	},
	KeyMaxTokens: func(o *resolver.Options, v string) error {
		n, err := strconv.ParseInt(strings.ReplaceAll(v, "_", ""), 10, 64)
		if err != nil {
			return err
		}
		if n < 0 {
			return fmt.Errorf("must not be negative")
		}
		o.Limits.MaxTokens = n
		return nil
	},
	KeyMode: func(o *resolver.Options, v string) (err error) {
		o.Limits.Mode, err = budget.ParseMode(v)
		return err
	},
	KeyWarnRatio: func(o *resolver.Options, v string) error {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return err
		}
		if f <= 0 || f > 1 {
			return fmt.Errorf("must be in (0, 1]")
		}
		o.Limits.WarnRatio = f
		return nil
	},
	KeyBytesPerToken: func(o *resolver.Options, v string) error {
		return positiveInt(v, &o.Limits.BytesPerToken)
	},
	KeyCacheTTL: func(o *resolver.Options, v string) error {
		return duration(v, &o.CacheTTL)
	},
	KeyFailFast: func(o *resolver.Options, v string) (err error) {
		o.FailFast, err = strconv.ParseBool(v)
		return err
	},
	KeyAllowSensitive: func(o *resolver.Options, v string) (err error) {
		o.AllowSensitive, err = strconv.ParseBool(v)
		return err
	},
}

// Options converts the resolved values into resolver options, starting
// from resolver.DefaultOptions. Empty values keep the default. The first
// invalid value is returned as a *KeyError.
func (c *Resolved) Options() (resolver.Options, error) {
	opts := resolver.DefaultOptions()
	for _, key := range Keys {
		set, ok := optionSetters[key]
		if !ok {
			continue
		}
		v := strings.TrimSpace(c.values[key])
		if v == "" {
			continue
		}
		if err := set(&opts, v); err != nil {
			return opts, &KeyError{Key: key, Value: v, Source: c.sources[key], Err: err}
		}
	}
	return opts, nil
}

// Remote returns the settings for source.NewRemote. The token is left
// empty so NewRemote reads it from the environment.
func (c *Resolved) Remote() (source.RemoteConfig, error) {
	rc := source.RemoteConfig{
		Provider: c.values[KeyProvider],
		BaseURL:  c.values[KeyBaseURL],
	}
	if rc.Provider == "" {
		rc.Provider = "github"
	}
	if _, err := source.DetectProvider(rc.Provider); err != nil {
		return rc, &KeyError{Key: KeyProvider, Value: rc.Provider, Source: c.sources[KeyProvider], Err: err}
	}
	if v := strings.TrimSpace(c.values[KeyRateLimit]); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err == nil && f < 0 {
			err = fmt.Errorf("must not be negative")
		}
		if err != nil {
			return rc, &KeyError{Key: KeyRateLimit, Value: v, Source: c.sources[KeyRateLimit], Err: err}
		}
		rc.RateLimit = f
	}
	return rc, nil
}

// Root returns the local root directory, "." when unset.
func (c *Resolved) Root() string {
	if r := c.values[KeyRoot]; r != "" {
		return r
	}
	return "."
}

func positiveInt(v string, dst *int) error {
	n, err := strconv.Atoi(v)
	if err != nil {
		return err
	}
	if n < 1 {
		return fmt.Errorf("must be at least 1")
	}
	*dst = n
	return nil
}

func nonNegativeInt(v string) (int, error) {
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, fmt.Errorf("must not be negative")
	}
	return n, nil
}

func duration(v string, dst *time.Duration) error {
	d, err := time.ParseDuration(v)
	if err != nil {
		return err
	}
	if d <= 0 {
		return fmt.Errorf("must be positive")
	}
	*dst = d
	return nil
}
