package config

import (
	"strconv"

	"github.com/dustin/go-humanize"

	"github.com/randalmurphal/promptarena/budget"
	"github.com/randalmurphal/promptarena/cache"
	"github.com/randalmurphal/promptarena/resolver"
)

// Configuration keys.
const (
	KeyRoot                 = "root"
	KeyProvider             = "provider"
	KeyBaseURL              = "base_url"
	KeyRateLimit            = "rate_limit"
	KeyConcurrency          = "concurrency"
	KeyMaxRetries           = "max_retries"
	KeyRetryBaseDelay       = "retry_base_delay"
	KeyPerFetchTimeout      = "per_fetch_timeout"
	KeyMaxDepth             = "max_depth"
	KeyMaxFilesPerDirectory = "max_files_per_directory"
	KeyIncludePatterns      = "include_patterns"
	KeyExcludePatterns      = "exclude_patterns"
	KeyMaxFiles             = "max_files"
	KeyMaxTotalBytes        = "max_total_bytes"
	KeyMaxTokens            = "max_tokens"
	KeyMode                 = "mode"
	KeyWarnRatio            = "warn_ratio"
	KeyBytesPerToken        = "bytes_per_token"
	KeyCacheTTL             = "cache_ttl"
	KeyFailFast             = "fail_fast"
	KeyAllowSensitive       = "allow_sensitive"
)

// Keys lists every key the resolver understands.
var Keys = []string{
	KeyRoot, KeyProvider, KeyBaseURL, KeyRateLimit,
	KeyConcurrency, KeyMaxRetries, KeyRetryBaseDelay, KeyPerFetchTimeout,
	KeyMaxDepth, KeyMaxFilesPerDirectory, KeyIncludePatterns, KeyExcludePatterns,
	KeyMaxFiles, KeyMaxTotalBytes, KeyMaxTokens, KeyMode, KeyWarnRatio, KeyBytesPerToken,
	KeyCacheTTL, KeyFailFast, KeyAllowSensitive,
}

// Defaults returns the built-in value of every key, derived from
// resolver.DefaultOptions. Keys with no default map to "".
func Defaults() map[string]string {
	o := resolver.DefaultOptions()
	l := budget.DefaultLimits()

	d := make(map[string]string, len(Keys))
	for _, k := range Keys {
		d[k] = ""
	}
	d[KeyRoot] = "."
	d[KeyProvider] = "github"
	d[KeyConcurrency] = strconv.Itoa(o.Concurrency)
	d[KeyMaxRetries] = strconv.Itoa(o.MaxRetries)
	d[KeyRetryBaseDelay] = o.RetryBaseDelay.String()
	d[KeyPerFetchTimeout] = o.PerFetchTimeout.String()
	d[KeyMaxDepth] = strconv.Itoa(o.MaxDepth)
	d[KeyMaxFilesPerDirectory] = strconv.Itoa(o.MaxFilesPerDirectory)
	d[KeyMaxFiles] = strconv.Itoa(l.MaxFiles)
	d[KeyMaxTotalBytes] = humanize.IBytes(uint64(l.MaxTotalBytes))
	d[KeyMaxTokens] = "0"
	d[KeyMode] = l.Mode.String()
	d[KeyWarnRatio] = strconv.FormatFloat(l.WarnRatio, 'f', -1, 64)
	d[KeyBytesPerToken] = strconv.Itoa(l.BytesPerToken)
	d[KeyCacheTTL] = cache.DefaultTTL.String()
	d[KeyFailFast] = "false"
	d[KeyAllowSensitive] = "false"
	return d
}

// DefaultResolverConfig returns the layout used by promptarena: the
// PROMPTARENA_ environment prefix, ~/.config/promptarena/config and
// .promptarena in the git root, each in any supported format.
func DefaultResolverConfig() ResolverConfig {
	return ResolverConfig{
		EnvPrefix:        "PROMPTARENA_",
		GlobalConfigDir:  "promptarena",
		GlobalConfigFile: "config",
		LocalConfigName:  ".promptarena",
		Defaults:         Defaults(),
		ValidKeys:        Keys,
	}
}
