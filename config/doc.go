// Package config resolves resolver settings from layered sources.
//
// Precedence, highest first:
//  1. Command-line flags (ResolveWithFlags)
//  2. Environment variables (PROMPTARENA_MAX_FILES sets "max_files")
//  3. Local config in the repository root (.promptarena.yaml)
//  4. Global config (~/.config/promptarena/config.yaml)
//  5. Built-in defaults
//
// Config files may be YAML, JSON with comments, or TOML; the format follows
// the file extension. A name without an extension is tried with each of
// them in that order.
//
// # Basic Usage
//
//	r := config.NewResolver(config.DefaultResolverConfig())
//	cfg := r.Resolve()
//
//	opts, err := cfg.Options()
//	if err != nil {
//	    return err // names the key and the layer it came from
//	}
//
// # Config Sources
//
// Each resolved value records where it came from, so errors and the
// example program can say "max_total_bytes from env".
package config
