/*
Package config provides type-safe configuration extraction from map[string]any.

Run configuration in flowcore is a plain map: the engine reads its options
(thread id, recursion limit, interrupts, step timeout) from it, and modules
receive the same map as keyword arguments. config wraps such a map with
typed accessors that return a default for a missing key or a mismatched type.

# Basic Usage

	cfg := config.New(map[string]any{
	    "recursion_limit": 50,
	    "step_timeout":    "30s",
	    "configurable":    map[string]any{"thread_id": "t-1"},
	})

	limit := cfg.Int("recursion_limit", 25)                // 50
	timeout := cfg.Duration("step_timeout", 0)             // 30s
	thread := cfg.Section("configurable").String("thread_id", "")

# Type Coercion

Duration accepts a time.ParseDuration string, a number of seconds or a
time.Duration. Int accepts a float64 only when it has no fractional part.

# File Loading

Run defaults can live in YAML or JSON files and be merged with per-call
values. A file may nest them under a top-level "run" key next to unrelated
settings. Load merges several files in order; every loading error wraps
ErrInvalid.

	defaults, err := config.Load("flow.yaml", "flow.local.json")
	if err != nil {
	    log.Fatal(err)
	}
	cfg := defaults.Merge(config.New(perCall))

# Thread Safety

Config is safe for concurrent read access. With and Merge return copies.
*/
package config
