package config

import (
	"flag"
	"os"
	"strconv"
	"strings"
	"time"
)

// envPrefix is the prefix LoadEnvOverrides strips before matching a
// variable against a Config field, mirroring the teacher's
// config.Manager.LoadFromEnv prefix-strip convention.
const envPrefix = "AMPD_"

// Config holds agentd's runtime configuration: socket path, the
// method allow-list, the reconnect/call timeouts and the GC target.
// app.App reads SocketPath and GOGC; the other fields are loaded but are
// not passed to the server or to the RemoteObject Creator.
type Config struct {
	SocketPath string
	Methods    []string

	ResponseTimeout time.Duration
	PendingTimeout  time.Duration

	BackoffInitialDelay time.Duration
	BackoffMaxDelay     time.Duration
	BackoffFactor       float64

	RetryOnReconnect bool
	CallDeadline     time.Duration

	GOGC int
}

// New loads configuration from command-line flags.
func New() *Config {
	cfg := &Config{}

	var methods string
	flag.StringVar(&cfg.SocketPath, "socket", "/run/ampd.sock", "Unix-domain socket path")
	flag.StringVar(&methods, "methods", "", "comma-separated allow-list of remotely callable method names")
	flag.DurationVar(&cfg.ResponseTimeout, "response-timeout", 60*time.Second, "wait for a call's immediate response")
	flag.DurationVar(&cfg.PendingTimeout, "pending-timeout", 60*time.Second, "wait for a deferred call's result")
	flag.DurationVar(&cfg.BackoffInitialDelay, "backoff-initial", time.Second, "initial reconnect backoff delay")
	flag.DurationVar(&cfg.BackoffMaxDelay, "backoff-max", 60*time.Second, "maximum reconnect backoff delay")
	flag.Float64Var(&cfg.BackoffFactor, "backoff-factor", 2.0, "reconnect backoff multiplier")
	flag.BoolVar(&cfg.RetryOnReconnect, "retry-on-reconnect", true, "queue calls made while disconnected and replay them on reconnect")
	flag.DurationVar(&cfg.CallDeadline, "call-deadline", 0, "hard deadline applied to a queued call across retries (0 = none)")
	flag.IntVar(&cfg.GOGC, "gogc", 200, "GC target percentage")

	flag.Parse()

	if methods != "" {
		for _, m := range strings.Split(methods, ",") {
			if m = strings.TrimSpace(m); m != "" {
				cfg.Methods = append(cfg.Methods, m)
			}
		}
	}

	cfg.LoadEnvOverrides()

	return cfg
}

// LoadEnvOverrides applies AMPD_-prefixed environment variables on top
// of whatever New already loaded from flags, so a flag left at its
// default can still be overridden without editing a unit file.
// Unlike the teacher's config.Manager.LoadFromEnv (which fans every
// prefixed variable into a generic, reflection-addressed key/value
// store), this targets the fixed set of Config fields directly — the
// allow-list and timeouts here are a closed set, not an open schema.
func (c *Config) LoadEnvOverrides() {
	if v, ok := os.LookupEnv(envPrefix + "SOCKET"); ok && v != "" {
		c.SocketPath = v
	}
	if v, ok := os.LookupEnv(envPrefix + "METHODS"); ok && v != "" {
		c.Methods = nil
		for _, m := range strings.Split(v, ",") {
			if m = strings.TrimSpace(m); m != "" {
				c.Methods = append(c.Methods, m)
			}
		}
	}
	if v, ok := lookupDuration(envPrefix + "RESPONSE_TIMEOUT"); ok {
		c.ResponseTimeout = v
	}
	if v, ok := lookupDuration(envPrefix + "PENDING_TIMEOUT"); ok {
		c.PendingTimeout = v
	}
	if v, ok := lookupDuration(envPrefix + "BACKOFF_INITIAL"); ok {
		c.BackoffInitialDelay = v
	}
	if v, ok := lookupDuration(envPrefix + "BACKOFF_MAX"); ok {
		c.BackoffMaxDelay = v
	}
	if v, ok := lookupBool(envPrefix + "RETRY_ON_RECONNECT"); ok {
		c.RetryOnReconnect = v
	}
	if v, ok := lookupInt(envPrefix + "GOGC"); ok {
		c.GOGC = v
	}
}

func lookupDuration(key string) (time.Duration, bool) {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return 0, false
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, false
	}
	return d, true
}

func lookupBool(key string) (bool, bool) {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return false, false
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return b, true
}

func lookupInt(key string) (int, bool) {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return 0, false
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return n, true
}
