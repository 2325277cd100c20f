package config

import "os"

// Environment variables read by the sidecar.
const (
	EnvLocalDNSProxy             = "LOCAL_DNS_PROXY"
	EnvLocalDNSPrimaryUpstream   = "LOCAL_DNS_PROXY_PRIMARY_UPSTREAM"
	EnvLocalDNSSecondaryUpstream = "LOCAL_DNS_PROXY_SECONDARY_UPSTREAM"
)

// Env is the process environment as seen by activation and modules.
// It is injected so tests never depend on the real environment.
type Env func(key string) string

// OSEnv returns the real process environment.
func OSEnv() Env {
	return os.Getenv
}

// MapEnv returns an Env backed by a fixed map.
func MapEnv(vars map[string]string) Env {
	return func(key string) string {
		return vars[key]
	}
}

// Get returns the value of key, treating a nil Env as empty.
func (e Env) Get(key string) string {
	if e == nil {
		return ""
	}
	return e(key)
}
