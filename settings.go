package jsaas

import (
	"fmt"
	"net"
	"os"
	"runtime"
	"strconv"
	"time"
)

// Environment variables consumed at startup.
const (
	EnvBindAddr                 = "JSAAS_BIND_ADDR"
	EnvScriptExpirationTime     = "JSAAS_SCRIPT_DEFINITION_EXPIRATION_TIME"
	EnvScriptPoolSize           = "JSAAS_SCRIPT_EXECUTION_THREAD_POOL_SIZE"
	EnvScriptCompletionTime     = "JSAAS_SCRIPT_EXECUTION_COMPLETION_TIME"
	EnvTLSBindAddr              = "JSAAS_TLS_BIND_ADDR"
	EnvTLSPublicCertificatePath = "JSAAS_TLS_PUBLIC_CERTIFICATE_PATH"
	EnvTLSPrivateKeyPath        = "JSAAS_TLS_PRIVATE_KEY_PATH"
	EnvMaxConnections           = "JSAAS_MAX_CONNECTIONS"
)

const (
	defaultBindAddr           = "127.0.0.1:9412"
	defaultScriptExpirationMS = "86400000"
	defaultScriptCompletionMS = "10000"
	defaultPoolSize           = "0"
	defaultMaxConnections     = "0"
)

// Settings holds the service configuration, sourced strictly from
// environment variables.
type Settings struct {
	BindAddr                 string
	ScriptExpiration         time.Duration
	ScriptCompletion         time.Duration
	PoolSize                 int
	MaxConnections           int
	TLSBindAddr              string
	TLSPublicCertificatePath string
	TLSPrivateKeyPath        string
}

// TLSEnabled reports whether an HTTPS listener should be started alongside
// the HTTP one.
func (s *Settings) TLSEnabled() bool {
	return s.TLSBindAddr != "" && s.TLSPublicCertificatePath != "" && s.TLSPrivateKeyPath != ""
}

// LoadSettings reads the JSAAS_* environment variables, applying defaults
// for the ones that are unset. Invalid values are startup failures.
func LoadSettings() (*Settings, error) {
	return loadSettings(os.LookupEnv)
}

func loadSettings(lookup func(string) (string, bool)) (*Settings, error) {
	get := func(key, fallback string) string {
		if v, ok := lookup(key); ok {
			return v
		}
		return fallback
	}

	s := &Settings{}

	s.BindAddr = get(EnvBindAddr, defaultBindAddr)
	if _, err := net.ResolveTCPAddr("tcp", s.BindAddr); err != nil {
		return nil, fmt.Errorf("parsing %s %q: %w", EnvBindAddr, s.BindAddr, err)
	}

	expirationMS, err := parseMillis(get(EnvScriptExpirationTime, defaultScriptExpirationMS))
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", EnvScriptExpirationTime, err)
	}
	s.ScriptExpiration = expirationMS

	completionMS, err := parseMillis(get(EnvScriptCompletionTime, defaultScriptCompletionMS))
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", EnvScriptCompletionTime, err)
	}
	s.ScriptCompletion = completionMS

	poolSize, err := strconv.Atoi(get(EnvScriptPoolSize, defaultPoolSize))
	if err != nil || poolSize < 0 {
		return nil, fmt.Errorf("parsing %s: expected a non-negative integer", EnvScriptPoolSize)
	}
	if poolSize == 0 {
		poolSize = runtime.NumCPU()
	}
	s.PoolSize = poolSize

	maxConns, err := strconv.Atoi(get(EnvMaxConnections, defaultMaxConnections))
	if err != nil || maxConns < 0 {
		return nil, fmt.Errorf("parsing %s: expected a non-negative integer", EnvMaxConnections)
	}
	s.MaxConnections = maxConns

	if addr, ok := lookup(EnvTLSBindAddr); ok && addr != "" {
		if _, err := net.ResolveTCPAddr("tcp", addr); err != nil {
			return nil, fmt.Errorf("parsing %s %q: %w", EnvTLSBindAddr, addr, err)
		}
		s.TLSBindAddr = addr
	}
	if p, ok := lookup(EnvTLSPublicCertificatePath); ok && p != "" {
		s.TLSPublicCertificatePath = p
	}
	if p, ok := lookup(EnvTLSPrivateKeyPath); ok && p != "" {
		s.TLSPrivateKeyPath = p
	}

	return s, nil
}

func parseMillis(v string) (time.Duration, error) {
	ms, err := strconv.ParseUint(v, 10, 63)
	if err != nil {
		return 0, fmt.Errorf("expected milliseconds, got %q", v)
	}
	return time.Duration(ms) * time.Millisecond, nil
}
