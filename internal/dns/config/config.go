package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// ListenerConfig holds the settings for one encrypted listener.
type ListenerConfig struct {
	// Enabled controls whether this listener is started at all.
	Enabled bool `koanf:"enabled"`

	// Port is the network port the listener will bind to.
	Port int `koanf:"port" validate:"required,gte=1,lt=65535"`

	// CertFile and KeyFile point at the PEM certificate pair. Absent files
	// are a handled state: the listener is skipped with a warning.
	CertFile string `koanf:"cert_file"`
	KeyFile  string `koanf:"key_file"`
}

// AppConfig holds configuration values parsed from environment variables.
type AppConfig struct {
	// Env is the runtime environment, either "dev" or "prod".
	Env string `koanf:"env" validate:"required,oneof=dev prod"`

	// LogLevel controls log verbosity: "debug", "info", "warn", or "error".
	LogLevel string `koanf:"log_level" validate:"required,oneof=debug info warn error"`

	// DoH configures the DNS-over-HTTPS listener.
	DoH ListenerConfig `koanf:"doh"`

	// DoT configures the DNS-over-TLS listener.
	DoT ListenerConfig `koanf:"dot"`

	// Resolver selects the resolution back end: "system" uses the OS
	// resolver, "forward" exchanges against Servers directly.
	Resolver string `koanf:"resolver" validate:"required,oneof=system forward"`

	// Servers is a list of upstream DNS servers in ip:port format, used by
	// the forward back end.
	Servers []string `koanf:"servers" validate:"omitempty,dive,ip_port"`

	// CacheSize is the maximum number of cached answer sets.
	CacheSize uint `koanf:"cache_size" validate:"required,gte=1"`

	// DisableCache disables DNS response caching when set to true.
	// Useful for testing scenarios where cache behavior needs to be bypassed.
	DisableCache bool `koanf:"disable_cache"`

	// BlocklistPath points at a plain-text domain blocklist; empty disables
	// blocking.
	BlocklistPath string `koanf:"blocklist_path"`

	// ResolveTimeout bounds a single message's resolution, in seconds.
	ResolveTimeout uint `koanf:"resolve_timeout" validate:"required,gte=1"`
}

// DEFAULT_APP_CONFIG defines the default application configuration settings
// for the encrypted-DNS front end.
var DEFAULT_APP_CONFIG = AppConfig{
	Env:      "prod",
	LogLevel: "info",
	DoH: ListenerConfig{
		Enabled:  true,
		Port:     443,
		CertFile: "/etc/tlsdnsd/cert.pem",
		KeyFile:  "/etc/tlsdnsd/key.pem",
	},
	DoT: ListenerConfig{
		Enabled:  true,
		Port:     853,
		CertFile: "/etc/tlsdnsd/cert.pem",
		KeyFile:  "/etc/tlsdnsd/key.pem",
	},
	Resolver:       "system",
	Servers:        []string{"1.1.1.1:53", "1.0.0.1:53"},
	CacheSize:      1000,
	DisableCache:   false,
	ResolveTimeout: 5,
}

// validIPPort validates whether the provided field value is a valid IP address
// and port combination in the format "IP:Port".
func validIPPort(fl validator.FieldLevel) bool {
	addr := fl.Field().String()
	ip, port, err := net.SplitHostPort(addr)
	if err != nil || ip == "" || port == "" {
		return false
	}
	if net.ParseIP(ip) == nil {
		return false
	}
	portNum, err := strconv.ParseUint(port, 10, 16)
	return err == nil && portNum > 0 && portNum < 65536
}

// envLoader loads environment variables with the prefix "DNS_". Keys are
// lowercased with the prefix removed; a double underscore denotes nesting
// (DNS_DOT__PORT -> dot.port). It can be mocked in tests.
var envLoader = func(k *koanf.Koanf) error {
	return k.Load(env.Provider(".", env.Opt{
		Prefix: "DNS_",
		TransformFunc: func(key, value string) (string, any) {
			key = strings.ToLower(strings.TrimPrefix(key, "DNS_"))
			key = strings.ReplaceAll(key, "__", ".")
			value = strings.TrimSpace(value)

			if value == "" {
				return key, value
			}

			if strings.Contains(value, " ") || strings.Contains(value, ",") {
				parts := strings.FieldsFunc(value, func(r rune) bool {
					return r == ' ' || r == ','
				})
				return key, parts
			}

			return key, value
		},
	}), nil)
}

// defaultLoader loads default configuration values into the provided Koanf
// instance using the structs provider and the DEFAULT_APP_CONFIG struct.
var defaultLoader = func(k *koanf.Koanf) error {
	return k.Load(structs.Provider(DEFAULT_APP_CONFIG, "koanf"), nil)
}

// registerValidation registers the custom "ip_port" validation with the
// provided validator.
var registerValidation = func(v *validator.Validate) error {
	return v.RegisterValidation("ip_port", validIPPort)
}

// Load parses environment variables and returns an AppConfig instance.
// It applies default values and runs validation automatically.
func Load() (*AppConfig, error) {
	k := koanf.New(".")

	err := defaultLoader(k)
	if err != nil {
		return nil, fmt.Errorf("error loading default config: %w", err)
	}

	err = envLoader(k)
	if err != nil {
		return nil, fmt.Errorf("error loading env: %w", err)
	}

	var cfg AppConfig

	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}

	validate := validator.New(validator.WithRequiredStructEnabled())

	err = registerValidation(validate)
	if err != nil {
		return nil, fmt.Errorf("error registering validation: %w", err)
	}

	err = validate.Struct(&cfg)
	if err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	if cfg.Resolver == "forward" && len(cfg.Servers) == 0 {
		return nil, fmt.Errorf("validation failed: forward resolver requires at least one server")
	}

	return &cfg, nil
}
