package eventbridge

import (
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/kingrea/nuscr-editor/internal/config"
)

const (
	// DefaultHost keeps the hook listener on loopback.
	DefaultHost = "127.0.0.1"
	// DefaultPort is where editor plugins post hooks unless configured otherwise.
	DefaultPort = 8766
	// DefaultMaxBodyBytes caps a hook body. Hooks carry a path, never the
	// document text.
	DefaultMaxBodyBytes int64 = 64 << 10
	// DefaultTimeout bounds reading a hook and writing its acknowledgement.
	DefaultTimeout = 10 * time.Second
)

// Environment overrides for the bridge.
const (
	EnvBridgeEnabled = "NUSCR_BRIDGE_ENABLED"
	EnvBridgeHost    = "NUSCR_BRIDGE_HOST"
	EnvBridgePort    = "NUSCR_BRIDGE_PORT"
)

// Settings configure the hook listener.
type Settings struct {
	Enabled      bool
	Host         string
	Port         int
	MaxBodyBytes int64
	Timeout      time.Duration
}

// DefaultSettings returns a disabled loopback listener.
func DefaultSettings() Settings {
	return Settings{
		Host:         DefaultHost,
		Port:         DefaultPort,
		MaxBodyBytes: DefaultMaxBodyBytes,
		Timeout:      DefaultTimeout,
	}
}

// SettingsFromConfig layers the event_bridge block of .nuscr/config.yaml and
// then the NUSCR_BRIDGE_* variables over the defaults. The bridge stays off
// unless one of them turns it on.
func SettingsFromConfig(cfg *config.Config) Settings {
	s := DefaultSettings()
	if cfg != nil {
		raw := cfg.Snapshot().EventBridge
		if raw.Enabled != nil {
			s.Enabled = *raw.Enabled
		}
		if raw.Host != "" {
			s.Host = raw.Host
		}
		if isValidPort(raw.Port) {
			s.Port = raw.Port
		}
	}
	if enabled, err := strconv.ParseBool(envValue(EnvBridgeEnabled)); err == nil {
		s.Enabled = enabled
	}
	if host := envValue(EnvBridgeHost); host != "" {
		s.Host = host
	}
	if port, err := strconv.Atoi(envValue(EnvBridgePort)); err == nil && isValidPort(port) {
		s.Port = port
	}
	return s
}

// withDefaults fills zero fields, e.g. for Settings built by hand.
func (s Settings) withDefaults() Settings {
	def := DefaultSettings()
	if strings.TrimSpace(s.Host) == "" {
		s.Host = def.Host
	}
	if s.Port < 0 || s.Port > 65535 {
		s.Port = def.Port
	}
	if s.MaxBodyBytes <= 0 {
		s.MaxBodyBytes = def.MaxBodyBytes
	}
	if s.Timeout <= 0 {
		s.Timeout = def.Timeout
	}
	return s
}

// Address returns the bind address. Port 0 asks the OS for a free port.
func (s Settings) Address() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// URL is the base URL editors post to.
func (s Settings) URL() string {
	return "http://" + s.Address()
}

func envValue(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func isValidPort(port int) bool {
	return port > 0 && port <= 65535
}
