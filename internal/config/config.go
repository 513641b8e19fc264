// Package config builds the single immutable configuration record passed
// into the DHT at construction time. There is no package-level mutable
// state here, unlike the teacher's config.Config singleton — every caller
// gets its own Config built from the environment and CLI flags it was
// given.
package config

import (
	"github.com/joho/godotenv"
)

// Config is the process-boundary configuration named in spec.md §6.
type Config struct {
	// Port is the TCP port the DHT transport listens on. Nil means "pick a
	// random free port".
	Port *int
	// HTTPPort is the port the control HTTP surface listens on.
	HTTPPort int
	// UseGlobalIP records whether the node should advertise its public IP.
	// No code in this module reads it; the advertised host is always the
	// transport's listen host.
	UseGlobalIP bool
	// Verbose raises the logging level to debug.
	Verbose bool
	// DataDir holds the node's private key and durable storage files.
	DataDir string
	// BootstrapAddr is a known peer's "host:port" to bootstrap from. Empty
	// means this node starts as a genesis node.
	BootstrapAddr string
	// EncryptTransport records whether ECIES payload encryption is wanted.
	// No code in this module reads it; the transports always send
	// plaintext, and the ECIES helpers in the transport package are not
	// called.
	EncryptTransport bool
}

// Option mutates a Config being built by Load.
type Option func(*Config)

// WithPort overrides the listen port.
func WithPort(port int) Option {
	return func(c *Config) { c.Port = &port }
}

// WithHTTPPort overrides the control HTTP surface port.
func WithHTTPPort(port int) Option {
	return func(c *Config) { c.HTTPPort = port }
}

// WithBootstrapAddr sets the peer to bootstrap from.
func WithBootstrapAddr(addr string) Option {
	return func(c *Config) { c.BootstrapAddr = addr }
}

// WithDataDir overrides the data directory.
func WithDataDir(dir string) Option {
	return func(c *Config) { c.DataDir = dir }
}

// WithVerbose turns on debug-level logging.
func WithVerbose(v bool) Option {
	return func(c *Config) { c.Verbose = v }
}

// WithUseGlobalIP sets the UseGlobalIP field.
func WithUseGlobalIP(v bool) Option {
	return func(c *Config) { c.UseGlobalIP = v }
}

// WithEncryptTransport sets the EncryptTransport field.
func WithEncryptTransport(v bool) Option {
	return func(c *Config) { c.EncryptTransport = v }
}

// defaults mirrors the teacher's environment-first, then-default resolution
// order, without stashing the result in a package global.
func defaults() Config {
	return Config{
		HTTPPort:         lookupEnvInt("KADNET_HTTP_PORT", 8000),
		UseGlobalIP:      lookupEnvBool("KADNET_USE_GLOBAL_IP", false),
		Verbose:          lookupEnvBool("KADNET_VERBOSE", false),
		DataDir:          lookupEnvString("KADNET_DATA_DIR", "./data"),
		BootstrapAddr:    lookupEnvString("KADNET_BOOTSTRAP", ""),
		EncryptTransport: lookupEnvBool("KADNET_ENCRYPT_TRANSPORT", false),
	}
}

// Load reads a .env file (if present) and the OS environment, then applies
// opts on top — opts (typically parsed CLI flags) always win.
func Load(opts ...Option) Config {
	_ = godotenv.Load()

	cfg := defaults()
	if p := lookupEnvIntPtr("KADNET_PORT"); p != nil {
		cfg.Port = p
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}
