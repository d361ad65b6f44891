// Package config loads node configuration.
//
// Values are applied in order: defaults, then the config file (YAML or HCL,
// chosen by extension), then MESH_* environment variables.
package config

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"Meshflow/internal/core/network"
	"Meshflow/internal/mesh"
	"Meshflow/internal/wireup"
)

var ErrInvalid = errors.New("invalid config")

type Config struct {
	Node      NodeConfig      `yaml:"node" env:"NODE"`
	Transport TransportConfig `yaml:"transport" env:"TRANSPORT"`
	Mesh      MeshConfig      `yaml:"mesh" env:"MESH"`
	Log       LogConfig       `yaml:"log" env:"LOG"`
	// Services names the reactors to host.
	Services []string `yaml:"services" env:"SERVICES"`
}

type NodeConfig struct {
	// ID overrides the node id. Empty uses the transport's id or a UUID.
	ID              string        `yaml:"id" env:"ID"`
	HTTPAddr        string        `yaml:"http_addr" env:"HTTP_ADDR"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
}

type TransportConfig struct {
	Kind   string       `yaml:"kind" env:"KIND"`
	Libp2p Libp2pConfig `yaml:"libp2p" env:"LIBP2P"`
	NATS   NATSConfig   `yaml:"nats" env:"NATS"`
}

type Libp2pConfig struct {
	ListenAddrs     []string `yaml:"listen_addrs" env:"LISTEN_ADDRS"`
	Bootstrap       []string `yaml:"bootstrap" env:"BOOTSTRAP"`
	Rendezvous      string   `yaml:"rendezvous" env:"RENDEZVOUS"`
	EnableMDNS      bool     `yaml:"enable_mdns" env:"ENABLE_MDNS"`
	IdentityKeyFile string   `yaml:"identity_key_file" env:"IDENTITY_KEY_FILE"`
}

type NATSConfig struct {
	URL           string        `yaml:"url" env:"URL"`
	ClientName    string        `yaml:"client_name" env:"CLIENT_NAME"`
	MaxReconnects int           `yaml:"max_reconnects" env:"MAX_RECONNECTS"`
	ReconnectWait time.Duration `yaml:"reconnect_wait" env:"RECONNECT_WAIT"`
	Timeout       time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

type MeshConfig struct {
	TopicPrefix      string        `yaml:"topic_prefix" env:"TOPIC_PREFIX"`
	DiscoveryTopic   string        `yaml:"discovery_topic" env:"DISCOVERY_TOPIC"`
	AnnounceInterval time.Duration `yaml:"announce_interval" env:"ANNOUNCE_INTERVAL"`
	PeerTTL          time.Duration `yaml:"peer_ttl" env:"PEER_TTL"`
	FiringPolicy     string        `yaml:"firing_policy" env:"FIRING_POLICY"`
	XIDSource        string        `yaml:"xid_source" env:"XID_SOURCE"`
	Compress         bool          `yaml:"compress" env:"COMPRESS"`
}

type LogConfig struct {
	// Level is debug, info, warn or error.
	Level string `yaml:"level" env:"LEVEL"`
	// Format is json or console.
	Format  string   `yaml:"format" env:"FORMAT"`
	Outputs []string `yaml:"outputs" env:"OUTPUTS"`
}

func Default() *Config {
	return &Config{
		Node: NodeConfig{
			HTTPAddr:        ":8080",
			ShutdownTimeout: 5 * time.Second,
		},
		Transport: TransportConfig{
			Kind: network.KindMemory,
			Libp2p: Libp2pConfig{
				ListenAddrs: []string{"/ip4/0.0.0.0/tcp/0"},
				Rendezvous:  "meshflow",
				EnableMDNS:  true,
			},
			NATS: NATSConfig{
				URL:           "nats://127.0.0.1:4222",
				ClientName:    "meshflow",
				MaxReconnects: -1,
				ReconnectWait: 2 * time.Second,
				Timeout:       5 * time.Second,
			},
		},
		Mesh: MeshConfig{
			TopicPrefix:      "mesh.",
			DiscoveryTopic:   "mesh.discovery",
			AnnounceInterval: 2 * time.Second,
			PeerTTL:          10 * time.Second,
			FiringPolicy:     wireup.PolicyLatestValue,
			XIDSource:        mesh.XIDTimeOfDay,
		},
		Log: LogConfig{
			Level:   "info",
			Format:  "json",
			Outputs: []string{"stdout"},
		},
	}
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var errs error
	switch c.Transport.Kind {
	case network.KindMemory, network.KindLibp2p, network.KindNATS:
	default:
		errs = multierr.Append(errs, fmt.Errorf("%w: transport.kind %q", ErrInvalid, c.Transport.Kind))
	}
	if _, err := wireup.ParsePolicy(c.Mesh.FiringPolicy); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("%w: mesh.firing_policy: %v", ErrInvalid, err))
	}
	switch c.Mesh.XIDSource {
	case "", mesh.XIDTimeOfDay, mesh.XIDSequence:
	default:
		errs = multierr.Append(errs, fmt.Errorf("%w: mesh.xid_source %q", ErrInvalid, c.Mesh.XIDSource))
	}
	if c.Mesh.AnnounceInterval < 0 || c.Mesh.PeerTTL < 0 {
		errs = multierr.Append(errs, fmt.Errorf("%w: mesh intervals must not be negative", ErrInvalid))
	}
	if c.Mesh.PeerTTL > 0 && c.Mesh.AnnounceInterval > 0 && c.Mesh.PeerTTL <= c.Mesh.AnnounceInterval {
		errs = multierr.Append(errs, fmt.Errorf("%w: mesh.peer_ttl must exceed mesh.announce_interval", ErrInvalid))
	}
	return errs
}
