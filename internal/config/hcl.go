package config

import (
	"fmt"
	"time"
)

// hclFile mirrors Config for HCL files. Nil fields were absent and keep
// their current value. Durations are strings such as "2s".
type hclFile struct {
	Services  *[]string     `hcl:"services,optional"`
	Node      *hclNode      `hcl:"node,block"`
	Transport *hclTransport `hcl:"transport,block"`
	Mesh      *hclMesh      `hcl:"mesh,block"`
	Log       *hclLog       `hcl:"log,block"`
}

type hclNode struct {
	ID              *string `hcl:"id,optional"`
	HTTPAddr        *string `hcl:"http_addr,optional"`
	ShutdownTimeout *string `hcl:"shutdown_timeout,optional"`
}

type hclTransport struct {
	Kind   *string    `hcl:"kind,optional"`
	Libp2p *hclLibp2p `hcl:"libp2p,block"`
	NATS   *hclNATS   `hcl:"nats,block"`
}

type hclLibp2p struct {
	ListenAddrs     *[]string `hcl:"listen_addrs,optional"`
	Bootstrap       *[]string `hcl:"bootstrap,optional"`
	Rendezvous      *string   `hcl:"rendezvous,optional"`
	EnableMDNS      *bool     `hcl:"enable_mdns,optional"`
	IdentityKeyFile *string   `hcl:"identity_key_file,optional"`
}

type hclNATS struct {
	URL           *string `hcl:"url,optional"`
	ClientName    *string `hcl:"client_name,optional"`
	MaxReconnects *int    `hcl:"max_reconnects,optional"`
	ReconnectWait *string `hcl:"reconnect_wait,optional"`
	Timeout       *string `hcl:"timeout,optional"`
}

type hclMesh struct {
	TopicPrefix      *string `hcl:"topic_prefix,optional"`
	DiscoveryTopic   *string `hcl:"discovery_topic,optional"`
	AnnounceInterval *string `hcl:"announce_interval,optional"`
	PeerTTL          *string `hcl:"peer_ttl,optional"`
	FiringPolicy     *string `hcl:"firing_policy,optional"`
	XIDSource        *string `hcl:"xid_source,optional"`
	Compress         *bool   `hcl:"compress,optional"`
}

type hclLog struct {
	Level   *string   `hcl:"level,optional"`
	Format  *string   `hcl:"format,optional"`
	Outputs *[]string `hcl:"outputs,optional"`
}

func (f *hclFile) apply(cfg *Config) error {
	set(&cfg.Services, f.Services)
	if n := f.Node; n != nil {
		set(&cfg.Node.ID, n.ID)
		set(&cfg.Node.HTTPAddr, n.HTTPAddr)
		if err := setDuration(&cfg.Node.ShutdownTimeout, n.ShutdownTimeout, "node.shutdown_timeout"); err != nil {
			return err
		}
	}
	if t := f.Transport; t != nil {
		set(&cfg.Transport.Kind, t.Kind)
		if p := t.Libp2p; p != nil {
			c := &cfg.Transport.Libp2p
			set(&c.ListenAddrs, p.ListenAddrs)
			set(&c.Bootstrap, p.Bootstrap)
			set(&c.Rendezvous, p.Rendezvous)
			set(&c.EnableMDNS, p.EnableMDNS)
			set(&c.IdentityKeyFile, p.IdentityKeyFile)
		}
		if n := t.NATS; n != nil {
			c := &cfg.Transport.NATS
			set(&c.URL, n.URL)
			set(&c.ClientName, n.ClientName)
			set(&c.MaxReconnects, n.MaxReconnects)
			if err := setDuration(&c.ReconnectWait, n.ReconnectWait, "transport.nats.reconnect_wait"); err != nil {
				return err
			}
			if err := setDuration(&c.Timeout, n.Timeout, "transport.nats.timeout"); err != nil {
				return err
			}
		}
	}
	if m := f.Mesh; m != nil {
		c := &cfg.Mesh
		set(&c.TopicPrefix, m.TopicPrefix)
		set(&c.DiscoveryTopic, m.DiscoveryTopic)
		set(&c.FiringPolicy, m.FiringPolicy)
		set(&c.XIDSource, m.XIDSource)
		set(&c.Compress, m.Compress)
		if err := setDuration(&c.AnnounceInterval, m.AnnounceInterval, "mesh.announce_interval"); err != nil {
			return err
		}
		if err := setDuration(&c.PeerTTL, m.PeerTTL, "mesh.peer_ttl"); err != nil {
			return err
		}
	}
	if l := f.Log; l != nil {
		set(&cfg.Log.Level, l.Level)
		set(&cfg.Log.Format, l.Format)
		set(&cfg.Log.Outputs, l.Outputs)
	}
	return nil
}

func set[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}

func setDuration(dst *time.Duration, src *string, field string) error {
	if src == nil {
		return nil
	}
	d, err := time.ParseDuration(*src)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	*dst = d
	return nil
}
