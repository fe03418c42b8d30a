package nat64

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Config is the control-plane surface: everything needed to build a
// Core. Fields use plain seconds/strings so it decodes cleanly from a
// YAML file via viper, or from a map via mapstructure for callers that
// build it programmatically (tests, embedders).
type Config struct {
	Prefix    string `mapstructure:"prefix"`     // e.g. "64:ff9b::"
	PrefixLen int    `mapstructure:"prefix_len"` // one of 32/40/48/56/64/96

	Pool4 []string `mapstructure:"pool4"`

	AllowSimultaneousOpen bool `mapstructure:"allow_simultaneous_open"`

	UDPTimeout            int64 `mapstructure:"udp_timeout"`
	ICMPTimeout           int64 `mapstructure:"icmp_timeout"`
	TCPEstTimeout         int64 `mapstructure:"tcp_est_timeout"`
	TCPTransTimeout       int64 `mapstructure:"tcp_trans_timeout"`
	TCPIncomingSynTimeout int64 `mapstructure:"tcp_incoming_syn_timeout"`
}

// DefaultConfig returns a Config using the well-known NAT64 prefix, a
// /96 embedding, and the default timeouts. Pool4 is empty; callers must
// register at least one address before traffic can be translated.
func DefaultConfig() Config {
	t := DefaultTimeouts()
	return Config{
		Prefix:                "64:ff9b::",
		PrefixLen:             96,
		AllowSimultaneousOpen: false,
		UDPTimeout:            t.UDP,
		ICMPTimeout:           t.ICMP,
		TCPEstTimeout:         t.TCPEst,
		TCPTransTimeout:       t.TCPTrans,
		TCPIncomingSynTimeout: t.TCPIncomingSyn,
	}
}

// DecodeConfig builds a Config from an arbitrary map, as produced by
// parsing JSON/YAML into map[string]any or assembling options
// programmatically. Unset fields keep DefaultConfig's values.
func DecodeConfig(raw map[string]any) (Config, error) {
	cfg := DefaultConfig()
	if err := mapstructure.Decode(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("nat64: decoding config: %w", err)
	}
	return cfg, nil
}

// LoadConfigFile reads a YAML/JSON/TOML config file at path via viper,
// overlaying it on DefaultConfig's values.
func LoadConfigFile(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	cfg := DefaultConfig()
	defaults := map[string]any{
		"prefix":                   cfg.Prefix,
		"prefix_len":               cfg.PrefixLen,
		"allow_simultaneous_open":  cfg.AllowSimultaneousOpen,
		"udp_timeout":              cfg.UDPTimeout,
		"icmp_timeout":             cfg.ICMPTimeout,
		"tcp_est_timeout":          cfg.TCPEstTimeout,
		"tcp_trans_timeout":        cfg.TCPTransTimeout,
		"tcp_incoming_syn_timeout": cfg.TCPIncomingSynTimeout,
	}
	for k, val := range defaults {
		v.SetDefault(k, val)
	}

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("nat64: reading config file %s: %w", path, err)
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("nat64: unmarshaling config: %w", err)
	}
	return cfg, nil
}

// timeouts projects Config's flat timeout fields into a Timeouts value.
func (c Config) timeouts() Timeouts {
	return Timeouts{
		UDP:            c.UDPTimeout,
		ICMP:           c.ICMPTimeout,
		TCPTrans:       c.TCPTransTimeout,
		TCPEst:         c.TCPEstTimeout,
		TCPIncomingSyn: c.TCPIncomingSynTimeout,
	}
}

// parsedPrefix parses c.Prefix into an IPv6 value, defaulting to the
// well-known NAT64 prefix 64:ff9b::/96 if c.Prefix is empty.
func (c Config) parsedPrefix() (IPv6, error) {
	s := c.Prefix
	if s == "" {
		s = "64:ff9b::"
	}
	return ParseIPv6(s)
}

func (c Config) parsedPool4() ([]IPv4, error) {
	out := make([]IPv4, 0, len(c.Pool4))
	for _, s := range c.Pool4 {
		addr, err := ParseIPv4(s)
		if err != nil {
			return nil, fmt.Errorf("nat64: invalid pool4 address %q: %w", s, err)
		}
		out = append(out, addr)
	}
	return out, nil
}
