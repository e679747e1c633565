package main

import (
	"github.com/ggoodman/oauth2-sasl-go/config"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// configView is the printable form of config.Config.
type configView struct {
	DiscoveryURLs   []string      `yaml:"discovery_urls"`
	Derived         bool          `yaml:"discovery_derived"`
	Issuers         []string      `yaml:"issuers,omitempty"`
	Audiences       []string      `yaml:"audiences,omitempty"`
	ClientID        string        `yaml:"client_id"`
	ClientSecret    config.Secret `yaml:"client_secret,omitempty"`
	Scope           string        `yaml:"scope"`
	UserClaim       string        `yaml:"user_claim"`
	VerifySignature bool          `yaml:"verify_signature"`
	SSLVerify       bool          `yaml:"ssl_verify"`
	Timeout         string        `yaml:"timeout"`
	ClockSkew       string        `yaml:"clock_skew"`
	UserMatch       string        `yaml:"user_match"`
	Cache           string        `yaml:"cache"`
	CacheTTL        string        `yaml:"cache_ttl"`
	CacheRedisAddr  string        `yaml:"cache_redis_addr,omitempty"`
	CachePrefix     string        `yaml:"cache_prefix,omitempty"`
	MaxSessions     int           `yaml:"max_sessions"`
	Debug           bool          `yaml:"debug"`
}

func viewOf(c *config.Config) configView {
	v := configView{
		DiscoveryURLs:   c.DiscoveryURLs(),
		Derived:         c.DerivedDiscovery(),
		Issuers:         c.Issuers(),
		Audiences:       c.Audiences(),
		ClientID:        c.ClientID,
		ClientSecret:    c.ClientSecret,
		Scope:           c.Scope,
		UserClaim:       c.UserClaim,
		VerifySignature: c.VerifySignature,
		SSLVerify:       c.SSLVerify,
		Timeout:         c.Timeout.String(),
		ClockSkew:       c.ClockSkew.String(),
		UserMatch:       string(c.UserMatch),
		Cache:           string(c.Cache),
		CacheTTL:        c.CacheTTL.String(),
		MaxSessions:     c.MaxSessions,
		Debug:           c.Debug,
	}
	if c.Cache == config.CacheRedis {
		v.CacheRedisAddr, v.CachePrefix = c.CacheRedisAddr, c.CachePrefix
	}
	return v
}

func newConfigCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Validate the settings and print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.load(cmd)
			if err != nil {
				return err
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			defer enc.Close()
			return enc.Encode(viewOf(cfg))
		},
	}
}
