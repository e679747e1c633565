package main

import (
	"fmt"
	"time"

	"github.com/ggoodman/oauth2-sasl-go/config"
	"github.com/ggoodman/oauth2-sasl-go/metadata"
	"github.com/ggoodman/oauth2-sasl-go/metadata/memory"
	"github.com/spf13/cobra"
)

func newResolver(cmd *cobra.Command, g *globalFlags, cfg *config.Config) *metadata.HTTPResolver {
	return metadata.NewHTTPResolver(memory.New(),
		metadata.WithTimeout(cfg.Timeout),
		metadata.WithInsecureSkipVerify(!cfg.SSLVerify),
		metadata.WithDefaultTTL(cfg.CacheTTL),
		metadata.WithLogger(g.logger(cmd)),
	)
}

func newDiscoverCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "discover [endpoint...]",
		Short: "Fetch provider metadata for the configured or given discovery endpoints",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.load(cmd)
			if err != nil {
				return err
			}
			eps := args
			if len(eps) == 0 {
				eps = cfg.DiscoveryURLs()
			}
			r := newResolver(cmd, g, cfg)
			out := cmd.OutOrStdout()
			var failed int
			for _, ep := range eps {
				ks, err := r.Resolve(cmd.Context(), ep)
				if err != nil {
					failed++
					fmt.Fprintf(out, "%s\n  error: %v\n", ep, err)
					continue
				}
				pc := ks.Provider()
				fmt.Fprintf(out, "%s\n", ep)
				fmt.Fprintf(out, "  issuer:         %s\n", ks.Issuer)
				fmt.Fprintf(out, "  jwks_uri:       %s\n", ks.JWKSURI)
				if pc.TokenURL != "" {
					fmt.Fprintf(out, "  token_endpoint: %s\n", pc.TokenURL)
				}
				fmt.Fprintf(out, "  keys:           %v\n", ks.KeyIDs())
				fmt.Fprintf(out, "  fresh_for:      %s\n", ks.FreshUntil.Sub(ks.FetchedAt).Round(time.Second))
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d endpoints failed", failed, len(eps))
			}
			return nil
		},
	}
}
