package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	oauth2sasl "github.com/ggoodman/oauth2-sasl-go"
	"github.com/ggoodman/oauth2-sasl-go/config"
	"github.com/ggoodman/oauth2-sasl-go/sasl"
	"github.com/spf13/cobra"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// maxRounds bounds the exchange loop; both mechanisms finish in two.
const maxRounds = 4

// tokenSource returns a static source for tok, or a client credentials
// source against the first provider's token endpoint.
func tokenSource(ctx context.Context, cmd *cobra.Command, g *globalFlags, cfg *config.Config, tok string) (oauth2.TokenSource, error) {
	if tok != "" {
		return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: tok, TokenType: "Bearer"}), nil
	}
	eps := cfg.DiscoveryURLs()
	ks, err := newResolver(cmd, g, cfg).Resolve(ctx, eps[0])
	if err != nil {
		return nil, err
	}
	tokenURL := ks.Provider().TokenURL
	if tokenURL == "" {
		return nil, fmt.Errorf("%s advertises no token_endpoint; pass --token", eps[0])
	}
	cc := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret.Value(),
		TokenURL:     tokenURL,
		Scopes:       strings.Fields(cfg.Scope),
	}
	return cc.TokenSource(ctx), nil
}

func newExchangeCmd(g *globalFlags) *cobra.Command {
	var mech, user, tok string
	cmd := &cobra.Command{
		Use:   "exchange",
		Short: "Run a full client/server exchange in process",
		Long: "Run a full client/server exchange in process. Without --token a token is\n" +
			"obtained with the client credentials grant using oauth2_client_id and\n" +
			"oauth2_client_secret.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			m, err := mechanismName(mech)
			if err != nil {
				return err
			}
			src, err := g.source()
			if err != nil {
				return err
			}
			pl, err := oauth2sasl.New(ctx, src, oauth2sasl.WithLogger(g.logger(cmd)))
			if err != nil {
				return err
			}
			defer pl.Close()

			ts, err := tokenSource(ctx, cmd, g, pl.Config(), tok)
			if err != nil {
				return err
			}
			client, err := sasl.NewClient(m, user, ts)
			if err != nil {
				return err
			}
			srv, err := pl.NewSession(m)
			if err != nil {
				return err
			}
			defer srv.Close()

			out := cmd.OutOrStdout()
			msg, err := client.Start(ctx)
			if err != nil {
				return err
			}
			for round := 1; round <= maxRounds; round++ {
				fmt.Fprintf(out, "C: %q\n", msg)
				challenge, done, err := srv.Next(ctx, msg)
				if done {
					code := sasl.CodeOf(err)
					fmt.Fprintf(out, "result: %s\n", code)
					if err != nil {
						return fmt.Errorf("authentication failed: %w", err)
					}
					fmt.Fprintf(out, "username: %s\n", srv.Username())
					return nil
				}
				fmt.Fprintf(out, "S: %s\n", challenge)
				var se *sasl.ServerError
				msg, err = client.Next(ctx, challenge)
				if err != nil && !errors.As(err, &se) {
					return err
				}
			}
			return errors.New("exchange did not finish")
		},
	}
	cmd.Flags().StringVarP(&mech, "mechanism", "m", "oauthbearer", "xoauth2 or oauthbearer")
	cmd.Flags().StringVarP(&user, "user", "u", "", "user name asserted by the client")
	cmd.Flags().StringVar(&tok, "token", "", "bearer token; obtained via client credentials when empty")
	return cmd
}
