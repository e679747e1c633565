package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ggoodman/oauth2-sasl-go/auth"
	"github.com/ggoodman/oauth2-sasl-go/metadata"
	"github.com/spf13/cobra"
)

// readToken returns arg, or the first line of stdin when arg is "-".
func readToken(cmd *cobra.Command, arg string) (string, error) {
	if arg != "-" {
		return arg, nil
	}
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func newValidateCmd(g *globalFlags) *cobra.Command {
	var showClaims bool
	cmd := &cobra.Command{
		Use:   "validate <token|->",
		Short: "Validate a bearer token the way a server session would",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.load(cmd)
			if err != nil {
				return err
			}
			tok, err := readToken(cmd, args[0])
			if err != nil {
				return err
			}
			var r metadata.Resolver
			if cfg.VerifySignature {
				r = newResolver(cmd, g, cfg)
			}
			authn, err := auth.New(cfg, r, auth.WithLogger(g.logger(cmd)))
			if err != nil {
				return err
			}
			ui, err := authn.CheckAuthentication(cmd.Context(), tok)
			if err != nil {
				return fmt.Errorf("rejected (%s): %w", auth.Reason(err), err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "username: %s\nissuer:   %s\n", ui.Username(), ui.Issuer())
			if ui.Endpoint() != "" {
				fmt.Fprintf(out, "endpoint: %s\n", ui.Endpoint())
			}
			if showClaims {
				var claims map[string]any
				if err := ui.Claims(&claims); err != nil {
					return err
				}
				b, err := json.MarshalIndent(claims, "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintln(out, string(b))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&showClaims, "claims", false, "print the token's claims")
	return cmd
}
