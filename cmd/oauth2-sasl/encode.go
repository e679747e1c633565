package main

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"github.com/ggoodman/oauth2-sasl-go/sasl"
	"github.com/spf13/cobra"
)

func mechanismName(s string) (string, error) {
	switch strings.ToUpper(s) {
	case sasl.XOAuth2:
		return sasl.XOAuth2, nil
	case sasl.OAuthBearer:
		return sasl.OAuthBearer, nil
	}
	return "", fmt.Errorf("unknown mechanism %q (want xoauth2 or oauthbearer)", s)
}

func newEncodeCmd() *cobra.Command {
	var (
		mech, user, host string
		port             int
		raw              bool
	)
	cmd := &cobra.Command{
		Use:   "encode <token|->",
		Short: "Print the initial client response for a token",
		Long: "Print the initial client response for a token, base64 encoded as it\n" +
			"appears in IMAP AUTHENTICATE or SMTP AUTH.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := mechanismName(mech)
			if err != nil {
				return err
			}
			tok, err := readToken(cmd, args[0])
			if err != nil {
				return err
			}
			var msg []byte
			if m == sasl.XOAuth2 {
				msg = sasl.EncodeXOAuth2(user, tok)
			} else {
				var kv []sasl.KV
				if host != "" {
					kv = append(kv, sasl.KV{Key: "host", Value: host})
				}
				if port > 0 {
					kv = append(kv, sasl.KV{Key: "port", Value: strconv.Itoa(port)})
				}
				msg = sasl.EncodeOAuthBearer(user, tok, kv...)
			}
			if raw {
				_, err := cmd.OutOrStdout().Write(msg)
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), base64.StdEncoding.EncodeToString(msg))
			return nil
		},
	}
	cmd.Flags().StringVarP(&mech, "mechanism", "m", "xoauth2", "xoauth2 or oauthbearer")
	cmd.Flags().StringVarP(&user, "user", "u", "", "user name (authzid for oauthbearer)")
	cmd.Flags().StringVar(&host, "host", "", "oauthbearer host pair")
	cmd.Flags().IntVar(&port, "port", 0, "oauthbearer port pair")
	cmd.Flags().BoolVar(&raw, "raw", false, "write the message without base64 encoding")
	return cmd
}
