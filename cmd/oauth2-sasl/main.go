// Command oauth2-sasl inspects and exercises an OAuth 2.0 SASL
// configuration: it prints the effective settings, fetches provider
// metadata, validates tokens and runs complete XOAUTH2 or OAUTHBEARER
// exchanges in process.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
