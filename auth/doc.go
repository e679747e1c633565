// Package auth validates OAuth 2.0 / OpenID Connect bearer tokens presented
// during SASL authentication and reports a user name.
//
// The public surface stays small: an Authenticator validates a raw bearer
// token string and returns a UserInfo (or an error). The sasl package is
// responsible for extracting the token from the client's message and mapping
// errors into mechanism responses.
//
// # Validation
//
// New builds an Authenticator from a loaded config.Config and a
// metadata.Resolver. Checks run in a fixed order and the first failure is
// reported: token structure, exp/nbf/iat, issuer, audience, signature and
// finally the user name claim.
//
// Example:
//
//	cfg, err := config.Load(settings.Map{
//	    "oauth2_issuers":   "https://accounts.example.com",
//	    "oauth2_client_id": "mail",
//	})
//	if err != nil { log.Fatal(err) }
//	authn, err := auth.New(cfg, metadata.NewHTTPResolver(memory.New()))
//	if err != nil { log.Fatal(err) }
//
//	ui, err := authn.CheckAuthentication(ctx, bearerToken)
//	if errors.Is(err, auth.ErrExpired) { /* ask the client to refresh */ }
//	user := ui.Username()
//
// # Signatures
//
// Only asymmetric algorithms are accepted: RS256/384/512, PS256/384/512,
// ES256/384/512 and EdDSA. Keys are selected by the token's "kid"; a kid the
// cached key set does not know triggers a rate-limited refresh so that key
// rotation at the provider is picked up without waiting for the cache to
// expire.
//
// # Errors
//
// Every failure wraps one of the exported sentinels. IsValidationError
// separates verdicts about the token (ErrExpired, ErrSignatureInvalid, and
// so on) from ErrNetwork and ErrInternal, which describe the server's own
// trouble.
package auth
