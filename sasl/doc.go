// Package sasl implements the XOAUTH2 and OAUTHBEARER (RFC 7628) SASL
// mechanisms on top of an auth.Authenticator.
//
// A ServerSession is created per authentication attempt and fed each client
// message through Next. XOAUTH2 finishes in one round. OAUTHBEARER answers
// any failure with a JSON error continuation and only reports the failure
// after the client acknowledges it:
//
//	sess, _ := sasl.NewServerSession(sasl.OAuthBearer, authn)
//	defer sess.Close()
//	challenge, done, err := sess.Next(ctx, initialResponse)
//	for !done {
//	    resp := sendAndReceive(challenge)
//	    challenge, done, err = sess.Next(ctx, resp)
//	}
//	switch sasl.CodeOf(err) {
//	case sasl.CodeOK:
//	    log.Printf("authenticated %s", sess.Username())
//	case sasl.CodeRejected:
//	    // bad credentials
//	}
//
// Client builds the client messages from an oauth2.TokenSource.
package sasl
