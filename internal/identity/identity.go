// Package identity authenticates the parties of the system.
//
// Owners and renters present HS256 bearer tokens issued by UserTokenIssuer.
// RequireUserToken enforces a valid token on a route group and
// UserClaimsFromCtx reads the verified claims back in handlers.
package identity

import "errors"

// ErrInvalidToken is returned by Verify for any token that fails parsing,
// signature, issuer or expiry checks.
var ErrInvalidToken = errors.New("invalid user token")

// MinSecretLength is the minimum HMAC secret length accepted by
// NewUserTokenIssuer.
const MinSecretLength = 32

const ctxUserClaims = "sublease_user_claims"
