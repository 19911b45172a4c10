// Package credentials mints the short lived RS256 tokens a client presents
// to the sync service.
package credentials

import (
	"context"
	"crypto/rsa"
	"fmt"
	"time"

	"github.com/breez/todo-sync/middleware"
	"github.com/breez/todo-sync/model"
	"github.com/golang-jwt/jwt/v5"
	log "github.com/sirupsen/logrus"
)

const DefaultTTL = time.Hour

type Options struct {
	PrivateKey *rsa.PrivateKey
	ProjectID  string
	Issuer     string
	Endpoint   string
	TTL        time.Duration
}

// Claims carried by a sync credential.
type Claims struct {
	jwt.RegisteredClaims
	UserID string `json:"user_id"`
}

type Issuer struct {
	opts Options
	now  func() time.Time
}

// NewIssuer fails with model.ErrConfig when no signing key or project is configured.
func NewIssuer(opts Options) (*Issuer, error) {
	if opts.PrivateKey == nil {
		return nil, fmt.Errorf("%w: signing key is not configured", model.ErrConfig)
	}
	if opts.ProjectID == "" {
		return nil, fmt.Errorf("%w: project id is not configured", model.ErrConfig)
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	return &Issuer{opts: opts, now: time.Now}, nil
}

// Issue mints a credential for the user authenticated on ctx. The identity
// is never taken from the caller directly.
func (i *Issuer) Issue(ctx context.Context) (*model.Credential, error) {
	userID, ok := middleware.UserIDFromContext(ctx)
	if !ok {
		return nil, fmt.Errorf("%w: no authenticated session", model.ErrAuth)
	}

	now := i.now()
	expiresAt := now.Add(i.opts.TTL)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    i.opts.Issuer,
			Audience:  jwt.ClaimStrings{i.opts.ProjectID},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		UserID: userID,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(i.opts.PrivateKey)
	if err != nil {
		log.Errorf("failed to sign credential for user %v: %v", userID, err)
		return nil, fmt.Errorf("%w: sign credential: %v", model.ErrInternal, err)
	}
	log.Debugf("issued credential for user %v", userID)

	return &model.Credential{
		Endpoint:  i.opts.Endpoint,
		Token:     token,
		ExpiresAt: time.Unix(expiresAt.Unix(), 0).UTC(),
	}, nil
}

// Verifier checks credentials minted by an Issuer holding the matching
// private key.
type Verifier struct {
	key       *rsa.PublicKey
	projectID string
	issuer    string
}

func NewVerifier(key *rsa.PublicKey, projectID, issuer string) *Verifier {
	return &Verifier{key: key, projectID: projectID, issuer: issuer}
}

// Verify returns the user id bound to a valid credential token.
func (v *Verifier) Verify(token string) (string, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return v.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithAudience(v.projectID),
		jwt.WithIssuer(v.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %v", model.ErrAuth, err)
	}
	if claims.UserID == "" {
		return "", fmt.Errorf("%w: credential has no user_id", model.ErrAuth)
	}
	return claims.UserID, nil
}
