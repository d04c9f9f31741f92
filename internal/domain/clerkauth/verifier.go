// Package clerkauth verifies identity-provider bearer tokens presented to
// the ticket issuer, extracting the subject claim used to mint tickets.
package clerkauth

import (
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Verifier checks asymmetrically signed bearer tokens against a configured
// public key and extracts the subject claim. Unlike the symmetric
// sign-and-verify helper it is adapted from, a Verifier never signs tokens;
// it only authenticates ones issued elsewhere.
type Verifier struct {
	publicKey         any
	authorizedParties []string
}

// NewVerifier parses a PEM-encoded RSA or EC public key (the process
// configuration's CLERK_JWT_KEY) and builds a Verifier against it.
func NewVerifier(pemKey string) (*Verifier, error) {
	if pemKey == "" {
		return nil, errors.New("clerk jwt key must not be empty")
	}
	block, _ := pem.Decode([]byte(pemKey))
	if block == nil {
		return nil, errors.New("clerk jwt key is not valid PEM")
	}

	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse clerk jwt public key: %w", err)
	}
	switch key.(type) {
	case *rsa.PublicKey, *ecdsa.PublicKey:
	default:
		return nil, fmt.Errorf("unsupported clerk jwt key type %T", key)
	}
	return &Verifier{publicKey: key}, nil
}

// WithAuthorizedParties restricts Verify to tokens whose "azp" claim names
// one of parties. An empty list (the default) skips the check, matching
// Clerk's own behavior when no authorized parties are configured.
func (v *Verifier) WithAuthorizedParties(parties []string) *Verifier {
	v.authorizedParties = parties
	return v
}

// Verify validates tokenString's signature and expiry, returning the
// subject (the "sub" claim) on success.
func (v *Verifier) Verify(tokenString string) (subject string, err error) {
	if v == nil {
		return "", errors.New("clerk verifier is nil")
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		switch token.Method.(type) {
		case *jwt.SigningMethodRSA, *jwt.SigningMethodECDSA:
			return v.publicKey, nil
		default:
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
	})
	if err != nil {
		return "", fmt.Errorf("parse bearer token: %w", err)
	}
	if !token.Valid {
		return "", errors.New("invalid bearer token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", errors.New("invalid claims")
	}
	subject, ok = claims["sub"].(string)
	if !ok || subject == "" {
		return "", errors.New("missing sub claim")
	}

	if len(v.authorizedParties) > 0 {
		azp, _ := claims["azp"].(string)
		authorized := false
		for _, party := range v.authorizedParties {
			if azp == party {
				authorized = true
				break
			}
		}
		if !authorized {
			return "", errors.New("azp claim not in authorized parties")
		}
	}

	return subject, nil
}
