package ticket

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// idByteLength is the width of the random ticket identifier before hex
// encoding: 32 bytes become a 64-char lowercase hex string.
const idByteLength = 32

// Issuer mints opaque ticket identifiers for a subject, the HTTP-facing
// half of the Ticket Issuer.
type Issuer struct {
	manager *Manager
}

// NewIssuer wires an Issuer against the given Manager.
func NewIssuer(m *Manager) *Issuer {
	return &Issuer{manager: m}
}

// Issue generates a random ticket id, persists a ticket for subject under
// it, and returns the id alongside the TTL the caller should report.
func (i *Issuer) Issue(ctx context.Context, subject string) (id string, ttl int, err error) {
	id, err = generateID()
	if err != nil {
		return "", 0, fmt.Errorf("generate ticket id: %w", err)
	}
	if err := i.manager.Issue(ctx, id, subject); err != nil {
		return "", 0, err
	}
	return id, int(TTL.Seconds()), nil
}

func generateID() (string, error) {
	buf := make([]byte, idByteLength)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
