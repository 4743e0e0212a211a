package session

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// IdentityClaims is the part of a bearer token payload the cockpit reads.
// Other registered claims are ignored whatever their type.
type IdentityClaims struct {
	Subject  string `json:"sub"`
	RegionID string `json:"regionId,omitempty"`
}

var segmentParser = jwt.NewParser(jwt.WithPaddingAllowed())

// DecodeClaims reads the payload segment of a header.payload.signature token.
// The signature is not checked. Any malformed input yields nil.
func DecodeClaims(token string) *IdentityClaims {
	if token == "" {
		return nil
	}
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil
	}

	payload, err := segmentParser.DecodeSegment(parts[1])
	if err != nil {
		return nil
	}
	payload = bytes.TrimSpace(payload)
	if len(payload) == 0 || payload[0] != '{' {
		return nil
	}

	var claims IdentityClaims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil
	}
	return &claims
}
