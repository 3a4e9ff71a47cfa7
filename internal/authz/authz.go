// Package authz identifies the caller behind an API Gateway request.
//
// The identity is recorded as requestedBy on resubmission history entries.
// Requests without an identity are still served; this package does not
// enforce access.
package authz

import (
	"encoding/base64"
	"encoding/json"
	"strings"

	"github.com/aws/aws-lambda-go/events"
)

// Anonymous is returned by Caller when no identity can be found.
const Anonymous = ""

const devBypassHeader = "x-user-sub"

// identityClaims are checked in order on authorizer maps and token payloads.
var identityClaims = []string{"sub", "cognito:username", "principalId"}

// headerLookup returns the value of a header key from a map, ignoring case.
func headerLookup(h map[string]string, key string) string {
	for k, v := range h {
		if strings.EqualFold(k, key) {
			return v
		}
	}
	return ""
}

func stringIf(v any) string {
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s)
	}
	return ""
}

// fromClaims reads the first identity claim from a claims map, or from a
// JSON-encoded claims string.
func fromClaims(raw any) string {
	var m map[string]any
	switch c := raw.(type) {
	case map[string]any:
		m = c
	case map[string]string:
		m = make(map[string]any, len(c))
		for k, v := range c {
			m[k] = v
		}
	case string:
		if json.Unmarshal([]byte(c), &m) != nil {
			return ""
		}
	}

	for _, name := range identityClaims {
		if id := stringIf(m[name]); id != "" {
			return id
		}
	}
	return ""
}

// fromBearer reads the identity from an unverified JWT in the Authorization header.
func fromBearer(headers map[string]string) string {
	auth := strings.TrimSpace(headerLookup(headers, "Authorization"))
	if len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
		auth = strings.TrimSpace(auth[7:])
	}

	parts := strings.Split(auth, ".")
	if len(parts) != 3 {
		return ""
	}

	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return ""
	}
	return fromClaims(string(payload))
}

// Caller returns the identity of the user behind a REST (v1) request, or
// [Anonymous]. With devBypass the x-user-sub header is trusted first.
func Caller(req events.APIGatewayProxyRequest, devBypass bool) string {
	if devBypass {
		if sub := strings.TrimSpace(headerLookup(req.Headers, devBypassHeader)); sub != "" {
			return sub
		}
	}

	// Cognito authorizers nest the token claims under "claims"; Lambda authorizers put them at the top level.
	if m := req.RequestContext.Authorizer; m != nil {
		if id := fromClaims(m["claims"]); id != "" {
			return id
		}
		if id := fromClaims(m); id != "" {
			return id
		}
	}

	return fromBearer(req.Headers)
}
