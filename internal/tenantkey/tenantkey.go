// Package tenantkey derives canonical tenant and owner identifiers from
// request headers. The contact service keys its databases directly by the
// Ts-Tenant-Id header; the events service derives an owner id from a fake
// bearer token and scopes rows by it.
package tenantkey

import (
	"regexp"
	"strings"

	"github.com/google/uuid"

	"tenantapi/internal/apperr"
)

// HeaderTenantID carries the contact service's tenant identifier.
const HeaderTenantID = "Ts-Tenant-Id"

var (
	keyPattern   = regexp.MustCompile(`^\w+$`)
	tokenPattern = regexp.MustCompile(`^[\w-]+$`)
)

// Sanitize validates a raw tenant id against the database-name contract:
// alphanumeric characters and underscores only.
func Sanitize(raw string) (string, error) {
	if !keyPattern.MatchString(raw) {
		return "", apperr.Validationf("Invalid tenant ID. Only alphanumeric characters and underscores are allowed.")
	}
	return raw, nil
}

// DatabaseName maps a tenant key to its database name.
func DatabaseName(key string) string {
	return key + "db"
}

// FromBearer extracts the owner id from an Authorization header value.
// With requireUUID the token must parse as a UUID (the stricter variant);
// otherwise any opaque token of word characters and dashes is accepted.
// A "Bearer " prefix is optional either way.
func FromBearer(header string, requireUUID bool) (string, error) {
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		return "", apperr.Unauthorizedf("Authorization header is required")
	}
	if requireUUID {
		id, err := uuid.Parse(token)
		if err != nil {
			return "", apperr.Unauthorizedf("Invalid token format. Must be a valid UUID.")
		}
		return id.String(), nil
	}
	if !tokenPattern.MatchString(token) {
		return "", apperr.Unauthorizedf("Invalid token format.")
	}
	return token, nil
}
