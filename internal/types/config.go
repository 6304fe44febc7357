package types

import "strings"

// MaskedSecret replaces credential values whenever an integration config is read.
const MaskedSecret = "••••••••"

// secretKeys are config keys whose values never leave the service unmasked.
var secretKeys = map[string]bool{
	"access_token":  true,
	"api_token":     true,
	"api_key":       true,
	"client_secret": true,
	"password":      true,
	"private_key":   true,
	"refresh_token": true,
}

// IntegrationConfig holds opaque provider settings and credentials.
type IntegrationConfig map[string]string

// IsSecretKey reports whether the config key holds a credential.
func IsSecretKey(key string) bool {
	return secretKeys[strings.ToLower(key)]
}

// Get returns the value for key, or "" when absent.
func (c IntegrationConfig) Get(key string) string {
	if c == nil {
		return ""
	}
	return c[key]
}

// Masked returns a copy with every present credential key, empty or not,
// replaced by MaskedSecret.
func (c IntegrationConfig) Masked() IntegrationConfig {
	out := make(IntegrationConfig, len(c))
	for k, v := range c {
		if IsSecretKey(k) {
			out[k] = MaskedSecret
			continue
		}
		out[k] = v
	}
	return out
}

// MergeSecrets returns incoming with any masked credential restored from
// existing, so a client that round-trips a masked config does not overwrite
// the real secret with the placeholder.
func (c IntegrationConfig) MergeSecrets(existing IntegrationConfig) IntegrationConfig {
	out := make(IntegrationConfig, len(c))
	for k, v := range c {
		if IsSecretKey(k) && v == MaskedSecret {
			if prev, ok := existing[k]; ok {
				out[k] = prev
				continue
			}
		}
		out[k] = v
	}
	return out
}
