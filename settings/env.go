package settings

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/joeshaw/envdecode"
)

// envSettings lists every key understood by the config package. The field
// tags name the environment variable; the map key is derived from it by
// lower-casing.
type envSettings struct {
	DiscoveryURL    string `env:"OAUTH2_DISCOVERY_URL"`
	DiscoveryURLs   string `env:"OAUTH2_DISCOVERY_URLS"`
	Issuer          string `env:"OAUTH2_ISSUER"`
	Issuers         string `env:"OAUTH2_ISSUERS"`
	ClientID        string `env:"OAUTH2_CLIENT_ID"`
	ClientSecret    string `env:"OAUTH2_CLIENT_SECRET"`
	Audience        string `env:"OAUTH2_AUDIENCE"`
	Audiences       string `env:"OAUTH2_AUDIENCES"`
	Scope           string `env:"OAUTH2_SCOPE"`
	UserClaim       string `env:"OAUTH2_USER_CLAIM"`
	VerifySignature string `env:"OAUTH2_VERIFY_SIGNATURE"`
	SSLVerify       string `env:"OAUTH2_SSL_VERIFY"`
	Timeout         string `env:"OAUTH2_TIMEOUT"`
	Debug           string `env:"OAUTH2_DEBUG"`
	ClockSkew       string `env:"OAUTH2_CLOCK_SKEW"`
	UserMatch       string `env:"OAUTH2_USER_MATCH"`
	Cache           string `env:"OAUTH2_CACHE"`
	CacheTTL        string `env:"OAUTH2_CACHE_TTL"`
	CacheRedisAddr  string `env:"OAUTH2_CACHE_REDIS_ADDR"`
	CachePrefix     string `env:"OAUTH2_CACHE_PREFIX"`
	MaxSessions     string `env:"OAUTH2_MAX_SESSIONS"`
}

// FromEnv snapshots the OAUTH2_* environment variables into a Map. A
// variable set to the empty string is treated as absent.
func FromEnv() (Map, error) {
	var es envSettings
	if err := envdecode.Decode(&es); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("settings: decode environment: %w", err)
	}

	out := Map{}
	v := reflect.ValueOf(es)
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		val := v.Field(i).String()
		if val == "" {
			continue
		}
		name, _, _ := strings.Cut(t.Field(i).Tag.Get("env"), ",")
		out[strings.ToLower(name)] = val
	}
	return out, nil
}
