// Package settings abstracts where configuration values come from. Hosts
// that embed the mechanisms usually own a key/value settings store (an
// imapd.conf style file, a getopt callback, the process environment); each
// of those is adapted to the single Source capability consumed by the
// config package.
package settings

import "strings"

// Source looks up a raw setting by its full key (for example
// "oauth2_issuers"). ok reports whether the key is present at all, which is
// distinct from being present with an empty value.
type Source interface {
	Lookup(key string) (value string, ok bool)
}

// Map is an in-memory Source.
type Map map[string]string

func (m Map) Lookup(key string) (string, bool) {
	v, ok := m[key]
	return v, ok
}

// Func adapts a host lookup callback to a Source.
type Func func(key string) (string, bool)

func (f Func) Lookup(key string) (string, bool) { return f(key) }

type chain []Source

// Chain returns a Source consulting srcs in order. The first source that
// has the key wins.
func Chain(srcs ...Source) Source {
	out := make(chain, 0, len(srcs))
	for _, s := range srcs {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

func (c chain) Lookup(key string) (string, bool) {
	for _, s := range c {
		if v, ok := s.Lookup(key); ok {
			return v, true
		}
	}
	return "", false
}

// StripPrefix returns a Source that looks up key without prefix on src. It
// serves hosts whose store already scopes values to the plugin, so that
// "oauth2_issuers" is stored as plain "issuers".
func StripPrefix(prefix string, src Source) Source {
	return Func(func(key string) (string, bool) {
		return src.Lookup(strings.TrimPrefix(key, prefix))
	})
}
