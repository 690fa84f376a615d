package fingerprint

import "github.com/forgebuild/forge/internal/forgeerr"

func unknownRule(name string) error {
	return forgeerr.New(forgeerr.KindConfig, name, "fingerprint: rule not found in graph")
}

func hashInputFailed(rule, path string, err error) error {
	return forgeerr.New(forgeerr.KindIO, rule, "hashing input %q: %v", path, err)
}
