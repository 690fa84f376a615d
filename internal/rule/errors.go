package rule

import (
	"strings"

	"github.com/forgebuild/forge/internal/forgeerr"
)

func duplicateRule(name string) error {
	return forgeerr.New(forgeerr.KindConfig, name, "duplicate rule name")
}

func unknownDependency(rule, dep string) error {
	return forgeerr.New(forgeerr.KindConfig, rule, "unknown dependency %q", dep)
}

func cycleDetected(path []string) error {
	return forgeerr.New(forgeerr.KindConfig, "", "cycle detected: %s", strings.Join(path, " -> "))
}

func outputCollision(a, b, path string) error {
	return forgeerr.New(forgeerr.KindConfig, "", "rules %q and %q both declare output %q", a, b, path)
}

func missingInput(rule, path string) error {
	return forgeerr.New(forgeerr.KindConfig, rule, "input %q is neither a pre-existing file nor produced by a dependency", path)
}

func invalidRule(name string, err error) error {
	return forgeerr.New(forgeerr.KindConfig, name, "invalid rule: %v", err)
}
