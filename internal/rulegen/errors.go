package rulegen

import "github.com/forgebuild/forge/internal/forgeerr"

func generatorFailed(name string, cause error) error {
	return forgeerr.New(forgeerr.KindConfig, "", "generator %q failed: %v", name, cause)
}
