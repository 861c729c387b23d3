package endpoint

import (
	"os"
	"regexp"

	"gopkg.in/yaml.v2"
)

// DenyEntry is one denylist rule: a path regex and the reason it's
// refused, surfaced in the error Open returns when a path matches.
type DenyEntry struct {
	PathRegex string `yaml:"path_regex"`
	Reason    string `yaml:"reason"`

	compiled *regexp.Regexp
}

// DenyList is a loaded, compiled set of DenyEntry rules, consulted by
// Open before it touches a path at all. Its purpose mirrors
// smartmontools' drivedb: an externally maintained table an operator can
// extend without a rebuild, here listing device paths (boot disks,
// devices under another tool's management) this engine should refuse to
// open rather than model/firmware strings.
type DenyList struct {
	Entries []DenyEntry `yaml:"entries"`
}

// LoadDenyList reads and compiles a yaml denylist file. An entry whose
// path_regex fails to compile is skipped rather than failing the whole
// load, since a single bad line shouldn't leave every other rule
// unenforced.
func LoadDenyList(path string) (*DenyList, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var dl DenyList
	dec := yaml.NewDecoder(f)
	if err := dec.Decode(&dl); err != nil {
		return nil, err
	}
	for i, e := range dl.Entries {
		re, err := regexp.Compile(e.PathRegex)
		if err != nil {
			continue
		}
		dl.Entries[i].compiled = re
	}
	return &dl, nil
}

// Denied reports whether path matches a rule, and if so, the rule's
// reason. A nil DenyList denies nothing.
func (dl *DenyList) Denied(path string) (bool, string) {
	if dl == nil {
		return false, ""
	}
	for _, e := range dl.Entries {
		if e.compiled != nil && e.compiled.MatchString(path) {
			return true, e.Reason
		}
	}
	return false, ""
}
