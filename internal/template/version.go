package template

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/waabox/bgrelease/internal/domain"
)

// DefaultVersionVariable is the constant holding the served version in the sample app.
const DefaultVersionVariable = "APP_VERSION"

func versionPattern(variable string) *regexp.Regexp {
	return regexp.MustCompile(`const ` + regexp.QuoteMeta(variable) + ` = "([^"\n]*)";?`)
}

// CurrentVersion returns the label assigned to variable in content.
func CurrentVersion(content []byte, variable string) (string, bool) {
	m := versionPattern(variable).FindSubmatch(content)
	if m == nil {
		return "", false
	}
	return string(m[1]), true
}

// RewriteVersion sets `const <variable> = "<label>";` in content. The written form
// matches the pattern it is found with, so applying the same label twice yields the
// same bytes as applying it once.
func RewriteVersion(content []byte, variable, label string) ([]byte, error) {
	if strings.ContainsAny(label, "\"\n") {
		return nil, fmt.Errorf("version label %q contains a quote or newline: %w", label, domain.ErrConfiguration)
	}
	re := versionPattern(variable)
	if !re.Match(content) {
		return nil, fmt.Errorf("version marker `const %s = \"...\"` not found: %w", variable, domain.ErrConfiguration)
	}
	return re.ReplaceAllLiteral(content, []byte(`const `+variable+` = "`+label+`";`)), nil
}

// RewriteVersionFile applies RewriteVersion to path in place. changed reports whether the
// file content differs from before.
func RewriteVersionFile(path, variable, label string) (changed bool, err error) {
	info, err := os.Stat(path)
	if err != nil {
		return false, fmt.Errorf("application source %s: %v: %w", path, err, domain.ErrConfiguration)
	}
	before, err := os.ReadFile(path)
	if err != nil {
		return false, fmt.Errorf("reading %s: %w", path, err)
	}
	after, err := RewriteVersion(before, variable, label)
	if err != nil {
		return false, fmt.Errorf("%s: %w", path, err)
	}
	if string(after) == string(before) {
		return false, nil
	}
	if err := os.WriteFile(path, after, info.Mode().Perm()); err != nil {
		return false, fmt.Errorf("writing %s: %w", path, err)
	}
	return true, nil
}
