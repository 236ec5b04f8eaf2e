// Package enrich holds the pure derivations applied to property rows:
// environment guess, console deep link, hyperlink formula and date display.
package enrich

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// DefaultConsoleURL is the web console that property links point at.
const DefaultConsoleURL = "https://control.akamai.com"

// Environment tags returned by Env.
const (
	EnvDev     = "dev"
	EnvQA      = "qa"
	EnvUAT     = "uat"
	EnvTest    = "test"
	EnvStaging = "staging"
	EnvProd    = "prod"
)

var envPatterns = []struct {
	re  *regexp.Regexp
	env string
}{
	{regexp.MustCompile(`(^|[^a-z])dev(el|elop|elopment)?[0-9]*($|[^a-z])`), EnvDev},
	{regexp.MustCompile(`(^|[^a-z])qa[0-9]*($|[^a-z])`), EnvQA},
	{regexp.MustCompile(`(^|[^a-z])uat[0-9]*($|[^a-z])`), EnvUAT},
	{regexp.MustCompile(`(^|[^a-z])test(ing)?[0-9]*($|[^a-z])`), EnvTest},
	{regexp.MustCompile(`(^|[^a-z])(stg|stag|stage|staging)[0-9]*($|[^a-z])`), EnvStaging},
}

// Env guesses the environment of a property from its name. Tokens are
// matched on non-letter boundaries; anything unrecognised is production.
func Env(propertyName string) string {
	name := strings.ToLower(propertyName)
	for _, p := range envPatterns {
		if p.re.MatchString(name) {
			return p.env
		}
	}
	return EnvProd
}

// PropertyURL builds the console deep link for a property version. It
// returns "" when the asset id is unknown.
func PropertyURL(consoleURL string, assetID int64, version int, groupID int64) string {
	if assetID == 0 {
		return ""
	}
	if consoleURL == "" {
		consoleURL = DefaultConsoleURL
	}
	return fmt.Sprintf("%s/apps/property-manager/#/property-version/%d/%d/edit?gid=%d",
		strings.TrimSuffix(consoleURL, "/"), assetID, version, groupID)
}

// Hyperlink wraps url and label into a spreadsheet HYPERLINK formula
// (without the leading "="). Anything that is not an http(s) URL yields
// the plain label.
func Hyperlink(url, label string) string {
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return label
	}
	return fmt.Sprintf(`HYPERLINK("%s","%s")`, quote(url), quote(label))
}

func quote(s string) string {
	return strings.ReplaceAll(s, `"`, `""`)
}

// UpdatedDate renders an API timestamp as "2006-01-02 15:04" UTC. Values that
// do not parse are returned unchanged.
func UpdatedDate(ts string) string {
	t, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		return ts
	}
	return t.UTC().Format("2006-01-02 15:04")
}
