// Package edgegrid loads API client credentials from an INI credential file
// and signs outgoing requests with the EG1-HMAC-SHA256 scheme.
package edgegrid

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-ini/ini"
)

// DefaultMaxBody is the number of request body bytes covered by the content hash.
const DefaultMaxBody = 131072

// ErrMissingCredential is returned when a section lacks a required key.
var ErrMissingCredential = errors.New("credential section is incomplete")

// Credentials is one section of the credential file.
type Credentials struct {
	Host         string
	ClientToken  string
	ClientSecret string
	AccessToken  string
	MaxBody      int

	// Optional browser session cookies forwarded on every call.
	Cookies map[string]string
}

// cookie keys recognised in a section, mapped to the cookie name sent upstream
var sessionCookies = map[string]string{
	"akasso":     "AKASSO",
	"xsrf_token": "XSRF-TOKEN",
	"akatoken":   "AKATOKEN",
}

// LoadCredentials reads section from the INI file at path.
func LoadCredentials(path, section string) (Credentials, error) {
	f, err := ini.Load(path)
	if err != nil {
		return Credentials{}, fmt.Errorf("loading credential file %s: %w", path, err)
	}
	sec, err := f.GetSection(section)
	if err != nil {
		return Credentials{}, fmt.Errorf("section [%s] not found in %s", section, path)
	}

	creds := Credentials{
		Host:         strings.TrimSuffix(strings.TrimPrefix(sec.Key("host").String(), "https://"), "/"),
		ClientToken:  sec.Key("client_token").String(),
		ClientSecret: sec.Key("client_secret").String(),
		AccessToken:  sec.Key("access_token").String(),
		MaxBody:      sec.Key("max-body").MustInt(DefaultMaxBody),
	}
	for key, name := range sessionCookies {
		if v := sec.Key(key).String(); v != "" {
			if creds.Cookies == nil {
				creds.Cookies = make(map[string]string)
			}
			creds.Cookies[name] = v
		}
	}

	if err := creds.Validate(); err != nil {
		return Credentials{}, fmt.Errorf("section [%s]: %w", section, err)
	}
	return creds, nil
}

// Validate reports which required keys are missing.
func (c Credentials) Validate() error {
	var missing []string
	if c.Host == "" {
		missing = append(missing, "host")
	}
	if c.ClientToken == "" {
		missing = append(missing, "client_token")
	}
	if c.ClientSecret == "" {
		missing = append(missing, "client_secret")
	}
	if c.AccessToken == "" {
		missing = append(missing, "access_token")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrMissingCredential, strings.Join(missing, ", "))
	}
	return nil
}

// BaseURL is the https origin for the section's host.
func (c Credentials) BaseURL() string {
	return "https://" + c.Host
}

// attachCookies adds the optional session cookies to req.
func (c Credentials) attachCookies(req *http.Request) {
	for name, value := range c.Cookies {
		req.AddCookie(&http.Cookie{Name: name, Value: value})
	}
}
