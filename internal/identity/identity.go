// Package identity resolves the tenant an API client is acting on.
package identity

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/edgeops/edgectl/internal/client"
)

// ErrNoSwitchContext means the API client is not allowed to switch into the
// requested account. It is terminal.
var ErrNoSwitchContext = errors.New("ERROR_NO_SWITCH_CONTEXT: API client cannot switch to this account")

// Client is the identity-management adapter.
type Client struct {
	c *client.Client
}

// New creates an identity client.
func New(c *client.Client) *Client {
	return &Client{c: c}
}

// AccountSwitchKey is one entry of the switch-key search.
type AccountSwitchKey struct {
	AccountSwitchKey string `json:"accountSwitchKey"`
	AccountName      string `json:"accountName"`
}

// LookupAccount returns the account a switch key points at.
func (i *Client) LookupAccount(ctx context.Context, switchKey string) (AccountSwitchKey, error) {
	search := strings.SplitN(switchKey, ":", 2)[0]
	resp, err := i.c.Get(ctx, "/identity-management/v3/api-clients/self/account-switch-keys",
		url.Values{"search": {search}}, nil)
	if err != nil {
		return AccountSwitchKey{}, err
	}
	if bytes.Contains(resp.Body, []byte("ERROR_NO_SWITCH_CONTEXT")) {
		return AccountSwitchKey{}, ErrNoSwitchContext
	}
	if err := client.Expect("lookup account switch key", resp); err != nil {
		return AccountSwitchKey{}, err
	}

	var keys []AccountSwitchKey
	if err := resp.JSON(&keys); err != nil {
		return AccountSwitchKey{}, err
	}
	for _, k := range keys {
		if k.AccountSwitchKey == switchKey {
			return k, nil
		}
	}
	if len(keys) > 0 {
		return keys[0], nil
	}
	return AccountSwitchKey{}, fmt.Errorf("account switch key %s not found", switchKey)
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// DirName turns an account name into a single safe path component.
func DirName(accountName string) string {
	name := strings.Trim(unsafeChars.ReplaceAllString(strings.TrimSpace(accountName), "_"), "_")
	if name == "" {
		return "default"
	}
	return name
}
