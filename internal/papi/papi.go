// Package papi is the request/response adapter for the property management API:
// bulk jobs, property versions, rule trees, activations and groups.
//
// Every call carries PAPI-Use-Prefixes: false so identifiers come back as bare
// values (numeric property, group and asset ids).
package papi

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"strconv"
	"strings"

	"github.com/edgeops/edgectl/internal/client"
)

const basePath = "/papi/v1"

// Status values shared by bulk jobs and their rows.
const (
	StatusComplete        = "COMPLETE"
	StatusInProgress      = "IN_PROGRESS"
	StatusPending         = "PENDING"
	StatusSubmissionError = "SUBMISSION_ERROR"
	StatusActive          = "ACTIVE"
	StatusInactive        = "INACTIVE"
)

// Networks as the API spells them.
const (
	NetworkStaging    = "STAGING"
	NetworkProduction = "PRODUCTION"
)

// Client wraps the shared signed client with property-API conventions.
type Client struct {
	c *client.Client
}

// New creates a property API client.
func New(c *client.Client) *Client {
	return &Client{c: c}
}

func headers() map[string]string {
	return map[string]string{"PAPI-Use-Prefixes": "false"}
}

func (p *Client) get(ctx context.Context, path string, query url.Values) (*client.Response, error) {
	return p.c.Get(ctx, basePath+path, query, headers())
}

func (p *Client) post(ctx context.Context, path string, query url.Values, body any) (*client.Response, error) {
	return p.c.PostJSON(ctx, basePath+path, query, body, headers())
}

// getJSON performs a GET that must succeed and decodes the body into out.
func (p *Client) getJSON(ctx context.Context, op, path string, query url.Values, out any) error {
	resp, err := p.get(ctx, path, query)
	if err != nil {
		return err
	}
	if err := client.Expect(op, resp); err != nil {
		return err
	}
	return resp.JSON(out)
}

// IDFromLink extracts the trailing numeric id from a resource link such as
// /papi/v1/bulk/rules-search-requests/5?contractId=1.
func IDFromLink(link string) (int64, error) {
	u, err := url.Parse(link)
	if err != nil {
		return 0, fmt.Errorf("parsing link %q: %w", link, err)
	}
	id, err := strconv.ParseInt(path.Base(strings.TrimSuffix(u.Path, "/")), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("no id in link %q", link)
	}
	return id, nil
}

// Network normalizes staging/production to the API spelling.
func Network(n string) string {
	return strings.ToUpper(strings.TrimSpace(n))
}
