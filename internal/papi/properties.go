package papi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/edgeops/edgectl/internal/client"
)

// Version is one entry of a property's version list.
type Version struct {
	PropertyVersion  int    `json:"propertyVersion"`
	UpdatedDate      string `json:"updatedDate,omitempty"`
	ProductionStatus string `json:"productionStatus"`
	StagingStatus    string `json:"stagingStatus"`
	ProductID        string `json:"productId,omitempty"`
	RuleFormat       string `json:"ruleFormat,omitempty"`
	Note             string `json:"note,omitempty"`
}

// Locked reports whether the version has ever been activated on any network
// and so can no longer be edited.
func (v Version) Locked() bool {
	return (v.ProductionStatus != "" && v.ProductionStatus != StatusInactive) ||
		(v.StagingStatus != "" && v.StagingStatus != StatusInactive)
}

// VersionList is the response of the property version listing.
type VersionList struct {
	PropertyID   int64  `json:"propertyId"`
	PropertyName string `json:"propertyName"`
	ContractID   string `json:"contractId"`
	GroupID      int64  `json:"groupId"`
	AssetID      int64  `json:"assetId"`
	Versions     struct {
		Items []Version `json:"items"`
	} `json:"versions"`
}

// Latest returns the highest version number, 0 when the list is empty.
func (l *VersionList) Latest() int {
	latest := 0
	for _, v := range l.Versions.Items {
		if v.PropertyVersion > latest {
			latest = v.PropertyVersion
		}
	}
	return latest
}

// ListVersions returns every version of a property.
func (p *Client) ListVersions(ctx context.Context, propertyID int64) (*VersionList, error) {
	var out VersionList
	if err := p.getJSON(ctx, "list versions", fmt.Sprintf("/properties/%d/versions", propertyID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetVersion returns the raw property-version record. Callers pull individual
// keys from it with ParseRecord.
func (p *Client) GetVersion(ctx context.Context, propertyID int64, version int) (*client.Response, error) {
	return p.get(ctx, fmt.Sprintf("/properties/%d/versions/%d", propertyID, version), nil)
}

// GetHostnames returns the edge hostnames attached to a property version.
func (p *Client) GetHostnames(ctx context.Context, propertyID int64, version int) ([]string, error) {
	var out struct {
		Hostnames struct {
			Items []struct {
				CnameFrom string `json:"cnameFrom"`
			} `json:"items"`
		} `json:"hostnames"`
	}
	path := fmt.Sprintf("/properties/%d/versions/%d/hostnames", propertyID, version)
	if err := p.getJSON(ctx, "get hostnames", path, nil, &out); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(out.Hostnames.Items))
	for _, h := range out.Hostnames.Items {
		names = append(names, h.CnameFrom)
	}
	return names, nil
}

// RuleTree is a property version's rule configuration. Rules is kept as a
// generic JSON object; only the default rule's behaviors are ever inspected.
type RuleTree struct {
	PropertyID      int64          `json:"propertyId"`
	PropertyVersion int            `json:"propertyVersion"`
	RuleFormat      string         `json:"ruleFormat"`
	Comments        string         `json:"comments,omitempty"`
	Rules           map[string]any `json:"rules"`
}

// GetRuleTree fetches the full rule tree of a version.
func (p *Client) GetRuleTree(ctx context.Context, propertyID int64, version int) (*RuleTree, error) {
	var out RuleTree
	path := fmt.Sprintf("/properties/%d/versions/%d/rules", propertyID, version)
	if err := p.getJSON(ctx, "get rule tree", path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// PutRuleTree replaces a version's rules, carrying note as the version comment.
// The status is returned rather than checked: a conflict is a per-row outcome.
func (p *Client) PutRuleTree(ctx context.Context, propertyID int64, version int, ruleFormat, note string, rules map[string]any) (int, []byte, error) {
	h := headers()
	if ruleFormat != "" {
		h["Content-Type"] = fmt.Sprintf("application/vnd.akamai.papirules.%s+json", ruleFormat)
	}
	body := map[string]any{"rules": rules}
	if note != "" {
		body["comments"] = note
	}
	path := fmt.Sprintf("%s/properties/%d/versions/%d/rules", basePath, propertyID, version)
	resp, err := p.c.PutJSON(ctx, path, nil, body, h)
	if err != nil {
		return 0, nil, err
	}
	return resp.Status, resp.Body, nil
}

// ActivationRequest activates a single property version.
type ActivationRequest struct {
	PropertyVersion        int               `json:"propertyVersion"`
	Network                string            `json:"network"`
	Note                   string            `json:"note,omitempty"`
	NotifyEmails           []string          `json:"notifyEmails"`
	AcknowledgeAllWarnings bool              `json:"acknowledgeAllWarnings"`
	ComplianceRecord       *ComplianceRecord `json:"complianceRecord,omitempty"`
}

// Activate submits one activation and returns its activationId.
func (p *Client) Activate(ctx context.Context, propertyID int64, req ActivationRequest) (int64, error) {
	resp, err := p.post(ctx, fmt.Sprintf("/properties/%d/activations", propertyID), nil, req)
	if err != nil {
		return 0, err
	}
	if err := client.Expect("activate property", resp); err != nil {
		return 0, err
	}
	var out struct {
		ActivationLink string `json:"activationLink"`
	}
	if err := resp.JSON(&out); err != nil {
		return 0, err
	}
	return IDFromLink(out.ActivationLink)
}

// Activation is the state of a single activation.
type Activation struct {
	ActivationID    int64  `json:"activationId"`
	PropertyID      int64  `json:"propertyId"`
	PropertyName    string `json:"propertyName"`
	PropertyVersion int    `json:"propertyVersion"`
	Network         string `json:"network"`
	Status          string `json:"status"`
}

type activationList struct {
	Activations struct {
		Items []Activation `json:"items"`
	} `json:"activations"`
}

// GetActivation looks up one activation by id.
func (p *Client) GetActivation(ctx context.Context, propertyID, activationID int64) (*Activation, error) {
	var out activationList
	path := fmt.Sprintf("/properties/%d/activations/%d", propertyID, activationID)
	if err := p.getJSON(ctx, "get activation", path, nil, &out); err != nil {
		return nil, err
	}
	if len(out.Activations.Items) == 0 {
		return nil, fmt.Errorf("activation %d of property %d not found", activationID, propertyID)
	}
	return &out.Activations.Items[0], nil
}

// GetActivationByLink follows a propertyActivationsLink from a bulk activation row.
func (p *Client) GetActivationByLink(ctx context.Context, link string) (*Activation, error) {
	u, err := url.Parse(link)
	if err != nil {
		return nil, fmt.Errorf("parsing activation link: %w", err)
	}
	resp, err := p.c.Get(ctx, u.Path, u.Query(), headers())
	if err != nil {
		return nil, err
	}
	if err := client.Expect("get activation", resp); err != nil {
		return nil, err
	}
	var out activationList
	if err := resp.JSON(&out); err != nil {
		return nil, err
	}
	if len(out.Activations.Items) == 0 {
		return nil, fmt.Errorf("no activation at %s", link)
	}
	return &out.Activations.Items[0], nil
}

// Group is one access group.
type Group struct {
	GroupID       int64    `json:"groupId"`
	GroupName     string   `json:"groupName"`
	ParentGroupID int64    `json:"parentGroupId,omitempty"`
	ContractIDs   []string `json:"contractIds"`
}

// Groups is the account's group listing.
type Groups struct {
	AccountID   string `json:"accountId"`
	AccountName string `json:"accountName"`
	Groups      struct {
		Items []Group `json:"items"`
	} `json:"groups"`
}

// Find returns the group with id, if present.
func (g *Groups) Find(id int64) (Group, bool) {
	for _, grp := range g.Groups.Items {
		if grp.GroupID == id {
			return grp, true
		}
	}
	return Group{}, false
}

// ListGroups returns the account's groups. The response is cached for the
// lifetime of the process.
func (p *Client) ListGroups(ctx context.Context) (*Groups, error) {
	resp, err := p.c.GetCached(ctx, basePath+"/groups", nil, headers())
	if err != nil {
		return nil, err
	}
	if err := client.Expect("list groups", resp); err != nil {
		return nil, err
	}
	var out Groups
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return nil, fmt.Errorf("decoding groups: %w", err)
	}
	return &out, nil
}
