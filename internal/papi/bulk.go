package papi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/edgeops/edgectl/internal/client"
)

// SearchResult is one matching property version in a bulk search job.
type SearchResult struct {
	PropertyID       int64    `json:"propertyId"`
	PropertyName     string   `json:"propertyName"`
	PropertyType     string   `json:"propertyType,omitempty"`
	PropertyVersion  int      `json:"propertyVersion"`
	IsLatest         bool     `json:"isLatest"`
	IsLocked         bool     `json:"isLocked"`
	IsSecure         bool     `json:"isSecure"`
	LastModifiedTime string   `json:"lastModifiedTime,omitempty"`
	ProductionStatus string   `json:"productionStatus"`
	StagingStatus    string   `json:"stagingStatus"`
	AccountID        string   `json:"accountId,omitempty"`
	MatchLocations   []string `json:"matchLocations"`
}

// BulkSearch is a bulk rules-search job.
type BulkSearch struct {
	BulkSearchID       int64           `json:"bulkSearchId"`
	SearchTargetStatus string          `json:"searchTargetStatus"`
	BulkSearchQuery    json.RawMessage `json:"bulkSearchQuery,omitempty"`
	Results            []SearchResult  `json:"results"`
}

// Done reports whether the search has finished on the remote.
func (b *BulkSearch) Done() bool { return b.SearchTargetStatus == StatusComplete }

// SearchScope restricts a bulk search to a contract or a group.
type SearchScope struct {
	ContractID string
	GroupID    string
}

// SubmitBulkSearch posts query, the raw request body read from the operator's
// file, and returns the new bulkSearchId.
func (p *Client) SubmitBulkSearch(ctx context.Context, query []byte, scope SearchScope) (int64, error) {
	q := url.Values{}
	if scope.ContractID != "" {
		q.Set("contractId", scope.ContractID)
	}
	if scope.GroupID != "" {
		q.Set("groupId", scope.GroupID)
	}
	resp, err := p.post(ctx, "/bulk/rules-search-requests", q, json.RawMessage(query))
	if err != nil {
		return 0, err
	}
	if err := client.Expect("submit bulk search", resp); err != nil {
		return 0, err
	}
	var out struct {
		BulkSearchLink string `json:"bulkSearchLink"`
	}
	if err := resp.JSON(&out); err != nil {
		return 0, err
	}
	return IDFromLink(out.BulkSearchLink)
}

// GetBulkSearch fetches a bulk search job by id.
func (p *Client) GetBulkSearch(ctx context.Context, id int64) (*BulkSearch, error) {
	var out BulkSearch
	if err := p.getJSON(ctx, "get bulk search", fmt.Sprintf("/bulk/rules-search-requests/%d", id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// VersionPair names a property version to copy.
type VersionPair struct {
	PropertyID        int64 `json:"propertyId"`
	CreateFromVersion int   `json:"createFromVersion"`
}

// CreatedVersion is one row of a bulk create job.
type CreatedVersion struct {
	PropertyID          int64  `json:"propertyId"`
	CreateFromVersion   int    `json:"createFromVersion"`
	PropertyVersion     int    `json:"propertyVersion"`
	CreateVersionStatus string `json:"createVersionStatus"`
}

// BulkCreate is a bulk version-creation job.
type BulkCreate struct {
	BulkCreateVersionsID     int64            `json:"bulkCreateVersionsId"`
	BulkCreateVersionsStatus string           `json:"bulkCreateVersionsStatus"`
	CreatePropertyVersions   []CreatedVersion `json:"createPropertyVersions"`
}

// Done reports whether every version creation has settled.
func (b *BulkCreate) Done() bool { return b.BulkCreateVersionsStatus == StatusComplete }

// SubmitBulkCreate starts a job creating one successor per pair.
func (p *Client) SubmitBulkCreate(ctx context.Context, pairs []VersionPair) (int64, error) {
	body := map[string]any{"createPropertyVersions": pairs}
	resp, err := p.post(ctx, "/bulk/property-version-creations", nil, body)
	if err != nil {
		return 0, err
	}
	if err := client.Expect("submit bulk create", resp); err != nil {
		return 0, err
	}
	var out struct {
		BulkCreateVersionLink string `json:"bulkCreateVersionLink"`
	}
	if err := resp.JSON(&out); err != nil {
		return 0, err
	}
	return IDFromLink(out.BulkCreateVersionLink)
}

// GetBulkCreate fetches a bulk create job by id.
func (p *Client) GetBulkCreate(ctx context.Context, id int64) (*BulkCreate, error) {
	var out BulkCreate
	if err := p.getJSON(ctx, "get bulk create", fmt.Sprintf("/bulk/property-version-creations/%d", id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// PatchOp is one JSON-patch style operation. Value is passed through untouched.
type PatchOp struct {
	Op    string          `json:"op"`
	Path  string          `json:"path"`
	Value json.RawMessage `json:"value,omitempty"`
}

// PatchTarget is one property version to patch.
type PatchTarget struct {
	PropertyID      int64     `json:"propertyId"`
	PropertyVersion int       `json:"propertyVersion"`
	Patches         []PatchOp `json:"patches"`
}

// PatchedVersion is one row of a bulk patch job.
type PatchedVersion struct {
	PropertyID                 int64  `json:"propertyId"`
	PropertyName               string `json:"propertyName"`
	PatchPropertyID            int64  `json:"patchPropertyId"`
	PatchPropertyVersion       int    `json:"patchPropertyVersion"`
	PatchPropertyVersionStatus string `json:"patchPropertyVersionStatus"`
	FatalError                 string `json:"fatalError,omitempty"`
}

// BulkPatch is a bulk rules-patch job.
type BulkPatch struct {
	BulkPatchID           int64            `json:"bulkPatchId"`
	BulkPatchStatus       string           `json:"bulkPatchStatus"`
	PatchPropertyVersions []PatchedVersion `json:"patchPropertyVersions"`
}

// SubmitBulkPatch starts a rules-patch job.
func (p *Client) SubmitBulkPatch(ctx context.Context, targets []PatchTarget) (int64, error) {
	body := map[string]any{"patchPropertyVersions": targets}
	resp, err := p.post(ctx, "/bulk/rules-patch-requests", nil, body)
	if err != nil {
		return 0, err
	}
	if err := client.Expect("submit bulk patch", resp); err != nil {
		return 0, err
	}
	var out struct {
		BulkPatchLink string `json:"bulkPatchLink"`
	}
	if err := resp.JSON(&out); err != nil {
		return 0, err
	}
	return IDFromLink(out.BulkPatchLink)
}

// GetBulkPatch fetches a bulk patch job by id.
func (p *Client) GetBulkPatch(ctx context.Context, id int64) (*BulkPatch, error) {
	var out BulkPatch
	if err := p.getJSON(ctx, "get bulk patch", fmt.Sprintf("/bulk/rules-patch-requests/%d", id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ActivationTarget is one property version to activate.
type ActivationTarget struct {
	PropertyID      int64  `json:"propertyId"`
	PropertyVersion int    `json:"propertyVersion"`
	Network         string `json:"network"`
	Note            string `json:"note,omitempty"`
}

// ComplianceRecord carries the peer reviewers of a production activation.
type ComplianceRecord struct {
	NoncomplianceReason string `json:"noncomplianceReason"`
	PeerReviewedBy      string `json:"peerReviewedBy,omitempty"`
}

// ActivationSettings apply to every row of a bulk activation.
type ActivationSettings struct {
	NotifyEmails           []string          `json:"notifyEmails"`
	AcknowledgeAllWarnings bool              `json:"acknowledgeAllWarnings"`
	ComplianceRecord       *ComplianceRecord `json:"complianceRecord,omitempty"`
}

// BulkActivationRequest is the body of a bulk activation.
type BulkActivationRequest struct {
	DefaultActivationSettings ActivationSettings `json:"defaultActivationSettings"`
	ActivatePropertyVersions  []ActivationTarget `json:"activatePropertyVersions"`
}

// ActivatedVersion is one row of a bulk activation job.
type ActivatedVersion struct {
	PropertyID              int64  `json:"propertyId"`
	PropertyName            string `json:"propertyName,omitempty"`
	PropertyVersion         int    `json:"propertyVersion"`
	Network                 string `json:"network"`
	ActivationStatus        string `json:"activationStatus,omitempty"`
	TaskStatus              string `json:"taskStatus"`
	PropertyActivationsLink string `json:"propertyActivationsLink,omitempty"`
	FatalError              string `json:"fatalError,omitempty"`
}

// BulkActivation is a bulk activation job.
type BulkActivation struct {
	BulkActivationID         int64              `json:"bulkActivationId"`
	BulkActivationStatus     string             `json:"bulkActivationStatus"`
	ActivatePropertyVersions []ActivatedVersion `json:"activatePropertyVersions"`
}

// SubmitBulkActivation starts a bulk activation job.
func (p *Client) SubmitBulkActivation(ctx context.Context, req BulkActivationRequest) (int64, error) {
	resp, err := p.post(ctx, "/bulk/activations", nil, req)
	if err != nil {
		return 0, err
	}
	if err := client.Expect("submit bulk activation", resp); err != nil {
		return 0, err
	}
	var out struct {
		BulkActivationLink string `json:"bulkActivationLink"`
	}
	if err := resp.JSON(&out); err != nil {
		return 0, err
	}
	return IDFromLink(out.BulkActivationLink)
}

// GetBulkActivation fetches a bulk activation job by id.
func (p *Client) GetBulkActivation(ctx context.Context, id int64) (*BulkActivation, error) {
	var out BulkActivation
	if err := p.getJSON(ctx, "get bulk activation", fmt.Sprintf("/bulk/activations/%d", id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
