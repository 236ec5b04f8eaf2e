package papi_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/edgeops/edgectl/internal/papi"
	"github.com/edgeops/edgectl/internal/papi/papitest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seed(srv *papitest.Server) {
	srv.AddProperty(papitest.Property{
		ID: 101, Name: "www.example.com", ContractID: "C-1", GroupID: 7, AssetID: 9001,
		Hostnames: []string{"www.example.com", "example.com"},
		Versions: []papi.Version{
			{PropertyVersion: 1, ProductionStatus: "ACTIVE", StagingStatus: "ACTIVE", ProductID: "prd_Fresca", RuleFormat: "v2023-01-05", UpdatedDate: "2024-01-02T03:04:05Z"},
			{PropertyVersion: 2, ProductionStatus: "INACTIVE", StagingStatus: "INACTIVE", ProductID: "prd_Fresca", RuleFormat: "v2023-01-05"},
		},
	})
}

func TestIDFromLink(t *testing.T) {
	id, err := papi.IDFromLink("/papi/v1/bulk/rules-search-requests/5?contractId=1")
	require.NoError(t, err)
	assert.Equal(t, int64(5), id)

	_, err = papi.IDFromLink("/papi/v1/bulk/rules-search-requests/")
	assert.Error(t, err)
}

func TestNetwork(t *testing.T) {
	assert.Equal(t, papi.NetworkStaging, papi.Network(" staging"))
	assert.Equal(t, papi.NetworkProduction, papi.Network("Production"))
}

func TestBulkSearchRoundTrip(t *testing.T) {
	srv := papitest.New(t)
	srv.PendingPolls = 1
	srv.SearchResults = []papi.SearchResult{{PropertyID: 101, PropertyName: "www.example.com", PropertyVersion: 2, MatchLocations: []string{"/rules/behaviors/0"}}}
	p := papi.New(srv.Client())
	ctx := context.Background()

	id, err := p.SubmitBulkSearch(ctx, []byte(`{"bulkSearchQuery":{"syntax":"JSONPATH","match":"$..behaviors"}}`), papi.SearchScope{GroupID: "7"})
	require.NoError(t, err)
	assert.Equal(t, []map[string]string{{"contractId": "", "groupId": "7"}}, srv.SearchScopes)

	job, err := p.GetBulkSearch(ctx, id)
	require.NoError(t, err)
	assert.False(t, job.Done())

	job, err = p.GetBulkSearch(ctx, id)
	require.NoError(t, err)
	require.True(t, job.Done())
	require.Len(t, job.Results, 1)
	assert.Equal(t, []string{"/rules/behaviors/0"}, job.Results[0].MatchLocations)
}

func TestBulkCreateAllocatesNextVersion(t *testing.T) {
	srv := papitest.New(t)
	seed(srv)
	p := papi.New(srv.Client())
	ctx := context.Background()

	id, err := p.SubmitBulkCreate(ctx, []papi.VersionPair{{PropertyID: 101, CreateFromVersion: 1}, {PropertyID: 404, CreateFromVersion: 1}})
	require.NoError(t, err)
	job, err := p.GetBulkCreate(ctx, id)
	require.NoError(t, err)
	require.True(t, job.Done())
	require.Len(t, job.CreatePropertyVersions, 2)

	assert.Equal(t, 3, job.CreatePropertyVersions[0].PropertyVersion)
	assert.Equal(t, papi.StatusComplete, job.CreatePropertyVersions[0].CreateVersionStatus)
	assert.Equal(t, 0, job.CreatePropertyVersions[1].PropertyVersion)
	assert.Equal(t, papi.StatusSubmissionError, job.CreatePropertyVersions[1].CreateVersionStatus)
}

func TestBulkPatchAndActivation(t *testing.T) {
	srv := papitest.New(t)
	seed(srv)
	p := papi.New(srv.Client())
	ctx := context.Background()

	patchID, err := p.SubmitBulkPatch(ctx, []papi.PatchTarget{{
		PropertyID: 101, PropertyVersion: 2,
		Patches: []papi.PatchOp{{Op: "replace", Path: "/rules/behaviors/0/options/ttl", Value: json.RawMessage(`"7d"`)}},
	}})
	require.NoError(t, err)
	patch, err := p.GetBulkPatch(ctx, patchID)
	require.NoError(t, err)
	require.Len(t, patch.PatchPropertyVersions, 1)
	assert.Equal(t, "www.example.com", patch.PatchPropertyVersions[0].PropertyName)
	assert.JSONEq(t, `"7d"`, string(srv.LastPatch[0].Patches[0].Value))

	actID, err := p.SubmitBulkActivation(ctx, papi.BulkActivationRequest{
		DefaultActivationSettings: papi.ActivationSettings{NotifyEmails: []string{"ops@example.com"}, AcknowledgeAllWarnings: true},
		ActivatePropertyVersions:  []papi.ActivationTarget{{PropertyID: 101, PropertyVersion: 2, Network: papi.NetworkStaging}},
	})
	require.NoError(t, err)
	act, err := p.GetBulkActivation(ctx, actID)
	require.NoError(t, err)
	require.Len(t, act.ActivatePropertyVersions, 1)

	row := act.ActivatePropertyVersions[0]
	single, err := p.GetActivationByLink(ctx, row.PropertyActivationsLink)
	require.NoError(t, err)
	assert.Equal(t, papi.StatusActive, single.Status)
	assert.Equal(t, papi.NetworkStaging, single.Network)
}

func TestVersionsAndRecordExtraction(t *testing.T) {
	srv := papitest.New(t)
	seed(srv)
	p := papi.New(srv.Client())
	ctx := context.Background()

	list, err := p.ListVersions(ctx, 101)
	require.NoError(t, err)
	assert.Equal(t, 2, list.Latest())
	assert.True(t, list.Versions.Items[0].Locked())
	assert.False(t, list.Versions.Items[1].Locked())

	resp, err := p.GetVersion(ctx, 101, 1)
	require.NoError(t, err)
	rec, err := papi.ParseRecord(resp.Body)
	require.NoError(t, err)

	name, err := rec.String(papi.ExprPropertyName)
	require.NoError(t, err)
	assert.Equal(t, "www.example.com", name)
	asset, err := rec.Int64(papi.ExprAssetID)
	require.NoError(t, err)
	assert.Equal(t, int64(9001), asset)
	format, err := rec.String(papi.ExprRuleFormat)
	require.NoError(t, err)
	assert.Equal(t, "v2023-01-05", format)
	updated, err := rec.String(papi.ExprUpdatedDate)
	require.NoError(t, err)
	assert.Equal(t, "2024-01-02T03:04:05Z", updated)

	hosts, err := p.GetHostnames(ctx, 101, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"www.example.com", "example.com"}, hosts)
}

func TestRuleTreePutRespectsLock(t *testing.T) {
	srv := papitest.New(t)
	seed(srv)
	p := papi.New(srv.Client())
	ctx := context.Background()

	tree, err := p.GetRuleTree(ctx, 101, 2)
	require.NoError(t, err)
	tree.Rules["behaviors"] = []any{map[string]any{"name": "http2", "options": map[string]any{"enabled": true}}}

	status, _, err := p.PutRuleTree(ctx, 101, 2, tree.RuleFormat, "enable http2", tree.Rules)
	require.NoError(t, err)
	assert.Equal(t, 200, status)
	assert.Equal(t, []string{"enable http2"}, srv.PutNotes)

	status, _, err = p.PutRuleTree(ctx, 101, 1, tree.RuleFormat, "", tree.Rules)
	require.NoError(t, err)
	assert.Equal(t, 409, status)
	assert.Equal(t, 2, srv.PutCount())
}

func TestSingleActivation(t *testing.T) {
	srv := papitest.New(t)
	seed(srv)
	p := papi.New(srv.Client())
	ctx := context.Background()

	id, err := p.Activate(ctx, 101, papi.ActivationRequest{PropertyVersion: 2, Network: papi.NetworkProduction, NotifyEmails: []string{"ops@example.com"}})
	require.NoError(t, err)
	act, err := p.GetActivation(ctx, 101, id)
	require.NoError(t, err)
	assert.Equal(t, 2, act.PropertyVersion)
	assert.True(t, srv.Property(101).Versions[1].Locked())
}

func TestListGroupsIsCached(t *testing.T) {
	srv := papitest.New(t)
	srv.Groups = []papi.Group{{GroupID: 7, GroupName: "Web", ContractIDs: []string{"C-1"}}}
	c := srv.Client()
	p := papi.New(c)
	ctx := context.Background()

	g, err := p.ListGroups(ctx)
	require.NoError(t, err)
	grp, ok := g.Find(7)
	require.True(t, ok)
	assert.Equal(t, "Web", grp.GroupName)
	assert.Equal(t, "Example Media", g.AccountName)

	srv.Groups = nil
	g, err = p.ListGroups(ctx)
	require.NoError(t, err)
	_, ok = g.Find(7)
	assert.True(t, ok)
}
