package artifact

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/edgeops/edgectl/internal/db"
)

func setupTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	catalog, err := db.OpenCatalog(dir)
	if err != nil {
		t.Fatalf("opening catalog: %v", err)
	}
	t.Cleanup(func() { catalog.Close() })
	return NewStore(catalog, dir, "Example_Media"), dir
}

func TestStoreCreate(t *testing.T) {
	store, dir := setupTestStore(t)

	content := []byte(`{"bulkSearchId": 5}`)
	rec, err := store.Create(CreateInput{Stage: "search", JobID: 5, Label: "group 244000", Content: content})
	if err != nil {
		t.Fatalf("creating artifact: %v", err)
	}

	if rec.UUID == "" {
		t.Error("expected non-empty UUID")
	}
	if rec.ByteSize != int64(len(content)) {
		t.Errorf("expected size %d, got %d", len(content), rec.ByteSize)
	}

	h := sha256.Sum256(content)
	if rec.ContentHash != hex.EncodeToString(h[:]) {
		t.Errorf("unexpected hash %s", rec.ContentHash)
	}

	if _, err := os.Stat(filepath.Join(dir, "json", rec.StoragePath)); err != nil {
		t.Errorf("expected snapshot file on disk: %v", err)
	}
}

func TestStoreSaveJSONAndRead(t *testing.T) {
	store, _ := setupTestStore(t)

	rec, err := store.SaveJSON("create", 77, "", map[string]any{"bulkCreateVersionsId": 77})
	if err != nil {
		t.Fatalf("saving: %v", err)
	}

	data, err := store.ReadContent(rec)
	if err != nil {
		t.Fatalf("reading content: %v", err)
	}
	var got map[string]int
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if got["bulkCreateVersionsId"] != 77 {
		t.Errorf("content mismatch: %s", data)
	}
}

func TestStoreContentDedup(t *testing.T) {
	store, _ := setupTestStore(t)
	content := []byte("duplicate content")

	a, _ := store.Create(CreateInput{Stage: "search", JobID: 1, Content: content})
	b, _ := store.Create(CreateInput{Stage: "search", JobID: 2, Content: content})

	if a.UUID == b.UUID {
		t.Error("expected different UUIDs for deduped artifacts")
	}
	if a.StoragePath != b.StoragePath {
		t.Error("expected same storage path (dedup)")
	}
}

func TestStoreGetAndLatest(t *testing.T) {
	store, _ := setupTestStore(t)

	created, _ := store.Create(CreateInput{Stage: "activation", JobID: 9, Label: "first", Content: []byte("1")})
	store.Create(CreateInput{Stage: "activation", JobID: 9, Label: "second", Content: []byte("2")})

	got, err := store.Get(created.UUID[:8])
	if err != nil {
		t.Fatalf("get by prefix: %v", err)
	}
	if got.UUID != created.UUID {
		t.Error("prefix match returned wrong artifact")
	}

	latest, err := store.Latest("activation", 9)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest.Label != "second" {
		t.Errorf("expected newest snapshot, got %q", latest.Label)
	}

	if _, err := store.Get("nonexistent"); err == nil {
		t.Error("expected error for nonexistent artifact")
	}
	if _, err := store.Latest("update", 9); err == nil {
		t.Error("expected error for missing stage snapshot")
	}
}

func TestStoreListByStageAndAccount(t *testing.T) {
	store, dir := setupTestStore(t)

	store.Create(CreateInput{Stage: "search", JobID: 1, Content: []byte("1")})
	store.Create(CreateInput{Stage: "search", JobID: 2, Content: []byte("2")})
	store.Create(CreateInput{Stage: "create", JobID: 3, Content: []byte("3")})

	all, err := store.List("")
	if err != nil {
		t.Fatalf("listing all: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("expected 3, got %d", len(all))
	}
	if all[0].JobID != 3 {
		t.Errorf("expected newest first, got job %d", all[0].JobID)
	}

	searches, _ := store.List("search")
	if len(searches) != 2 {
		t.Errorf("expected 2 searches, got %d", len(searches))
	}

	catalog, err := sql.Open("sqlite3", filepath.Join(dir, db.CatalogDBFile))
	if err != nil {
		t.Fatal(err)
	}
	defer catalog.Close()
	other := NewStore(catalog, dir, "Other_Account")
	recs, _ := other.List("")
	if len(recs) != 0 {
		t.Errorf("expected no records for another account, got %d", len(recs))
	}
}

func TestStoreVerifyIntegrity(t *testing.T) {
	store, _ := setupTestStore(t)

	rec, _ := store.Create(CreateInput{Stage: "update", JobID: 4, Content: []byte("integrity test")})

	valid, invalid, err := store.VerifyIntegrity()
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if valid != 1 || len(invalid) != 0 {
		t.Errorf("expected 1 valid, 0 invalid; got %d valid, %d invalid", valid, len(invalid))
	}

	os.WriteFile(store.Path(rec), []byte("corrupted!"), 0o644)

	valid, invalid, err = store.VerifyIntegrity()
	if err != nil {
		t.Fatalf("verify after corruption: %v", err)
	}
	if valid != 0 || len(invalid) != 1 {
		t.Errorf("expected 0 valid, 1 invalid; got %d valid, %d invalid", valid, len(invalid))
	}
	if _, err := store.ReadContent(rec); err == nil {
		t.Error("expected integrity error on read")
	}
}
