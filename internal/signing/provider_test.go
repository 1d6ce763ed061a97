package signing

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadProviders(t *testing.T) {
	path := filepath.Join(t.TempDir(), "providers.yaml")
	contents := `providers:
  - name: firma
    requires_all_signed: true
    blocked_url_substrings: ["localhost", "/mock/", "staging.internal"]
  - name: inkless
    requires_all_signed: false
`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}

	providers, err := LoadProviders(path)
	if err != nil {
		t.Fatalf("LoadProviders failed: %v", err)
	}

	firma, ok := providers["firma"]
	if !ok || !firma.RequiresAllSigned {
		t.Errorf("firma profile = %+v, ok=%v", firma, ok)
	}
	if len(firma.BlockedURLParts) != 3 {
		t.Errorf("firma blocked parts = %v", firma.BlockedURLParts)
	}

	inkless := providers["inkless"]
	if inkless.RequiresAllSigned {
		t.Error("inkless should not require all signed")
	}
	// Omitted blocklist falls back to the defaults; the dev-endpoint
	// guard cannot be configured away by omission.
	if len(inkless.BlockedURLParts) != len(defaultBlockedURLParts) {
		t.Errorf("inkless blocked parts = %v", inkless.BlockedURLParts)
	}
}

func TestLoadProvidersRejectsEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "providers.yaml")
	if err := os.WriteFile(path, []byte("providers: []\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadProviders(path); err == nil {
		t.Error("expected error for empty provider list")
	}
}

func TestDefaultProvidersCarryBlocklist(t *testing.T) {
	for name, p := range DefaultProviders() {
		if len(p.BlockedURLParts) == 0 {
			t.Errorf("provider %s has no blocked URL parts", name)
		}
	}
}
