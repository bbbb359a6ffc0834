package kinds

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaults(t *testing.T) {
	r := Defaults()

	if !r.Known("power-cycle") {
		t.Error("power-cycle missing from defaults")
	}
	if r.Known("make-coffee") {
		t.Error("unknown kind reported as known")
	}

	comps := r.Components("full-update")
	if len(comps) != 6 {
		t.Fatalf("full-update has %d components, want 6", len(comps))
	}
	if comps[0] != "firmware-bmc" || comps[5] != "firmware-drives" {
		t.Errorf("unexpected component order: %v", comps)
	}
	for _, comp := range comps {
		if !r.Known(comp) {
			t.Errorf("component %s is not a known kind", comp)
		}
		if r.IsComposite(comp) {
			t.Errorf("component %s must be a simple kind", comp)
		}
	}

	if !r.IsComposite("full-update") || r.IsComposite("power-cycle") {
		t.Error("IsComposite misclassifies kinds")
	}
	if !r.IsSystem("health-scan") || r.IsSystem("firmware-flash") {
		t.Error("IsSystem misclassifies kinds")
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kinds.yaml")
	content := `
reboot:
  components: []
bios:
  components: []
quick-update:
  components: [bios, reboot]
nightly-audit:
  system: true
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	r, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got := r.Components("quick-update"); len(got) != 2 || got[0] != "bios" {
		t.Errorf("unexpected components: %v", got)
	}
	if !r.IsSystem("nightly-audit") {
		t.Error("system flag not loaded")
	}
	// override replaces the defaults wholesale
	if r.Known("full-update") {
		t.Error("defaults leaked into loaded table")
	}
}

func TestLoad_RejectsUnknownComponent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kinds.yaml")
	if err := os.WriteFile(path, []byte("bad:\n  components: [missing]\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("table with dangling component reference accepted")
	}
}

func TestLoad_RejectsNestedComposite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kinds.yaml")
	content := `
a:
  components: []
b:
  components: [a]
c:
  components: [b]
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("nested composite accepted")
	}
}
