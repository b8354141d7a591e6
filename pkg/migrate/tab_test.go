package migrate

import "testing"

func TestParseTabMinimal(t *testing.T) {
	tab, err := ParseTab([]byte(`{
		"homebrew_version": "4.0.0",
		"installed_on_request": true,
		"poured_from_bottle": true
	}`))
	if err != nil {
		t.Fatalf("ParseTab: %v", err)
	}
	if tab.HomebrewVersion != "4.0.0" || !tab.InstalledOnRequest || !tab.PouredFromBottle {
		t.Fatalf("got %+v", tab)
	}
	if tab.InstalledAsDependency {
		t.Fatalf("expected installed_as_dependency=false, got %+v", tab)
	}
}

func TestParseTabWithDependencies(t *testing.T) {
	tab, err := ParseTab([]byte(`{
		"homebrew_version": "4.0.0",
		"installed_on_request": true,
		"runtime_dependencies": [
			{"full_name": "openssl@3", "version": "3.2.0", "pkg_version": "3.2.0"},
			{"full_name": "readline", "version": "8.2", "pkg_version": "8.2.1"}
		],
		"source": {"tap": "homebrew/core", "spec": "stable"}
	}`))
	if err != nil {
		t.Fatalf("ParseTab: %v", err)
	}
	if !tab.IsCoreFormula() {
		t.Fatal("expected core formula")
	}
	if len(tab.RuntimeDependencies) != 2 || tab.RuntimeDependencies[0].FullName != "openssl@3" {
		t.Fatalf("got %+v", tab.RuntimeDependencies)
	}
}

func TestParseTabWithCustomTap(t *testing.T) {
	tab, err := ParseTab([]byte(`{
		"homebrew_version": "4.0.0",
		"source": {"tap": "user/custom-tap"}
	}`))
	if err != nil {
		t.Fatalf("ParseTab: %v", err)
	}
	if tab.Source.Tap != "user/custom-tap" {
		t.Fatalf("got %+v", tab.Source)
	}
	if tab.IsCoreFormula() {
		t.Fatal("expected non-core formula")
	}
}
