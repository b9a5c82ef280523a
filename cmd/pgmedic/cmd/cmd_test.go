package cmd

import "testing"

func TestCommandsRegistered(t *testing.T) {
	want := map[string]bool{
		"analyze":     false,
		"collections": false,
		"doctor":      false,
		"version":     false,
	}
	for _, c := range rootCmd.Commands() {
		if _, ok := want[c.Name()]; ok {
			want[c.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("command %q not registered", name)
		}
	}
}

func TestCollectionsSubcommands(t *testing.T) {
	found := map[string]bool{}
	for _, c := range collectionsCmd.Commands() {
		found[c.Name()] = true
	}
	if !found["list"] || !found["cleanup"] {
		t.Errorf("collections subcommands = %v", found)
	}
}

func TestAnalyzeFlagsBound(t *testing.T) {
	for _, flag := range []string{"server", "output-dir", "format", "night-mode", "status-addr", "skip-phases"} {
		if analyzeCmd.Flags().Lookup(flag) == nil {
			t.Errorf("analyze flag %q missing", flag)
		}
	}
}
