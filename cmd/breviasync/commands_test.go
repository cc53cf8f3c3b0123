package main

import (
	"strings"
	"testing"
)

func TestColorizeRespectNoColor(t *testing.T) {
	old := noColor
	defer func() { noColor = old }()

	noColor = true
	if result := colorize(colorGreen, "done"); strings.Contains(result, "\033[") {
		t.Errorf("colorize with noColor=true should not contain ANSI codes, got %q", result)
	}

	noColor = false
	if result := colorize(colorGreen, "done"); !strings.Contains(result, "\033[") {
		t.Errorf("colorize with noColor=false should contain ANSI codes, got %q", result)
	}
}

func TestCommandsRegistered(t *testing.T) {
	want := []string{"serve", "import-csv", "import-sitemap", "import-files", "reindex", "update-metadata", "version"}
	for _, name := range want {
		found := false
		for _, cmd := range rootCmd.Commands() {
			if cmd.Name() == name {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("command %q not registered", name)
		}
	}
}

func TestImportCsvRequiresFlags(t *testing.T) {
	defer rootCmd.SetArgs(nil)

	rootCmd.SetArgs([]string{"import-csv"})
	if err := rootCmd.Execute(); err == nil {
		t.Error("expected error when required flags are missing")
	}
}
