package main

import "testing"

func TestMigrateCmdDefaults(t *testing.T) {
	t.Parallel()
	configPath := ""
	cmd := migrateCmd(&configPath)

	if cmd.Use != "migrate" {
		t.Fatalf("Use = %q", cmd.Use)
	}
	if got := cmd.Flags().Lookup("dir").DefValue; got != "file://migrations" {
		t.Errorf("dir default = %q", got)
	}
	if got := cmd.Flags().Lookup("direction").DefValue; got != "up" {
		t.Errorf("direction default = %q", got)
	}
	if got := cmd.Flags().Lookup("steps").DefValue; got != "0" {
		t.Errorf("steps default = %q", got)
	}
}
