package slate

import (
	"testing"

	"slate/testutil"
)

func TestCoordinatorSelectsBackendsThroughPersistence(t *testing.T) {
	testutil.AssertNoDirectImports(t, ".", testutil.InfraImportForbidden, "backends are opened via internal/persistence")
}

func TestCoordinatorDoesNotPullInCommands(t *testing.T) {
	if testing.Short() {
		t.Skip("loads the package graph")
	}
	testutil.AssertNoTransitiveDependency(t, "slate/pkg/slate", testutil.CommandImportForbidden, "library code must not depend on the CLI")
	testutil.AssertNoTransitiveDependency(t, "slate/pkg/slate", func(p string) bool {
		return p == "slate/internal/backup" || p == "slate/internal/blob" || p == "slate/internal/config"
	}, "operational packages sit above the coordinator")
}
