package testutil

import "testing"

// Given, When, Then and And name nested subtests as Gherkin-style clauses.
// Cross-component scenarios live in the e2e feature files; these keep unit
// tests reading the same way.
func Given(t *testing.T, desc string, fn func(t *testing.T)) {
	t.Helper()
	t.Run("Given "+desc, fn)
}

func When(t *testing.T, desc string, fn func(t *testing.T)) {
	t.Helper()
	t.Run("When "+desc, fn)
}

func Then(t *testing.T, desc string, fn func(t *testing.T)) {
	t.Helper()
	t.Run("Then "+desc, fn)
}

func And(t *testing.T, desc string, fn func(t *testing.T)) {
	t.Helper()
	t.Run("And "+desc, fn)
}
