// Package test holds assertions shared by the package tests.
package test

import (
	"errors"
	"testing"
)

func Equal[T comparable](t *testing.T, expected, actual T) bool {
	t.Helper()

	if expected != actual {
		t.Errorf(""+
			"Not equal: \n"+
			"Expected: %v\n"+
			"Actual: %v", expected, actual)
		return false
	}

	return true
}

func NoError(t *testing.T, err error) {
	t.Helper()

	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
}

func ErrorIs(t *testing.T, err, target error) bool {
	t.Helper()

	if !errors.Is(err, target) {
		t.Errorf(""+
			"Error mismatch: \n"+
			"Expected: %v\n"+
			"Actual: %v", target, err)
		return false
	}

	return true
}
