/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package testutil contains assertions shared by guardian tests.
package testutil

type tHelper interface {
	Helper()
}
