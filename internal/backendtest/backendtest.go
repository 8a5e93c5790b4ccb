// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package backendtest selects the backends used by tests.
//
// Training the CRNN needs gradients of ops (slices inside the LSTM) that only the XLA backend
// implements, so model tests run on XLA's CPU plugin and are skipped where it isn't available.
// Graph-only tests that don't train can use SimpleGo.
package backendtest

import (
	"testing"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/backends"
	_ "github.com/gomlx/gomlx/backends/default"
)

// XLAConfig is the backend configuration used to train models in tests.
const XLAConfig = "xla:cpu"

// XLA returns the XLA CPU backend, or skips the test if it is not available.
// It also skips in short mode.
func XLA(t testing.TB) backends.Backend {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping model training in short mode")
	}
	return mustNew(t, XLAConfig)
}

// SimpleGo returns the pure Go backend.
func SimpleGo(t testing.TB) backends.Backend {
	t.Helper()
	return mustNew(t, "go")
}

func mustNew(t testing.TB, config string) backends.Backend {
	t.Helper()
	var backend backends.Backend
	var newErr error
	err := exceptions.TryCatch[error](func() { backend, newErr = backends.NewWithConfig(config) })
	if err == nil {
		err = newErr
	}
	if err != nil {
		t.Skipf("backend %q not available: %v", config, err)
	}
	return backend
}
