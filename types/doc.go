// Package types provides core types used across the localrag engine.
// This package has ZERO dependencies on other localrag packages to avoid circular imports.
// All other packages should import types from here.
package types
