// Package crmbase exposes the SQL assets compiled into the binaries.
package crmbase

import "embed"

// SQLFS holds the schema migrations and seed files.
//
//go:embed migrations seeds
var SQLFS embed.FS
