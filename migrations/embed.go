// Package migrations carries the goose SQL migrations inside the binary.
package migrations

import "embed"

//go:embed postgres/*.sql sqlite/*.sql
var FS embed.FS
