// Package migrations embeds the tern migrations that own the shared schema.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
