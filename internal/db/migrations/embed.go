// Package migrations embeds the goose migration set for the Session Record
// Store (spec §4.7).
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
