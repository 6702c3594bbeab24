// Package migrations embeds the versioned SQL schema applied with goose.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
