// Package migrations embeds the goose SQL migrations owned by the pipeline.
package migrations

import "embed"

//go:embed *.sql
var Migrations embed.FS
