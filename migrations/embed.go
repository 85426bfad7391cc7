// Package migrations embeds the SQL schema for the proctor's durable tables.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
