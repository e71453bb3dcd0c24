package migrations

import "embed"

// Files holds the reports schema migrations compiled into the server binary,
// so deployments never depend on SQL files sitting next to the executable.
//
//go:embed *.sql
var Files embed.FS
