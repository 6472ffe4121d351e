// README: Embedded SQL migrations applied by cmd/migrate and DB-backed tests.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
