// Package all links every storage backend into the binary.
package all

import (
	_ "laptel/internal/storage/mssql"
	_ "laptel/internal/storage/postgres"
	_ "laptel/internal/storage/sqlite"
)
