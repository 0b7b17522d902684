package migrations

import (
	"fmt"
	"os"
	"path/filepath"
)

// MigrationsDir is where schema files are looked up, relative to the
// working directory. Overridable so tests and the migrate command can
// point elsewhere.
var MigrationsDir = "scripts/migrations"

const initialSchemaFile = "001_initial_schema.sql"

// GetInitialSchema loads the initial schema. Package tests run with the
// package directory as the working directory, so the lookup also walks
// up to two parent directories to reach the repository root.
func GetInitialSchema() (string, error) {
	candidates := []string{
		filepath.Join(MigrationsDir, initialSchemaFile),
		filepath.Join("..", MigrationsDir, initialSchemaFile),
		filepath.Join("..", "..", MigrationsDir, initialSchemaFile),
	}

	for _, candidate := range candidates {
		content, err := os.ReadFile(candidate)
		if err == nil {
			return string(content), nil
		}
	}

	return "", fmt.Errorf("schema file %s not found under %s or its parent directories", initialSchemaFile, MigrationsDir)
}
