package migrate

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

const (
	versionLayout = "20060102150405"
	maxNameLength = 60
)

var nameSanitizeRe = regexp.MustCompile(`[^a-z0-9_]+`)

// migrationTemplate is the skeleton for new shopstock migrations. Migrations
// run against Postgres only; keep statements re-runnable.
const migrationTemplate = `-- +goose Up
-- shopstock: %[1]s (postgres; prefer IF NOT EXISTS / IF EXISTS)
-- +goose StatementBegin
-- +goose StatementEnd

-- +goose Down
-- +goose StatementBegin
-- revert %[1]s
-- +goose StatementEnd
`

// MigrationName turns free text such as "Add shop regions" into the snake
// case suffix used in migration filenames.
func MigrationName(name string) (string, error) {
	safe := strings.ToLower(strings.TrimSpace(name))
	safe = nameSanitizeRe.ReplaceAllString(safe, "_")
	safe = strings.Trim(safe, "_")
	if safe == "" {
		return "", fmt.Errorf("migration name %q has no usable characters", name)
	}
	if len(safe) > maxNameLength {
		safe = strings.TrimRight(safe[:maxNameLength], "_")
	}
	return safe, nil
}

// CreateSQLMigration writes an empty goose migration to dir and returns its
// path. The version is the current UTC time, bumped past the newest existing
// migration so files created in the same second still sort.
func CreateSQLMigration(dir string, name string) (string, error) {
	return createSQLMigration(dir, name, time.Now)
}

func createSQLMigration(dir, name string, now func() time.Time) (string, error) {
	if dir == "" {
		return "", fmt.Errorf("migrations dir is required")
	}
	safe, err := MigrationName(name)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create migrations dir %q: %w", dir, err)
	}

	version := now().UTC().Truncate(time.Second)
	files, _ := listMigrations(dir)
	if n := len(files); n > 0 {
		if latest, err := time.Parse(versionLayout, files[n-1].version); err == nil && !version.After(latest) {
			version = latest.Add(time.Second)
		}
	}

	fullpath := filepath.Join(dir, fmt.Sprintf("%s_%s.sql", version.Format(versionLayout), safe))
	if _, err := os.Stat(fullpath); err == nil {
		return "", fmt.Errorf("migration already exists: %s", fullpath)
	}
	if err := os.WriteFile(fullpath, []byte(fmt.Sprintf(migrationTemplate, safe)), 0o644); err != nil {
		return "", fmt.Errorf("write migration %q: %w", fullpath, err)
	}
	return fullpath, nil
}
