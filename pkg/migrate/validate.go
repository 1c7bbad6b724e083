package migrate

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"go.uber.org/multierr"
)

var sqlFileRe = regexp.MustCompile(`^(\d{14})_[a-z0-9_]+\.sql$`)

const (
	upMarker        = "-- +goose Up"
	downMarker      = "-- +goose Down"
	statementBegin  = "-- +goose StatementBegin"
	statementEnd    = "-- +goose StatementEnd"
	versionTemplate = "YYYYMMDDHHMMSS_name.sql"
)

type migrationFile struct {
	version string
	name    string
}

// listMigrations returns the .sql files of dir ordered by version. Files that
// do not follow the naming scheme are reported, not skipped.
func listMigrations(dir string) ([]migrationFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations dir %q: %w", dir, err)
	}
	var (
		files []migrationFile
		errs  error
	)
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		m := sqlFileRe.FindStringSubmatch(e.Name())
		if m == nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: filename must look like %s", e.Name(), versionTemplate))
			continue
		}
		files = append(files, migrationFile{version: m[1], name: e.Name()})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].version < files[j].version })
	return files, errs
}

// ValidateDir checks every shopstock migration in dir and reports all
// problems at once: naming, duplicate versions, goose Up/Down sections in
// order, and balanced statement blocks.
func ValidateDir(dir string) error {
	if dir == "" {
		return fmt.Errorf("migrations dir is required")
	}
	files, errs := listMigrations(dir)

	seen := map[string]string{}
	for _, f := range files {
		if prev, ok := seen[f.version]; ok {
			errs = multierr.Append(errs, fmt.Errorf("%s: version %s already used by %s", f.name, f.version, prev))
			continue
		}
		seen[f.version] = f.name

		b, err := os.ReadFile(filepath.Join(dir, f.name))
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", f.name, err))
			continue
		}
		errs = multierr.Append(errs, checkSections(f.name, string(b)))
	}
	if errs != nil {
		return fmt.Errorf("shopstock migrations in %s: %w", dir, errs)
	}
	return nil
}

func checkSections(name, txt string) error {
	up := strings.Index(txt, upMarker)
	down := strings.Index(txt, downMarker)
	switch {
	case up < 0:
		return fmt.Errorf("%s: missing %q", name, upMarker)
	case down < 0:
		return fmt.Errorf("%s: missing %q", name, downMarker)
	case down < up:
		return fmt.Errorf("%s: %q must come before %q", name, upMarker, downMarker)
	}
	if begins, ends := strings.Count(txt, statementBegin), strings.Count(txt, statementEnd); begins != ends {
		return fmt.Errorf("%s: %d StatementBegin vs %d StatementEnd", name, begins, ends)
	}
	return nil
}
