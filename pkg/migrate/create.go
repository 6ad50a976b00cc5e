package migrate

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

var nameSanitizeRe = regexp.MustCompile(`[^a-z0-9_]+`)

var driverDirs = []string{"sqlite", "postgres"}

// CreateSQLMigration creates a paired goose SQL migration, one per supported driver:
//
//	<baseDir>/sqlite/<YYYYMMDDHHMMSS>_<name>.sql
//	<baseDir>/postgres/<YYYYMMDDHHMMSS>_<name>.sql
func CreateSQLMigration(baseDir string, name string, now time.Time) ([]string, error) {
	if baseDir == "" {
		return nil, fmt.Errorf("dir is required")
	}

	safe := sanitizeName(name)
	if safe == "" {
		return nil, fmt.Errorf("name %q results in empty sanitized filename", name)
	}

	filename := fmt.Sprintf("%s_%s.sql", now.UTC().Format("20060102150405"), safe)
	body := fmt.Sprintf("-- +goose Up\n-- +goose StatementBegin\n-- %s\n-- +goose StatementEnd\n\n-- +goose Down\n-- +goose StatementBegin\n-- rollback %s\n-- +goose StatementEnd\n", safe, safe)

	var created []string
	for _, driverDir := range driverDirs {
		dir := filepath.Join(baseDir, driverDir)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return created, fmt.Errorf("mkdir %q: %w", dir, err)
		}
		full := filepath.Join(dir, filename)
		if _, err := os.Stat(full); err == nil {
			return created, fmt.Errorf("migration already exists: %s", full)
		}
		if err := os.WriteFile(full, []byte(body), 0o644); err != nil {
			return created, fmt.Errorf("write migration %q: %w", full, err)
		}
		created = append(created, full)
	}
	return created, nil
}

func sanitizeName(name string) string {
	safe := strings.ToLower(strings.TrimSpace(name))
	safe = strings.ReplaceAll(safe, " ", "_")
	safe = nameSanitizeRe.ReplaceAllString(safe, "_")
	return strings.Trim(safe, "_")
}
