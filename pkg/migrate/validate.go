package migrate

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"strings"
)

// goose version prefix plus a snake_case name, as CreateSQLMigration writes.
var fileNameRe = regexp.MustCompile(`^(\d{14})_[a-z0-9_]+\.sql$`)

// ValidateDir checks every .sql file in dir before goose sees it: names must
// carry a unique 14-digit version, and each file needs an Up section followed
// by a Down section with balanced StatementBegin/StatementEnd pairs.
func ValidateDir(fsys fs.FS, dir string) error {
	if dir == "" {
		return errors.New("dir is required")
	}
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return fmt.Errorf("read dir %q: %w", dir, err)
	}

	versions := make(map[string]string)
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || path.Ext(name) != ".sql" {
			continue
		}
		match := fileNameRe.FindStringSubmatch(name)
		if match == nil {
			return fmt.Errorf("migration %q: name must look like YYYYMMDDHHMMSS_snake_name.sql", name)
		}
		if other, dup := versions[match[1]]; dup {
			return fmt.Errorf("migration %q: version %s already used by %q", name, match[1], other)
		}
		versions[match[1]] = name

		body, err := fs.ReadFile(fsys, path.Join(dir, name))
		if err != nil {
			return fmt.Errorf("read migration %q: %w", name, err)
		}
		if err := checkAnnotations(body); err != nil {
			return fmt.Errorf("migration %q: %w", name, err)
		}
	}

	if len(versions) == 0 {
		return fmt.Errorf("no migrations found in %q", dir)
	}
	return nil
}

func checkAnnotations(body []byte) error {
	var (
		seenUp, seenDown bool
		openStatement    bool
	)
	scanner := bufio.NewScanner(bytes.NewReader(body))
	for line := 1; scanner.Scan(); line++ {
		directive, ok := strings.CutPrefix(strings.TrimSpace(scanner.Text()), "-- +goose ")
		if !ok {
			continue
		}
		switch strings.TrimSpace(directive) {
		case "Up":
			if seenUp || seenDown {
				return fmt.Errorf("line %d: unexpected Up section", line)
			}
			seenUp = true
		case "Down":
			if !seenUp || seenDown {
				return fmt.Errorf("line %d: Down must follow a single Up", line)
			}
			if openStatement {
				return fmt.Errorf("line %d: Down inside an open statement", line)
			}
			seenDown = true
		case "StatementBegin":
			if openStatement {
				return fmt.Errorf("line %d: nested StatementBegin", line)
			}
			openStatement = true
		case "StatementEnd":
			if !openStatement {
				return fmt.Errorf("line %d: StatementEnd without StatementBegin", line)
			}
			openStatement = false
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	switch {
	case !seenUp:
		return errors.New(`missing "-- +goose Up"`)
	case !seenDown:
		return errors.New(`missing "-- +goose Down"`)
	case openStatement:
		return errors.New("unterminated StatementBegin")
	}
	return nil
}
