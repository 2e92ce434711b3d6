package migrate

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"strings"
)

const (
	markerUp    = "-- +goose Up"
	markerDown  = "-- +goose Down"
	markerBegin = "-- +goose StatementBegin"
	markerEnd   = "-- +goose StatementEnd"
)

// ValidateDir checks the migrations on disk under dir.
func ValidateDir(dir string) error {
	if dir == "" {
		return errors.New("dir is required")
	}
	return Validate(os.DirFS(dir))
}

// Validate checks every .sql file in migrations: a <version>_<slug>.sql name,
// unique versions, Up before Down, and balanced statement blocks.
func Validate(migrations fs.FS) error {
	names, err := fs.Glob(migrations, "*.sql")
	if err != nil {
		return fmt.Errorf("list migrations: %w", err)
	}
	versions := make(map[int64]string, len(names))
	for _, name := range names {
		version, err := versionOf(name)
		if err != nil {
			return err
		}
		if prev, dup := versions[version]; dup {
			return fmt.Errorf("version %d used by both %s and %s", version, prev, name)
		}
		versions[version] = name

		body, err := fs.ReadFile(migrations, name)
		if err != nil {
			return fmt.Errorf("read %s: %w", name, err)
		}
		if err := checkMarkers(body); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

func versionOf(name string) (int64, error) {
	stem := strings.TrimSuffix(path.Base(name), ".sql")
	prefix, slug, ok := strings.Cut(stem, "_")
	if !ok || slug == "" || slugify(slug) != slug {
		return 0, fmt.Errorf("migration %q must be named <version>_<lower_snake_name>.sql", name)
	}
	version, err := ParseVersion(prefix)
	if err != nil {
		return 0, fmt.Errorf("migration %q: %w", name, err)
	}
	return version, nil
}

func checkMarkers(body []byte) error {
	var sawUp, sawDown bool
	depth := 0
	scanner := bufio.NewScanner(bytes.NewReader(body))
	for scanner.Scan() {
		switch strings.TrimSpace(scanner.Text()) {
		case markerUp:
			sawUp = true
		case markerDown:
			if !sawUp {
				return errors.New("down section precedes up")
			}
			sawDown = true
		case markerBegin:
			depth++
		case markerEnd:
			depth--
			if depth < 0 {
				return errors.New("unmatched StatementEnd")
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	switch {
	case !sawUp:
		return fmt.Errorf("missing %q", markerUp)
	case !sawDown:
		return fmt.Errorf("missing %q", markerDown)
	case depth != 0:
		return errors.New("unterminated StatementBegin")
	}
	return nil
}
