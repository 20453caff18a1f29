package store

import (
	"regexp"
	"sort"
	"testing"
)

func TestMigrationsHaveMatchingUpAndDownFiles(t *testing.T) {
	entries, err := migrationFiles.ReadDir("migrations")
	if err != nil {
		t.Fatalf("read embedded migrations: %v", err)
	}

	pattern := regexp.MustCompile(`^(\d+)_.*\.(up|down)\.sql$`)
	byVersion := map[string]map[string]bool{}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		match := pattern.FindStringSubmatch(name)
		if match == nil {
			t.Fatalf("migration %s does not match <version>_<name>.(up|down).sql", name)
		}
		version := match[1]
		direction := match[2]
		if byVersion[version] == nil {
			byVersion[version] = map[string]bool{}
		}
		if byVersion[version][direction] {
			t.Fatalf("duplicate %s migration file for version %s", direction, version)
		}
		byVersion[version][direction] = true
	}

	if len(byVersion) == 0 {
		t.Fatal("no migrations discovered")
	}

	for version, dirs := range byVersion {
		if !dirs["up"] || !dirs["down"] {
			t.Fatalf("version %s must include both up and down files", version)
		}
	}
}

func TestMigrationsApplyInVersionOrder(t *testing.T) {
	entries, err := migrationFiles.ReadDir("migrations")
	if err != nil {
		t.Fatalf("read embedded migrations: %v", err)
	}

	var ups []string
	for _, entry := range entries {
		name := entry.Name()
		if !entry.IsDir() && regexp.MustCompile(`\.up\.sql$`).MatchString(name) {
			ups = append(ups, name)
		}
	}

	// ApplyMigrations sorts lexically; zero-padded versions keep that equal to
	// numeric order.
	sorted := append([]string{}, ups...)
	sort.Strings(sorted)
	for at := range ups {
		if ups[at] != sorted[at] {
			t.Fatalf("embedded order %v differs from lexical order %v", ups, sorted)
		}
	}

	versioned := regexp.MustCompile(`^\d{4}_`)
	for _, name := range ups {
		if !versioned.MatchString(name) {
			t.Fatalf("migration %s must carry a zero-padded version prefix", name)
		}
	}
}
