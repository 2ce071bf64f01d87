// Command validate checks a published event store for integrity: header,
// required fields, strict dates, ascending order, unique identities, no
// trailing newline, and optionally that the mirror copy is byte-identical.
//
// Usage:
//
//	go run ./cmd/validate -store data/events.csv -mirror public/data/events.csv
package main

import (
	"bytes"
	"encoding/csv"
	"flag"
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/cprunner/park-events-etl/internal/adapter/csvstore"
	"github.com/cprunner/park-events-etl/internal/domain"
)

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

func main() {
	storePath := flag.String("store", "data/events.csv", "path to the event store CSV")
	mirrorPath := flag.String("mirror", "", "optional path to the mirror copy")
	flag.Parse()

	if code := run(*storePath, *mirrorPath); code != 0 {
		os.Exit(code)
	}
}

func run(storePath, mirrorPath string) int {
	fmt.Println("=== Event Store Validation ===")
	fmt.Println()

	data, err := os.ReadFile(storePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: read store: %v\n", err)
		return 1
	}

	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: parse store: %v\n", err)
		return 1
	}

	phases := validate(data, rows)
	if mirrorPath != "" {
		phases = append(phases, validateMirror(data, mirrorPath))
	}

	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Printf("  %-30s %s\n", p.name, status)
	}

	fmt.Println()
	fmt.Printf("Records: %d\n", max(len(rows)-1, 0))

	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Printf("\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			fmt.Printf("  [%d] %s\n", i+1, e)
		}
	}

	if allPassed {
		fmt.Println("\nAll validations passed.")
		return 0
	}
	fmt.Println("\nValidation FAILED.")
	return 1
}

// validate runs every content check against the raw file and its parsed rows.
func validate(data []byte, rows [][]string) []*phase {
	return []*phase{
		validateHeader(rows),
		validateFields(rows),
		validateOrder(rows),
		validateUnique(rows),
		validateTrailingNewline(data),
	}
}

func validateHeader(rows [][]string) *phase {
	p := &phase{name: "Header"}
	if len(rows) == 0 {
		p.errorf("file is empty")
		return p
	}
	if !slices.Equal(rows[0], csvstore.Header) {
		p.errorf("header %v, want %v", rows[0], csvstore.Header)
	}
	return p
}

func validateFields(rows [][]string) *phase {
	p := &phase{name: "Required fields and dates"}
	for i, row := range records(rows) {
		line := i + 2
		if len(row) != len(csvstore.Header) {
			p.errorf("line %d: %d columns, want %d", line, len(row), len(csvstore.Header))
			continue
		}
		if row[0] == "" {
			p.errorf("line %d: empty EVENT_NAME", line)
		}
		if _, err := time.Parse("2006-01-02", row[1]); err != nil {
			p.errorf("line %d: DATE %q is not YYYY-MM-DD", line, row[1])
		}
	}
	return p
}

func validateOrder(rows [][]string) *phase {
	p := &phase{name: "Ascending date order"}
	prev := ""
	for i, row := range records(rows) {
		if len(row) < 2 {
			continue
		}
		if row[1] < prev {
			p.errorf("line %d: %s follows %s", i+2, row[1], prev)
		}
		prev = row[1]
	}
	return p
}

func validateUnique(rows [][]string) *phase {
	p := &phase{name: "Unique name+date"}
	seen := make(map[string]int)
	for i, row := range records(rows) {
		if len(row) < 2 {
			continue
		}
		key := domain.DedupKey(domain.CanonicalEvent{Name: row[0], Date: row[1]})
		if first, ok := seen[key]; ok {
			p.errorf("line %d: duplicate of line %d (%s)", i+2, first, key)
			continue
		}
		seen[key] = i + 2
	}
	return p
}

func validateTrailingNewline(data []byte) *phase {
	p := &phase{name: "No trailing newline"}
	if bytes.HasSuffix(data, []byte("\n")) {
		p.errorf("file ends with a newline")
	}
	return p
}

func validateMirror(data []byte, mirrorPath string) *phase {
	p := &phase{name: "Mirror identical"}
	mirror, err := os.ReadFile(mirrorPath)
	if err != nil {
		p.errorf("read mirror: %v", err)
		return p
	}
	if !bytes.Equal(data, mirror) {
		p.errorf("mirror %s differs from store (%d vs %d bytes)", mirrorPath, len(mirror), len(data))
	}
	return p
}

func records(rows [][]string) [][]string {
	if len(rows) <= 1 {
		return nil
	}
	return rows[1:]
}
