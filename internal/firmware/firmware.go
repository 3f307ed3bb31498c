package firmware

import (
	_ "embed"
	"fmt"
	"log"

	"github.com/hashicorp/go-version"
	"gopkg.in/yaml.v3"

	"github.com/zl2brg/cudasdr/internal/protocol"
)

//go:embed requirements.yaml
var defaultTable []byte

// Requirement is the minimum firmware one board needs
type Requirement struct {
	Board       protocol.BoardID `yaml:"board"`
	Name        string           `yaml:"name"`
	Constraint  string           `yaml:"constraint"`
	Remediation string           `yaml:"remediation"`
}

type tableFile struct {
	Requirements []Requirement `yaml:"requirements"`
}

// Source looks up the requirement for a board. found is false when the
// board has no entry.
type Source interface {
	Requirement(board protocol.BoardID) (req Requirement, found bool, err error)
}

// Table is an in-memory Source
type Table map[protocol.BoardID]Requirement

// Requirement implements Source
func (t Table) Requirement(board protocol.BoardID) (Requirement, bool, error) {
	req, ok := t[board]
	return req, ok, nil
}

// List returns the entries ordered by board id
func (t Table) List() []Requirement {
	out := make([]Requirement, 0, len(t))
	for b := 0; b < 256; b++ {
		if req, ok := t[protocol.BoardID(b)]; ok {
			out = append(out, req)
		}
	}
	return out
}

// ParseTable reads a YAML requirement table and validates every constraint
func ParseTable(data []byte) (Table, error) {
	var file tableFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse firmware table: %w", err)
	}

	table := make(Table, len(file.Requirements))
	for _, req := range file.Requirements {
		if _, err := version.NewConstraint(req.Constraint); err != nil {
			return nil, fmt.Errorf("board %d: bad constraint %q: %w", req.Board, req.Constraint, err)
		}
		if _, dup := table[req.Board]; dup {
			return nil, fmt.Errorf("board %d listed twice", req.Board)
		}
		if req.Name == "" {
			req.Name = req.Board.String()
		}
		table[req.Board] = req
	}
	return table, nil
}

// DefaultTable returns the built-in requirement table
func DefaultTable() Table {
	table, err := ParseTable(defaultTable)
	if err != nil {
		panic(err)
	}
	return table
}

// Checker validates discovered firmware against a Source
type Checker struct {
	source Source
}

// NewChecker creates a checker. A nil source selects the built-in table.
func NewChecker(source Source) *Checker {
	if source == nil {
		source = DefaultTable()
	}
	return &Checker{source: source}
}

// Check returns a *protocol.FirmwareError when version does not satisfy the
// board's constraint. Boards without an entry are accepted with a warning.
func (c *Checker) Check(board protocol.BoardID, found string) error {
	req, ok, err := c.source.Requirement(board)
	if err != nil {
		return fmt.Errorf("firmware lookup for %s: %w", board, err)
	}
	if !ok {
		log.Printf("[WARN] Firmware: no requirement for board %s (%d), accepting %s", board, board, found)
		return nil
	}

	v, err := version.NewVersion(found)
	if err != nil {
		return &protocol.FirmwareError{
			Board:       req.Name,
			Found:       found,
			Constraint:  req.Constraint,
			Remediation: "radio reported an unreadable version: " + err.Error(),
		}
	}
	constraints, err := version.NewConstraint(req.Constraint)
	if err != nil {
		return fmt.Errorf("board %s: bad constraint %q: %w", req.Name, req.Constraint, err)
	}

	if !constraints.Check(v) {
		return &protocol.FirmwareError{
			Board:       req.Name,
			Found:       found,
			Constraint:  req.Constraint,
			Remediation: req.Remediation,
		}
	}

	log.Printf("[DEBUG] Firmware: %s %s satisfies %s", req.Name, found, req.Constraint)
	return nil
}
