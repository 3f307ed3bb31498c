package firmware

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/zl2brg/cudasdr/internal/database"
	"github.com/zl2brg/cudasdr/internal/protocol"
)

func TestDefaultTable(t *testing.T) {
	table := DefaultTable()

	for _, board := range []protocol.BoardID{
		protocol.BOARD_METIS,
		protocol.BOARD_HERMES,
		protocol.BOARD_ANGELIA,
		protocol.BOARD_ORION,
		protocol.BOARD_HERMES_LITE,
	} {
		req, ok, _ := table.Requirement(board)
		if !ok {
			t.Errorf("no requirement for %s", board)
			continue
		}
		if req.Constraint == "" || req.Remediation == "" {
			t.Errorf("%s requirement incomplete: %+v", board, req)
		}
	}

	list := table.List()
	for i := 1; i < len(list); i++ {
		if list[i-1].Board >= list[i].Board {
			t.Fatalf("List() not ordered by board: %+v", list)
		}
	}
}

func TestParseTableErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{name: "not yaml", yaml: "requirements: [}"},
		{name: "bad constraint", yaml: "requirements:\n  - board: 1\n    constraint: \"newest please\"\n"},
		{name: "duplicate board", yaml: "requirements:\n  - board: 1\n    constraint: \">= 1.0\"\n  - board: 1\n    constraint: \">= 2.0\"\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseTable([]byte(tt.yaml)); err == nil {
				t.Error("Expected error but got none")
			}
		})
	}
}

func TestParseTableDefaultsName(t *testing.T) {
	table, err := ParseTable([]byte("requirements:\n  - board: 4\n    constraint: \">= 2.1\"\n"))
	if err != nil {
		t.Fatalf("ParseTable() error: %v", err)
	}
	if table[protocol.BOARD_ANGELIA].Name != "Angelia" {
		t.Errorf("Name = %q, want Angelia", table[protocol.BOARD_ANGELIA].Name)
	}
}

func TestCheck(t *testing.T) {
	table := Table{
		protocol.BOARD_HERMES: {Board: protocol.BOARD_HERMES, Name: "Hermes", Constraint: ">= 2.9", Remediation: "upgrade"},
	}
	checker := NewChecker(table)

	tests := []struct {
		name    string
		board   protocol.BoardID
		version string
		wantErr bool
	}{
		{name: "newer", board: protocol.BOARD_HERMES, version: "3.2"},
		{name: "exact", board: protocol.BOARD_HERMES, version: "2.9"},
		{name: "too old", board: protocol.BOARD_HERMES, version: "1.8", wantErr: true},
		{name: "unreadable", board: protocol.BOARD_HERMES, version: "v?", wantErr: true},
		{name: "unknown board accepted", board: protocol.BoardID(0x0A), version: "0.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := checker.Check(tt.board, tt.version)
			if !tt.wantErr {
				if err != nil {
					t.Errorf("Check() error: %v", err)
				}
				return
			}

			var fwErr *protocol.FirmwareError
			if !errors.As(err, &fwErr) {
				t.Fatalf("Check() error = %v, want *FirmwareError", err)
			}
			if !errors.Is(err, protocol.ErrFirmwareIncompatible) {
				t.Error("error does not match ErrFirmwareIncompatible")
			}
			if fwErr.Board != "Hermes" || fwErr.Found != tt.version || fwErr.Constraint != ">= 2.9" {
				t.Errorf("FirmwareError = %+v", fwErr)
			}
		})
	}
}

type failingSource struct{}

func (failingSource) Requirement(protocol.BoardID) (Requirement, bool, error) {
	return Requirement{}, false, errors.New("disk on fire")
}

func TestCheckSourceError(t *testing.T) {
	err := NewChecker(failingSource{}).Check(protocol.BOARD_HERMES, "3.0")
	if err == nil || errors.Is(err, protocol.ErrFirmwareIncompatible) {
		t.Errorf("Check() error = %v, want a lookup error", err)
	}
}

func TestNewCheckerDefaultsToBuiltIn(t *testing.T) {
	if err := NewChecker(nil).Check(protocol.BOARD_HERMES, "1.0"); err == nil {
		t.Error("built-in table should reject Hermes 1.0")
	}
}

func newTestRepository(t *testing.T) *database.FirmwareRepository {
	t.Helper()
	db, err := database.NewDB(database.Config{Path: filepath.Join(t.TempDir(), "fw.db")}, nil)
	if err != nil {
		t.Fatalf("NewDB() error: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return database.NewFirmwareRepository(db.GetDB())
}

func TestDatabaseSource(t *testing.T) {
	repo := newTestRepository(t)
	if err := Seed(repo, DefaultTable()); err != nil {
		t.Fatalf("Seed() error: %v", err)
	}

	source := NewDatabaseSource(repo)
	checker := NewChecker(source)

	if err := checker.Check(protocol.BOARD_HERMES, "3.1"); err != nil {
		t.Errorf("Check(Hermes 3.1) error: %v", err)
	}
	if err := checker.Check(protocol.BOARD_HERMES, "2.0"); !errors.Is(err, protocol.ErrFirmwareIncompatible) {
		t.Errorf("Check(Hermes 2.0) error = %v, want incompatible", err)
	}
	if err := checker.Check(protocol.BoardID(0x0A), "1.0"); err != nil {
		t.Errorf("unknown board error: %v", err)
	}

	lookups, hits, misses, failures := source.GetStats()
	if lookups != 3 || hits != 1 || misses != 2 || failures != 0 {
		t.Errorf("GetStats() = %d/%d/%d/%d, want 3/1/2/0", lookups, hits, misses, failures)
	}
}

func TestDatabaseSourceSeesEditsAfterClear(t *testing.T) {
	repo := newTestRepository(t)
	if err := Seed(repo, DefaultTable()); err != nil {
		t.Fatalf("Seed() error: %v", err)
	}
	source := NewDatabaseSource(repo)

	if req, _, _ := source.Requirement(protocol.BOARD_HERMES); req.Constraint != ">= 2.9" {
		t.Fatalf("seeded constraint = %q", req.Constraint)
	}

	err := repo.Upsert(&database.FirmwareRequirement{Board: uint8(protocol.BOARD_HERMES), Name: "Hermes", Constraint: ">= 3.5"})
	if err != nil {
		t.Fatalf("Upsert() error: %v", err)
	}

	if req, _, _ := source.Requirement(protocol.BOARD_HERMES); req.Constraint != ">= 2.9" {
		t.Errorf("cached constraint = %q, want the old value", req.Constraint)
	}
	source.ClearCache()
	if req, _, _ := source.Requirement(protocol.BOARD_HERMES); req.Constraint != ">= 3.5" {
		t.Errorf("constraint after ClearCache = %q, want >= 3.5", req.Constraint)
	}
}
