package database

import (
	"net"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/zl2brg/cudasdr/internal/network"
	"github.com/zl2brg/cudasdr/internal/protocol"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewDB(Config{Path: filepath.Join(t.TempDir(), "cudasdr.db")}, nil)
	if err != nil {
		t.Fatalf("NewDB() error: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func testDevice() network.Device {
	return network.Device{
		Address:     &net.UDPAddr{IP: net.IPv4(192, 168, 1, 50), Port: 1024},
		MAC:         net.HardwareAddr{0x00, 0x1C, 0xC0, 0xA2, 0x13, 0x4F},
		CodeVersion: 31,
		Board:       protocol.BOARD_HERMES,
	}
}

func TestNewDBHealth(t *testing.T) {
	db := openTestDB(t)
	if err := db.Health(); err != nil {
		t.Errorf("Health() error: %v", err)
	}
}

func TestNewDBAppliesPragmas(t *testing.T) {
	tests := []struct {
		name        string
		config      Config
		wantJournal string
		wantBusy    int
		wantSync    int // 1 NORMAL, 2 FULL
	}{
		{"defaults", Config{}, "wal", 5000, 1},
		{"rollback journal", Config{JournalMode: "delete", BusyTimeout: 750 * time.Millisecond}, "delete", 750, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.config
			cfg.Path = filepath.Join(t.TempDir(), "cudasdr.db")
			db, err := NewDB(cfg, nil)
			if err != nil {
				t.Fatalf("NewDB() error: %v", err)
			}
			defer db.Close()

			var journal string
			var busy, sync int
			gdb := db.GetDB()
			if err := gdb.Raw("PRAGMA journal_mode").Scan(&journal).Error; err != nil {
				t.Fatalf("journal_mode: %v", err)
			}
			if err := gdb.Raw("PRAGMA busy_timeout").Scan(&busy).Error; err != nil {
				t.Fatalf("busy_timeout: %v", err)
			}
			if err := gdb.Raw("PRAGMA synchronous").Scan(&sync).Error; err != nil {
				t.Fatalf("synchronous: %v", err)
			}

			if journal != tt.wantJournal {
				t.Errorf("journal_mode = %q, want %q", journal, tt.wantJournal)
			}
			if busy != tt.wantBusy {
				t.Errorf("busy_timeout = %d, want %d", busy, tt.wantBusy)
			}
			if sync != tt.wantSync {
				t.Errorf("synchronous = %d, want %d", sync, tt.wantSync)
			}
			if got := db.Config().SlowQuery; got != DEFAULT_SLOW_QUERY {
				t.Errorf("SlowQuery = %v, want %v", got, DEFAULT_SLOW_QUERY)
			}
		})
	}
}

func TestNewDBRejectsBadConfig(t *testing.T) {
	if _, err := NewDB(Config{}, nil); err == nil {
		t.Error("expected an error without a path")
	}
	path := filepath.Join(t.TempDir(), "cudasdr.db")
	if _, err := NewDB(Config{Path: path, JournalMode: "sideways"}, nil); err == nil {
		t.Error("expected an error for an unknown journal mode")
	}
}

func TestConfigDSN(t *testing.T) {
	dsn := Config{Path: "data/cudasdr.db", BusyTimeout: time.Second}.DSN()
	for _, want := range []string{"data/cudasdr.db?", "busy_timeout%281000%29", "journal_mode%28WAL%29", "synchronous%28NORMAL%29"} {
		if !strings.Contains(dsn, want) {
			t.Errorf("DSN %q does not contain %q", dsn, want)
		}
	}
}

func TestRadioUpsertKeepsFirstSeen(t *testing.T) {
	db := openTestDB(t)
	repo := NewRadioRepository(db.GetDB())

	r := &Radio{MAC: " 00:1C:C0:A2:13:4F ", Board: 1, BoardName: "Hermes", Firmware: "3.1"}
	if err := repo.Upsert(r); err != nil {
		t.Fatalf("Upsert() error: %v", err)
	}
	first, err := repo.GetByMAC("00:1c:c0:a2:13:4f")
	if err != nil {
		t.Fatalf("GetByMAC() error: %v", err)
	}

	time.Sleep(10 * time.Millisecond)
	if err := repo.Upsert(&Radio{MAC: "00:1c:c0:a2:13:4f", Board: 1, BoardName: "Hermes", Firmware: "3.2"}); err != nil {
		t.Fatalf("second Upsert() error: %v", err)
	}
	second, _ := repo.GetByMAC("00:1c:c0:a2:13:4f")

	if !second.FirstSeen.Equal(first.FirstSeen) {
		t.Errorf("FirstSeen changed from %v to %v", first.FirstSeen, second.FirstSeen)
	}
	if !second.LastSeen.After(first.LastSeen) {
		t.Errorf("LastSeen did not advance: %v then %v", first.LastSeen, second.LastSeen)
	}
	if second.Firmware != "3.2" {
		t.Errorf("Firmware = %q, want 3.2", second.Firmware)
	}
	if n, _ := repo.Count(); n != 1 {
		t.Errorf("Count() = %d, want 1", n)
	}
}

func TestRadioUpsertValidation(t *testing.T) {
	repo := NewRadioRepository(openTestDB(t).GetDB())

	tests := []struct {
		name  string
		radio *Radio
	}{
		{name: "nil", radio: nil},
		{name: "no mac", radio: &Radio{BoardName: "Hermes"}},
		{name: "short mac", radio: &Radio{MAC: "00:1c"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := repo.Upsert(tt.radio); err == nil {
				t.Error("Expected error but got none")
			}
		})
	}
}

func TestFirmwareSeed(t *testing.T) {
	repo := NewFirmwareRepository(openTestDB(t).GetDB())

	reqs := []FirmwareRequirement{
		{Board: 1, Name: "Hermes", Constraint: ">= 2.9"},
		{Board: 6, Name: "HermesLite", Constraint: ">= 6.0"},
	}
	n, err := repo.Seed(reqs)
	if err != nil {
		t.Fatalf("Seed() error: %v", err)
	}
	if n != 2 {
		t.Errorf("Seed() wrote %d rows, want 2", n)
	}

	// a local edit survives a second seed
	if err := repo.Upsert(&FirmwareRequirement{Board: 1, Name: "Hermes", Constraint: ">= 3.0"}); err != nil {
		t.Fatalf("Upsert() error: %v", err)
	}
	if n, _ := repo.Seed(reqs); n != 0 {
		t.Errorf("second Seed() wrote %d rows, want 0", n)
	}

	req, err := repo.GetByBoard(1)
	if err != nil {
		t.Fatalf("GetByBoard() error: %v", err)
	}
	if req.Constraint != ">= 3.0" {
		t.Errorf("Constraint = %q, want the edited value", req.Constraint)
	}

	list, _ := repo.List()
	if len(list) != 2 || list[0].Board != 1 || list[1].Board != 6 {
		t.Errorf("List() = %+v", list)
	}

	if err := repo.Upsert(&FirmwareRequirement{Board: 2}); err == nil {
		t.Error("Upsert() without constraint should fail")
	}
}

func TestRecorderSessionLifecycle(t *testing.T) {
	db := openTestDB(t)
	rec := NewRecorder(db)
	dev := testDevice()

	if err := rec.RecordRadio(dev); err != nil {
		t.Fatalf("RecordRadio() error: %v", err)
	}
	radio, err := NewRadioRepository(db.GetDB()).GetByMAC("00:1c:c0:a2:13:4f")
	if err != nil {
		t.Fatalf("radio not stored: %v", err)
	}
	if radio.BoardName != "Hermes" || radio.Firmware != "3.1" || radio.Address != "192.168.1.50:1024" {
		t.Errorf("radio = %+v", radio)
	}

	id := uuid.New()
	start := time.Now().Add(-time.Minute)
	if err := rec.StartSession(id, dev, start); err != nil {
		t.Fatalf("StartSession() error: %v", err)
	}

	io := network.IOStats{FramesIn: 1000, SequenceGaps: 2, QueueOverflows: 1, WriteErrors: 3}
	if err := rec.EndSession(id, start.Add(time.Minute), io, 4, 998); err != nil {
		t.Fatalf("EndSession() error: %v", err)
	}

	sessions := NewSessionRepository(db.GetDB())
	s, err := sessions.GetByID(id.String())
	if err != nil {
		t.Fatalf("GetByID() error: %v", err)
	}
	if s.StoppedAt == nil || s.Duration() != time.Minute {
		t.Errorf("Duration() = %v, want 1m", s.Duration())
	}
	if s.FramesIn != 1000 || s.FramesOut != 998 || s.SyncLost != 4 || s.SequenceGaps != 2 || s.QueueOverflows != 1 || s.WriteErrors != 3 {
		t.Errorf("session counters = %+v", s)
	}

	// closing twice is an error
	if err := rec.EndSession(id, time.Now(), io, 0, 0); err == nil {
		t.Error("second EndSession() should fail")
	}

	recent, _ := sessions.ForRadio("00:1c:c0:a2:13:4f", 10)
	if len(recent) != 1 {
		t.Errorf("ForRadio() returned %d sessions, want 1", len(recent))
	}
}
