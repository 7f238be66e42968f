package arc

import (
	"encoding/json"
	"fmt"
	"strings"
)

// BackupMode is how a generation (or a disk within it) was captured.
type BackupMode int

const (
	UnknownMode BackupMode = iota
	Full
	Incremental
	Mixed
)

var modeNames = map[BackupMode]string{
	UnknownMode: "UNKNOWN",
	Full:        "FULL",
	Incremental: "INCREMENTAL",
	Mixed:       "MIXED",
}

func (m BackupMode) String() string {
	if s, ok := modeNames[m]; ok {
		return s
	}
	return fmt.Sprintf("BackupMode(%d)", int(m))
}

// ParseBackupMode parses a mode name, case-insensitively.
func ParseBackupMode(s string) (BackupMode, error) {
	for m, name := range modeNames {
		if strings.EqualFold(s, name) {
			return m, nil
		}
	}
	return UnknownMode, fmt.Errorf("unknown backup mode: %q", s)
}

func (m BackupMode) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

func (m *BackupMode) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("decoding backup mode: %w", err)
	}
	parsed, err := ParseBackupMode(s)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// FoldBackupModes combines per-disk or per-child modes into one. Agreeing
// modes keep their value; any disagreement, including UNKNOWN next to a
// determined mode, yields MIXED, and once MIXED the result stays MIXED.
func FoldBackupModes(modes ...BackupMode) BackupMode {
	if len(modes) == 0 {
		return UnknownMode
	}
	acc := modes[0]
	for _, m := range modes[1:] {
		if acc == Mixed {
			return Mixed
		}
		if m != acc {
			acc = Mixed
		}
	}
	return acc
}
