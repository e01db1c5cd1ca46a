package cti

import "testing"

func TestTableForVersionPicksNewestNotNewer(t *testing.T) {
	next, err := NewTable("1.4.0", newLayout(CmdLogin, false, str("username", 32), str("password", 32)))
	if err != nil {
		t.Fatalf("new table: %v", err)
	}
	RegisterTable(next)
	t.Cleanup(func() {
		registryMu.Lock()
		delete(registry, next.Version())
		registryMu.Unlock()
	})

	tests := []struct {
		requested string
		want      string
	}{
		{"v1.0.0", "v1.0.0"},
		{"1.2.3", "v1.0.0"},
		{"v1.4.0", "v1.4.0"},
		{"v2.0.0", "v1.4.0"},
	}
	for _, tc := range tests {
		got, err := TableForVersion(tc.requested)
		if err != nil {
			t.Fatalf("%s: %v", tc.requested, err)
		}
		if got.Version() != tc.want {
			t.Fatalf("%s: expected %s, got %s", tc.requested, tc.want, got.Version())
		}
	}

	if _, err := TableForVersion("v0.9.0"); err == nil {
		t.Fatalf("expected error for version older than every table")
	}
	if _, err := TableForVersion("not-a-version"); err == nil {
		t.Fatalf("expected error for invalid version")
	}
}

func TestNewTableRejectsDuplicates(t *testing.T) {
	_, err := NewTable("v1.0.1",
		newLayout(CmdLogin, false, str("username", 32)),
		newLayout(CmdLogin, false, str("username", 16)),
	)
	if err == nil {
		t.Fatalf("expected duplicate layout error")
	}
}

func TestCodecUsesItsOwnTable(t *testing.T) {
	narrow, err := NewTable("v1.0.2", newLayout(CmdLogin, false, str("username", 8).required()))
	if err != nil {
		t.Fatalf("new table: %v", err)
	}
	codec := NewCodec(narrow)

	frame, err := codec.Encode(CmdLogin, Values{"username": "op"})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if len(frame) != PayloadOffset+8+ChecksumSize {
		t.Fatalf("expected %d bytes, got %d", PayloadOffset+8+ChecksumSize, len(frame))
	}

	if _, _, err := Decode(frame); err == nil {
		t.Fatalf("expected default table to reject the narrow login frame")
	}
	if len(codec.Table().Commands()) != 1 {
		t.Fatalf("expected one command in narrow table")
	}
}
