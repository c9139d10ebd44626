package ncp

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"i4.energy/across/lorancp/at"
)

func TestDownlinkRoundTrip(t *testing.T) {
	for _, n := range []int{0, 1, 16, 255} {
		t.Run(fmt.Sprintf("%d bytes", n), func(t *testing.T) {
			data := make([]byte, n)
			for i := range data {
				data[i] = byte(i * 7)
			}

			got, err := decodeDownlink(fmt.Sprintf("%02X:%s", n, encodePayload(data)))

			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !bytes.Equal(got, data) {
				t.Errorf("decoded %X, want %X", got, data)
			}
		})
	}
}

func TestDecodeDownlink(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    []byte
		wantErr bool
	}{
		{"lower case", "02:cafe", []byte{0xCA, 0xFE}, false},
		{"upper case", "02:CAFE", []byte{0xCA, 0xFE}, false},
		{"empty", "", nil, true},
		{"missing delimiter", "0201", nil, true},
		{"bad length", "ZZ:", nil, true},
		{"odd payload", "02:CAF", nil, true},
		{"not hex", "01:GG", nil, true},
		{"short payload", "03:CAFE", nil, true},
		{"long payload", "01:CAFE", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decodeDownlink(tt.in)

			if tt.wantErr {
				if !errors.Is(err, at.ErrResponseUnexpected) {
					t.Errorf("expected ErrResponseUnexpected, got: %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !bytes.Equal(got, tt.want) {
				t.Errorf("decoded %X, want %X", got, tt.want)
			}
		})
	}
}

func TestColonHex(t *testing.T) {
	tests := []struct {
		in   []byte
		want string
	}{
		{nil, ""},
		{[]byte{0x0A}, "0A"},
		{[]byte{0x01, 0xAB, 0xFF}, "01:AB:FF"},
	}

	for _, tt := range tests {
		if got := colonHex(tt.in); got != tt.want {
			t.Errorf("colonHex(%X) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestJoinStateString(t *testing.T) {
	tests := map[JoinState]string{
		JoinInit:     "init",
		JoinJoining:  "joining",
		JoinJoined:   "joined",
		JoinFailed:   "failed",
		JoinState(9): "unknown",
	}

	for state, want := range tests {
		if got := state.String(); got != want {
			t.Errorf("JoinState(%d).String() = %q, want %q", int(state), got, want)
		}
	}
}
