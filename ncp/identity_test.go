package ncp_test

import (
	"net"
	"testing"

	"github.com/brocaar/lorawan"

	"i4.energy/across/lorancp/ncp"
)

func TestDevEUIFromMAC(t *testing.T) {
	t.Run("inserts two zero bytes after the OUI", func(t *testing.T) {
		mac := net.HardwareAddr{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF}

		eui, err := ncp.DevEUIFromMAC(mac)

		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		want := lorawan.EUI64{0xAA, 0xBB, 0xCC, 0x00, 0x00, 0xDD, 0xEE, 0xFF}
		if eui != want {
			t.Errorf("DevEUIFromMAC() = %s, want %s", eui, want)
		}
	})

	t.Run("rejects EUI-64 hardware addresses", func(t *testing.T) {
		mac := net.HardwareAddr{1, 2, 3, 4, 5, 6, 7, 8}

		if _, err := ncp.DevEUIFromMAC(mac); err == nil {
			t.Error("expected error for 8-byte address")
		}
	})
}
