package ncp

import (
	"fmt"
	"net"
	"strings"

	"github.com/brocaar/lorawan"
)

// Identity is what the module is provisioned with before joining.
type Identity struct {
	DevEUI  lorawan.EUI64
	JoinEUI lorawan.EUI64
	AppKey  lorawan.AES128Key
}

// DevEUIFromMAC pads a 48-bit MAC to an EUI-64 by inserting two zero bytes
// after the OUI: AA:BB:CC:DD:EE:FF becomes AA:BB:CC:00:00:DD:EE:FF.
func DevEUIFromMAC(mac net.HardwareAddr) (lorawan.EUI64, error) {
	var eui lorawan.EUI64
	if len(mac) != 6 {
		return eui, fmt.Errorf("ncp: MAC must be 6 bytes, got %d", len(mac))
	}
	copy(eui[:3], mac[:3])
	copy(eui[5:], mac[3:])
	return eui, nil
}

// colonHex formats b the way the module expects EUIs and keys:
// upper case hex bytes separated by ':'.
func colonHex(b []byte) string {
	var sb strings.Builder
	sb.Grow(len(b) * 3)
	for i, v := range b {
		if i > 0 {
			sb.WriteByte(':')
		}
		fmt.Fprintf(&sb, "%02X", v)
	}
	return sb.String()
}
