package stm32

import "encoding/binary"

// Framing bytes of the STM32 USART bootloader (ST AN3155).
const (
	syncByte = 0x7F
	ackByte  = 0x79
	nackByte = 0x1F
)

// Command codes. Each is sent followed by its complement.
const (
	cmdGet           = 0x00
	cmdGetID         = 0x02
	cmdReadMemory    = 0x11
	cmdGo            = 0x21
	cmdWriteMemory   = 0x31
	cmdErase         = 0x43
	cmdExtendedErase = 0x44
)

const (
	// blockSize is the largest payload of a single read or write.
	blockSize = 256
	// DefaultFlashBase is the start of main flash on STM32 parts.
	DefaultFlashBase = 0x08000000
)

// checksum is the XOR of all bytes.
func checksum(b []byte) byte {
	var x byte
	for _, v := range b {
		x ^= v
	}
	return x
}

func commandFrame(code byte) []byte {
	return []byte{code, ^code}
}

// addressFrame is the big-endian address followed by its checksum.
func addressFrame(addr uint32) []byte {
	b := binary.BigEndian.AppendUint32(make([]byte, 0, 5), addr)
	return append(b, checksum(b))
}

// writeFrame is N-1, the data padded to a multiple of four with 0xFF, and
// the checksum over both.
func writeFrame(data []byte) []byte {
	padded := len(data)
	if r := padded % 4; r != 0 {
		padded += 4 - r
	}

	b := make([]byte, 0, padded+2)
	b = append(b, byte(padded-1))
	b = append(b, data...)
	for len(b) < padded+1 {
		b = append(b, 0xFF)
	}
	return append(b, checksum(b))
}

// readLengthFrame is N-1 followed by its complement.
func readLengthFrame(n int) []byte {
	l := byte(n - 1)
	return []byte{l, ^l}
}

// massEraseFrame selects a global erase for the given erase command.
func massEraseFrame(code byte) []byte {
	if code == cmdExtendedErase {
		return []byte{0xFF, 0xFF, 0x00}
	}
	return []byte{0xFF, 0x00}
}
