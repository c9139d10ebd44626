// Package keystore persists the LoRaWAN join credentials as a fixed 24-byte
// record inside a reserved region of a file: 8 bytes JoinEUI followed by
// 16 bytes AppKey, both in transmission order.
package keystore

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/brocaar/lorawan"
)

const (
	// RecordSize is the length of the persisted record.
	RecordSize = 24
	// DefaultOffset is where the record lives inside the reserved region.
	DefaultOffset = 8172

	joinEUIHexLen = 16
	appKeyHexLen  = 32
)

var (
	// ErrNotProvisioned is returned by Load when the file does not yet
	// contain a complete record at the configured offset.
	ErrNotProvisioned = errors.New("keystore: credentials not provisioned")

	// ErrInvalidRecord is returned when a record does not have exactly
	// RecordSize bytes.
	ErrInvalidRecord = errors.New("keystore: invalid record size")

	// ErrInvalidKey is returned by ParseCredentials for keys that are not hex
	// strings of the expected length.
	ErrInvalidKey = errors.New("keystore: invalid key")
)

// Credentials are the per-device secrets needed for an OTAA join.
type Credentials struct {
	JoinEUI lorawan.EUI64
	AppKey  lorawan.AES128Key
}

// IsZero reports whether no credential byte is set, which is what an
// erased region reads back as.
func (c Credentials) IsZero() bool {
	return c == Credentials{}
}

func (c Credentials) MarshalBinary() ([]byte, error) {
	b := make([]byte, RecordSize)
	copy(b[:len(c.JoinEUI)], c.JoinEUI[:])
	copy(b[len(c.JoinEUI):], c.AppKey[:])
	return b, nil
}

func (c *Credentials) UnmarshalBinary(data []byte) error {
	if len(data) != RecordSize {
		return fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidRecord, len(data), RecordSize)
	}
	copy(c.JoinEUI[:], data[:len(c.JoinEUI)])
	copy(c.AppKey[:], data[len(c.JoinEUI):])
	return nil
}

// ParseCredentials accepts hex strings with optional ':' separators, for
// example "70:B3:D5:7E:D0:00:00:01".
func ParseCredentials(joinEUI, appKey string) (Credentials, error) {
	var c Credentials

	eui, err := sanitize("joinEui", joinEUI, joinEUIHexLen)
	if err != nil {
		return c, err
	}
	key, err := sanitize("appKey", appKey, appKeyHexLen)
	if err != nil {
		return c, err
	}

	if err := c.JoinEUI.UnmarshalText([]byte(eui)); err != nil {
		return c, fmt.Errorf("%w: joinEui: %v", ErrInvalidKey, err)
	}
	if err := c.AppKey.UnmarshalText([]byte(key)); err != nil {
		return c, fmt.Errorf("%w: appKey: %v", ErrInvalidKey, err)
	}
	return c, nil
}

func sanitize(name, value string, length int) (string, error) {
	v := strings.ReplaceAll(value, ":", "")
	if len(v) != length {
		return "", fmt.Errorf("%w: %s must be %d characters long", ErrInvalidKey, name, length)
	}
	for _, r := range v {
		if !isHex(r) {
			return "", fmt.Errorf("%w: %s must be a hex string", ErrInvalidKey, name)
		}
	}
	return v, nil
}

func isHex(r rune) bool {
	return (r >= '0' && r <= '9') || (r >= 'a' && r <= 'f') || (r >= 'A' && r <= 'F')
}

// FileStore keeps the record at Offset inside the file at Path. A zero
// Offset selects DefaultOffset.
type FileStore struct {
	Path   string
	Offset int64
}

func (s FileStore) offset() int64 {
	if s.Offset == 0 {
		return DefaultOffset
	}
	return s.Offset
}

// Load reads the record.
func (s FileStore) Load() (Credentials, error) {
	var c Credentials

	f, err := os.Open(s.Path)
	if errors.Is(err, os.ErrNotExist) {
		return c, ErrNotProvisioned
	}
	if err != nil {
		return c, fmt.Errorf("keystore: open: %w", err)
	}
	defer f.Close()

	buf := make([]byte, RecordSize)
	if _, err := f.ReadAt(buf, s.offset()); err != nil {
		if errors.Is(err, io.EOF) {
			return c, ErrNotProvisioned
		}
		return c, fmt.Errorf("keystore: read record: %w", err)
	}

	if err := c.UnmarshalBinary(buf); err != nil {
		return c, err
	}
	return c, nil
}

// Save writes the record, creating the file when needed. Bytes outside the
// record are left untouched.
func (s FileStore) Save(c Credentials) error {
	data, err := c.MarshalBinary()
	if err != nil {
		return err
	}

	f, err := os.OpenFile(s.Path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return fmt.Errorf("keystore: open: %w", err)
	}

	if _, err := f.WriteAt(data, s.offset()); err != nil {
		f.Close()
		return fmt.Errorf("keystore: write record: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("keystore: sync: %w", err)
	}
	return f.Close()
}
