package firmware_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"i4.energy/across/lorancp/firmware"
)

func TestAssetVersion(t *testing.T) {
	tests := []struct {
		name     string
		expected string
	}{
		{name: "KG200Z-2.1.0.4.bin", expected: "KG200Z-2"},
		{name: "KG200Z", expected: "KG200Z"},
		{name: ".hidden", expected: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, firmware.Asset{Name: tt.name}.Version())
		})
	}
}

func TestFind(t *testing.T) {
	assets := firmware.Static{
		{Name: "README.txt"},
		{Name: "KG200Z-2.1.bin", Data: []byte{1}},
		{Name: "KG200Z-3.0.bin", Data: []byte{2}},
	}

	t.Run("First match wins", func(t *testing.T) {
		a, ok, err := firmware.Find(assets, "KG200Z")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "KG200Z-2.1.bin", a.Name)
	})

	t.Run("No match", func(t *testing.T) {
		_, ok, err := firmware.Find(assets, "RAK3172")
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestDirProvider(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "KG200Z-2.1.bin"), []byte{0xDE, 0xAD}, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "A-notes.txt"), []byte("x"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "KG200Z-old"), 0o755))

	assets, err := firmware.DirProvider{Dir: dir}.Assets()
	require.NoError(t, err)
	require.Len(t, assets, 2)
	assert.Equal(t, "A-notes.txt", assets[0].Name)
	assert.Equal(t, "KG200Z-2.1.bin", assets[1].Name)
	assert.Equal(t, []byte{0xDE, 0xAD}, assets[1].Data)

	_, err = firmware.DirProvider{Dir: filepath.Join(dir, "missing")}.Assets()
	assert.Error(t, err)
}
