package keychain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

func TestNew(t *testing.T) {
	tests := []struct {
		name     string
		mnemonic string
		wantErr  bool
	}{
		{"valid", testMnemonic, false},
		{"extra spaces", "  " + strings.ReplaceAll(testMnemonic, " ", "   ") + " ", false},
		{"empty", "", true},
		{"eleven words", strings.Join(strings.Fields(testMnemonic)[:11], " "), true},
		{"bad checksum", strings.Repeat("abandon ", 12), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.mnemonic)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidMnemonic)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestGenerateMnemonic(t *testing.T) {
	for _, words := range []int{12, 24} {
		m, err := GenerateMnemonic(words)
		require.NoError(t, err)
		assert.Len(t, strings.Fields(m), words)

		_, err = New(m)
		assert.NoError(t, err)
	}

	_, err := GenerateMnemonic(15)
	assert.ErrorIs(t, err, ErrInvalidMnemonic)
}

func TestKeysetIndex(t *testing.T) {
	idx, err := KeysetIndex("009a1f293253e41e")
	require.NoError(t, err)
	assert.Equal(t, uint32(864559728), idx)

	path, err := Path("009a1f293253e41e")
	require.NoError(t, err)
	assert.Equal(t, "m/129372'/0'/864559728'", path)

	_, err = KeysetIndex("not-hex")
	assert.Error(t, err)
}

func TestDeriveDeterministic(t *testing.T) {
	k, err := New(testMnemonic)
	require.NoError(t, err)

	s0, r0, err := k.Derive("009a1f293253e41e", 0)
	require.NoError(t, err)
	s0again, r0again, err := k.Derive("009a1f293253e41e", 0)
	require.NoError(t, err)
	s1, _, err := k.Derive("009a1f293253e41e", 1)
	require.NoError(t, err)

	assert.Len(t, s0, 64)
	assert.Equal(t, s0, s0again)
	assert.Equal(t, r0.Serialize(), r0again.Serialize())
	assert.NotEqual(t, s0, s1)
}
