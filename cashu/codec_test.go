package cashu

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleToken() *Token {
	return &Token{
		Mint: "https://mint.example.com",
		Unit: "sat",
		Memo: "thanks",
		Proofs: Proofs{
			{Amount: 2, ID: "009a1f293253e41e", Secret: "407915bc212be61a77e3e6d2aeb4c727980bda51cd06a6afc29e2861768a7837", C: "02bc9097997d81afb2cc7346b5e4345a9346bd2a506eb7958598a72f0cf85163ea"},
			{Amount: 8, ID: "009a1f293253e41e", Secret: "fe15109314e61d7756b0f8ee0f23a624acaa3f4e042f61433c728c7057b931be", C: "029e8e5050b890a7d6c0968db16bc1d5d5fa040ea1de284f6ec69d61299f671059"},
			{Amount: 1, ID: "00ad268c4d1f5826", Secret: "acc12435e7b8484c3cf1850149218af90f716a52bf4a5ed347e48ecc13f77388", C: "0244538319de485d55bed3b29a642bee5879375ab9e7a620e11e48ba482421f3cf"},
		},
	}
}

func TestParseRoundTrip(t *testing.T) {
	legacy, err := EncodeA(sampleToken())
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(legacy, PrefixA))

	first, err := Parse(legacy)
	require.NoError(t, err)
	assert.Equal(t, VersionA, first.Version)
	assert.Equal(t, uint64(11), first.Amount())
	assert.Equal(t, "https://mint.example.com", first.Mint)

	again, err := Parse(legacy)
	require.NoError(t, err)
	assert.Equal(t, first, again)

	encoded, err := Encode(first)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(encoded, PrefixB))

	second, err := Parse(encoded)
	require.NoError(t, err)
	assert.Equal(t, VersionB, second.Version)
	assert.Equal(t, first.Amount(), second.Amount())
	assert.Equal(t, first.Mint, second.Mint)
	assert.Equal(t, first.Memo, second.Memo)
	assert.Equal(t, []string{"009a1f293253e41e", "00ad268c4d1f5826"}, second.Keysets())
	assert.Equal(t, first.Proofs, second.Proofs)
}

func TestParsePaddingCorrection(t *testing.T) {
	legacy, err := EncodeA(sampleToken())
	require.NoError(t, err)

	_, err = Parse(strings.TrimRight(legacy, "="))
	assert.NoError(t, err)

	_, err = Parse("  " + legacy + "\n")
	assert.NoError(t, err)
}

func TestParseMalformed(t *testing.T) {
	short := PrefixA + base64.URLEncoding.EncodeToString([]byte("{}"))
	notEnvelope := PrefixA + base64.URLEncoding.EncodeToString([]byte(`["not","an","envelope"]`))
	noProofs := PrefixA + base64.URLEncoding.EncodeToString([]byte(`{"token":[{"mint":"https://m","proofs":[]}]}`))
	twoMints := PrefixA + base64.URLEncoding.EncodeToString([]byte(`{"token":[{"mint":"https://a","proofs":[{"amount":1,"id":"00","secret":"s","C":"02"}]},{"mint":"https://b","proofs":[]}]}`))
	badCBOR := PrefixB + base64.RawURLEncoding.EncodeToString([]byte("definitely not cbor"))

	tests := []struct {
		name string
		raw  string
	}{
		{"empty", ""},
		{"unknown prefix", "cashuC" + base64.URLEncoding.EncodeToString([]byte(strings.Repeat("x", 20)))},
		{"plain text", "hello world"},
		{"not base64", PrefixA + "!!!!****"},
		{"too short", short},
		{"legacy not an envelope", notEnvelope},
		{"legacy without proofs", noProofs},
		{"legacy with two mints", twoMints},
		{"bad cbor", badCBOR},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.raw)
			assert.ErrorIs(t, err, ErrMalformedToken)
		})
	}
}

func TestSplitAmount(t *testing.T) {
	tests := []struct {
		amount uint64
		want   []uint64
	}{
		{0, nil},
		{1, []uint64{1}},
		{2, []uint64{2}},
		{11, []uint64{1, 2, 8}},
		{64, []uint64{64}},
		{1000, []uint64{8, 32, 64, 128, 256, 512}},
	}

	for _, tt := range tests {
		got := SplitAmount(tt.amount)
		assert.Equal(t, tt.want, got, "amount %d", tt.amount)

		var sum uint64
		for _, v := range got {
			sum += v
		}
		assert.Equal(t, tt.amount, sum)
	}
}
