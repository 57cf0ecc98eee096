package token

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testProofs = []Proof{
	{Amount: 2, KeysetID: "009a1f293253e41e", Secret: "secret-1", C: "02bc9097997d81afb2cc7346b5e4345a9346bd2a506eb7958598a72f0cf85163ea"},
	{Amount: 8, KeysetID: "009a1f293253e41e", Secret: "secret-2", C: "029e8e5050b890a7d6c0968db16bc1d5d5fa040ea1de284f6ec69d61299f671059"},
}

func TestDecode_V3(t *testing.T) {
	payload, err := EncodeV3("https://mint.example.com/", "sat", "thanks", testProofs)
	require.NoError(t, err)

	d, err := Decode(payload)
	require.NoError(t, err)
	assert.Equal(t, 3, d.Version)
	assert.Equal(t, "https://mint.example.com", d.Mint, "trailing slash is trimmed")
	assert.Equal(t, "sat", d.Unit)
	assert.Equal(t, "thanks", d.Memo)
	assert.Equal(t, uint64(10), d.Amount())
	assert.Equal(t, []string{"secret-1", "secret-2"}, d.Secrets())
}

func TestDecode_V3StandardAlphabetWithPadding(t *testing.T) {
	raw := `{"token":[{"mint":"https://mint.example.com","proofs":[{"amount":1,"id":"00","secret":"s","C":"02"}]}]}`
	payload := "cashuA" + base64.StdEncoding.EncodeToString([]byte(raw))

	d, err := Decode("cashu:" + payload + "\n")
	require.NoError(t, err)
	assert.Equal(t, "https://mint.example.com", d.Mint)
	assert.Len(t, d.Proofs, 1)
}

func TestDecode_V3MultiMintUsesFirst(t *testing.T) {
	raw := `{"token":[` +
		`{"mint":"https://a.example","proofs":[{"amount":1,"id":"00","secret":"a","C":"02"}]},` +
		`{"mint":"https://b.example","proofs":[{"amount":2,"id":"00","secret":"b","C":"02"}]}]}`
	payload := "cashuA" + base64.RawURLEncoding.EncodeToString([]byte(raw))

	d, err := Decode(payload)
	require.NoError(t, err)
	assert.Equal(t, "https://a.example", d.Mint)
	assert.Equal(t, []string{"a", "b"}, d.Secrets())
	assert.Equal(t, uint64(3), d.Amount())
	assert.Equal(t, []string{"a"}, d.SecretsFor(d.Mint))
	assert.Equal(t, []string{"b"}, d.SecretsFor("https://b.example"))
}

func TestDecode_V3FirstMintWithoutProofs(t *testing.T) {
	raw := `{"token":[` +
		`{"mint":"https://a.example","proofs":[]},` +
		`{"mint":"https://b.example","proofs":[{"amount":2,"id":"00","secret":"b","C":"02"}]}]}`
	payload := "cashuA" + base64.RawURLEncoding.EncodeToString([]byte(raw))

	_, err := Decode(payload)
	assert.ErrorIs(t, err, ErrInvalidPayload)
}

func TestDecode_V4(t *testing.T) {
	payload, err := EncodeV4("http://localhost:3338", "sat", "", "009a1f293253e41e", testProofs)
	require.NoError(t, err)

	d, err := Decode(payload)
	require.NoError(t, err)
	assert.Equal(t, 4, d.Version)
	assert.Equal(t, "http://localhost:3338", d.Mint)
	require.Len(t, d.Proofs, 2)
	assert.Equal(t, "009a1f293253e41e", d.Proofs[0].KeysetID)
	assert.Equal(t, testProofs[1].C, d.Proofs[1].C)
	assert.Equal(t, uint64(10), d.Amount())
	assert.Equal(t, []string{"secret-1", "secret-2"}, d.SecretsFor("http://localhost:3338"))
}

func TestDecode_Invalid(t *testing.T) {
	noMint, err := EncodeV3("", "sat", "", testProofs)
	require.NoError(t, err)
	ftpMint, err := EncodeV3("ftp://mint.example.com", "sat", "", testProofs)
	require.NoError(t, err)
	noProofs, err := EncodeV3("https://mint.example.com", "sat", "", nil)
	require.NoError(t, err)

	cases := map[string]string{
		"empty":          "",
		"plain text":     "hello world",
		"bad base64":     "cashuA!!!",
		"bad json":       "cashuA" + base64.RawURLEncoding.EncodeToString([]byte("{not json")),
		"no entries":     "cashuA" + base64.RawURLEncoding.EncodeToString([]byte(`{"token":[]}`)),
		"bad cbor":       "cashuB" + base64.RawURLEncoding.EncodeToString([]byte{0xff, 0x00}),
		"missing mint":   noMint,
		"non-http mint":  ftpMint,
		"missing proofs": noProofs,
	}

	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode(payload)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidPayload)
		})
	}
}

func TestDecoder_FundingSource(t *testing.T) {
	payload, err := EncodeV3("https://mint.example.com", "sat", "", testProofs)
	require.NoError(t, err)

	source, err := Decoder{}.FundingSource(payload)
	require.NoError(t, err)
	assert.Equal(t, "https://mint.example.com", source)

	_, err = Decoder{}.FundingSource("nope")
	assert.ErrorIs(t, err, ErrInvalidPayload)
}
