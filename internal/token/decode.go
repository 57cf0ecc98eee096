package token

import (
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/fxamacker/cbor/v2"
)

// ErrInvalidPayload is returned when a payload is not a decodable Cashu token.
var ErrInvalidPayload = errors.New("invalid token payload")

const (
	prefixV3  = "cashuA"
	prefixV4  = "cashuB"
	uriScheme = "cashu:"
)

// Proof is a single ecash proof carried by a token.
type Proof struct {
	Amount   uint64 `json:"amount"`
	KeysetID string `json:"id"`
	Secret   string `json:"secret"`
	C        string `json:"C"`

	// Mint is the mint that issued the proof, set by Decode.
	Mint string `json:"-"`
}

// Decoded is the parsed content of a Cashu token.
//
// Mint is the token's funding source. Multi-mint v3 tokens report the first
// entry's mint; Proofs still lists every entry's proofs.
type Decoded struct {
	Version int     `json:"version"`
	Mint    string  `json:"mint"`
	Unit    string  `json:"unit,omitempty"`
	Memo    string  `json:"memo,omitempty"`
	Proofs  []Proof `json:"proofs"`
}

// Amount returns the sum of all proof amounts.
func (d Decoded) Amount() uint64 {
	var total uint64
	for _, p := range d.Proofs {
		total += p.Amount
	}
	return total
}

// Secrets returns the proof secrets in order.
func (d Decoded) Secrets() []string {
	out := make([]string, len(d.Proofs))
	for i, p := range d.Proofs {
		out[i] = p.Secret
	}
	return out
}

// SecretsFor returns the secrets of the proofs issued by mint, in order.
func (d Decoded) SecretsFor(mint string) []string {
	var out []string
	for _, p := range d.Proofs {
		if p.Mint == mint {
			out = append(out, p.Secret)
		}
	}
	return out
}

type v3Token struct {
	Token []v3Entry `json:"token"`
	Unit  string    `json:"unit,omitempty"`
	Memo  string    `json:"memo,omitempty"`
}

type v3Entry struct {
	Mint   string  `json:"mint"`
	Proofs []Proof `json:"proofs"`
}

type v4Token struct {
	Mint   string    `cbor:"m"`
	Unit   string    `cbor:"u"`
	Memo   string    `cbor:"d,omitempty"`
	Tokens []v4Entry `cbor:"t"`
}

type v4Entry struct {
	KeysetID []byte    `cbor:"i"`
	Proofs   []v4Proof `cbor:"p"`
}

type v4Proof struct {
	Amount uint64 `cbor:"a"`
	Secret string `cbor:"s"`
	C      []byte `cbor:"c"`
}

// Decode parses a cashuA (JSON) or cashuB (CBOR) token.
//
// A leading "cashu:" URI scheme and surrounding whitespace are ignored.
// For multi-mint v3 tokens the first entry's mint is reported, the other
// entries' proofs are still included.
func Decode(payload string) (Decoded, error) {
	s := strings.TrimSpace(payload)
	s = strings.TrimPrefix(s, uriScheme)

	switch {
	case strings.HasPrefix(s, prefixV3):
		return decodeV3(s[len(prefixV3):])
	case strings.HasPrefix(s, prefixV4):
		return decodeV4(s[len(prefixV4):])
	default:
		return Decoded{}, fmt.Errorf("%w: unknown token prefix", ErrInvalidPayload)
	}
}

func decodeV3(body string) (Decoded, error) {
	raw, err := decodeBase64(body)
	if err != nil {
		return Decoded{}, fmt.Errorf("%w: v3 base64: %v", ErrInvalidPayload, err)
	}

	var tok v3Token
	if err := json.Unmarshal(raw, &tok); err != nil {
		return Decoded{}, fmt.Errorf("%w: v3 json: %v", ErrInvalidPayload, err)
	}
	if len(tok.Token) == 0 {
		return Decoded{}, fmt.Errorf("%w: v3 token has no entries", ErrInvalidPayload)
	}

	mint, err := normalizeMint(tok.Token[0].Mint)
	if err != nil {
		return Decoded{}, err
	}

	d := Decoded{Version: 3, Mint: mint, Unit: tok.Unit, Memo: tok.Memo}
	for _, entry := range tok.Token {
		issuer, err := normalizeMint(entry.Mint)
		if err != nil {
			issuer = entry.Mint
		}
		for _, p := range entry.Proofs {
			p.Mint = issuer
			d.Proofs = append(d.Proofs, p)
		}
	}
	if len(d.SecretsFor(mint)) == 0 {
		return Decoded{}, fmt.Errorf("%w: token has no proofs from %s", ErrInvalidPayload, mint)
	}
	return d, nil
}

func decodeV4(body string) (Decoded, error) {
	raw, err := decodeBase64(body)
	if err != nil {
		return Decoded{}, fmt.Errorf("%w: v4 base64: %v", ErrInvalidPayload, err)
	}

	var tok v4Token
	if err := cbor.Unmarshal(raw, &tok); err != nil {
		return Decoded{}, fmt.Errorf("%w: v4 cbor: %v", ErrInvalidPayload, err)
	}

	mint, err := normalizeMint(tok.Mint)
	if err != nil {
		return Decoded{}, err
	}

	d := Decoded{Version: 4, Mint: mint, Unit: tok.Unit, Memo: tok.Memo}
	for _, entry := range tok.Tokens {
		keyset := hex.EncodeToString(entry.KeysetID)
		for _, p := range entry.Proofs {
			d.Proofs = append(d.Proofs, Proof{
				Amount:   p.Amount,
				KeysetID: keyset,
				Secret:   p.Secret,
				C:        hex.EncodeToString(p.C),
				Mint:     mint,
			})
		}
	}
	if len(d.Proofs) == 0 {
		return Decoded{}, fmt.Errorf("%w: token has no proofs", ErrInvalidPayload)
	}
	return d, nil
}

// decodeBase64 accepts both URL-safe and standard alphabets, with or without padding.
func decodeBase64(s string) ([]byte, error) {
	s = strings.TrimRight(s, "=")
	s = strings.NewReplacer("+", "-", "/", "_").Replace(s)
	return base64.RawURLEncoding.DecodeString(s)
}

func normalizeMint(raw string) (string, error) {
	mint := strings.TrimRight(strings.TrimSpace(raw), "/")
	if mint == "" {
		return "", fmt.Errorf("%w: missing mint url", ErrInvalidPayload)
	}
	u, err := url.Parse(mint)
	if err != nil {
		return "", fmt.Errorf("%w: mint url: %v", ErrInvalidPayload, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("%w: mint url %q is not http(s)", ErrInvalidPayload, mint)
	}
	return mint, nil
}

// Decoder extracts funding sources from encoded tokens.
// The zero value is ready to use.
type Decoder struct{}

// FundingSource returns the mint URL the token was issued by.
func (Decoder) FundingSource(payload string) (string, error) {
	d, err := Decode(payload)
	if err != nil {
		return "", err
	}
	return d.Mint, nil
}

// EncodeV3 encodes a single-mint cashuA token. Used by tooling and tests.
func EncodeV3(mint, unit, memo string, proofs []Proof) (string, error) {
	raw, err := json.Marshal(v3Token{
		Token: []v3Entry{{Mint: mint, Proofs: proofs}},
		Unit:  unit,
		Memo:  memo,
	})
	if err != nil {
		return "", fmt.Errorf("encode v3 token: %w", err)
	}
	return prefixV3 + base64.RawURLEncoding.EncodeToString(raw), nil
}

// EncodeV4 encodes a single-keyset cashuB token. keysetID and each proof's C
// must be hex strings.
func EncodeV4(mint, unit, memo, keysetID string, proofs []Proof) (string, error) {
	kid, err := hex.DecodeString(keysetID)
	if err != nil {
		return "", fmt.Errorf("encode v4 token: keyset id: %w", err)
	}
	entry := v4Entry{KeysetID: kid}
	for _, p := range proofs {
		c, err := hex.DecodeString(p.C)
		if err != nil {
			return "", fmt.Errorf("encode v4 token: proof C: %w", err)
		}
		entry.Proofs = append(entry.Proofs, v4Proof{Amount: p.Amount, Secret: p.Secret, C: c})
	}
	raw, err := cbor.Marshal(v4Token{Mint: mint, Unit: unit, Memo: memo, Tokens: []v4Entry{entry}})
	if err != nil {
		return "", fmt.Errorf("encode v4 token: %w", err)
	}
	return prefixV4 + base64.RawURLEncoding.EncodeToString(raw), nil
}
