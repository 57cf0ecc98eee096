package cli

import (
	"bufio"
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/cashutrack/internal/token"
)

// fakeMint answers state checks. A secret reports spent once it has been
// checked spentAfter times; spentAfter < 0 never spends.
type fakeMint struct {
	srv        *httptest.Server
	spentAfter int

	mu     sync.Mutex
	checks map[string]int
}

func newFakeMint(t *testing.T, spentAfter int) *fakeMint {
	t.Helper()
	m := &fakeMint{spentAfter: spentAfter, checks: make(map[string]int)}
	m.srv = httptest.NewServer(http.HandlerFunc(m.handle))
	t.Cleanup(m.srv.Close)
	return m
}

func (m *fakeMint) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost || r.URL.Path != "/check" {
		http.NotFound(w, r)
		return
	}
	var req struct {
		Proofs []struct {
			Secret string `json:"secret"`
		} `json:"proofs"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	m.mu.Lock()
	spendable := make([]bool, len(req.Proofs))
	for i, p := range req.Proofs {
		m.checks[p.Secret]++
		spendable[i] = m.spentAfter < 0 || m.checks[p.Secret] < m.spentAfter
	}
	m.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string][]bool{"spendable": spendable})
}

func (m *fakeMint) checksFor(secret string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.checks[secret]
}

// token builds a cashuA token from this mint holding one proof per secret.
func (m *fakeMint) token(t *testing.T, secrets ...string) string {
	t.Helper()
	proofs := make([]token.Proof, len(secrets))
	for i, s := range secrets {
		proofs[i] = token.Proof{Amount: 8, KeysetID: "009a1f293253e41e", Secret: s, C: "02c0ffee"}
	}
	payload, err := token.EncodeV3(m.srv.URL, "sat", "", proofs)
	require.NoError(t, err)
	return payload
}

// lockedBuffer is a bytes.Buffer safe for a writer goroutine and a reading test.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type jsonEvent struct {
	Seq           int64    `json:"seq"`
	Kind          string   `json:"kind"`
	TokenID       string   `json:"token_id"`
	FundingSource string   `json:"funding_source"`
	Owner         string   `json:"owner"`
	Handles       []string `json:"correlation_handles"`
	Message       string   `json:"message"`
}

func parseEvents(t *testing.T, out string) []jsonEvent {
	t.Helper()
	var events []jsonEvent
	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		if strings.TrimSpace(scanner.Text()) == "" {
			continue
		}
		var ev jsonEvent
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &ev), "line: %s", scanner.Text())
		events = append(events, ev)
	}
	require.NoError(t, scanner.Err())
	return events
}
