package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/brojonat/capfriends/service/config"
	"github.com/brojonat/capfriends/service/evm"
	"github.com/brojonat/capfriends/service/swap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	checksumTarget  = "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"
	lowercaseTarget = "0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed"
	waitTimeout     = 2 * time.Second
	tick            = 5 * time.Millisecond
)

type fakeSession struct{}

func (fakeSession) ChainID() (swap.ChainID, bool) { return "8453", true }
func (fakeSession) Address() string               { return "0x1111111111111111111111111111111111111111" }

// fakeChain is a Simulator, Submitter and Confirmer that settles
// immediately unless release is set.
type fakeChain struct {
	release chan struct{}

	mu       sync.Mutex
	simErr   error
	simCalls int
}

func (f *fakeChain) Simulate(ctx context.Context, call swap.Call) (*swap.SimulationOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.simCalls++
	if f.simErr != nil {
		return nil, f.simErr
	}
	return &swap.SimulationOutput{GasLimit: 21000, ReturnData: []byte{0x01}}, nil
}

func (f *fakeChain) setSimErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.simErr = err
}

func (f *fakeChain) SimCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.simCalls
}

func (f *fakeChain) Submit(ctx context.Context, call swap.Call, prepared *swap.SimulationOutput) (string, error) {
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return "0xfeed", nil
}

func (f *fakeChain) Confirm(ctx context.Context, handle string, opts swap.ConfirmOptions) (*swap.Receipt, error) {
	return &swap.Receipt{Handle: handle, Block: 42, GasUsed: 21000}, nil
}

type fakeTokens struct {
	details *evm.TokenDetails
	err     error
}

func (f *fakeTokens) TokenDetails(ctx context.Context, address string) (*evm.TokenDetails, error) {
	if f.err != nil {
		return nil, f.err
	}
	d := *f.details
	d.Address = address
	return &d, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T, chain *fakeChain, tokens TokenReader, session swap.Session) *Server {
	t.Helper()
	cfg := &config.Config{Chain: config.ChainEVM, Network: "base", MaxSwaps: 100, SwapTTL: time.Hour}
	return newTestServerWithConfig(t, chain, tokens, session, cfg)
}

func newTestServerWithConfig(t *testing.T, chain *fakeChain, tokens TokenReader, session swap.Session, cfg *config.Config) *Server {
	t.Helper()

	method, err := evm.LoadMethod("", "buyToken")
	require.NoError(t, err)

	orch, err := swap.New(swap.Config{
		Session:   session,
		Codec:     evm.Codec{},
		Call:      method,
		Simulator: chain,
		Submitter: chain,
		Confirmer: chain,
		Logger:    testLogger(),
	})
	require.NoError(t, err)

	s := New(":0", cfg, orch, evm.Codec{}, session, tokens, nil, nil, testLogger())
	t.Cleanup(func() {
		s.registry.CloseAll()
		s.cancel()
	})
	return s
}

func do(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var decoded map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded))
	}
	return rec, decoded
}

func getSwap(t *testing.T, h http.Handler, id string) swapResponse {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/swaps/"+id, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp swapResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestCreateSwap(t *testing.T) {
	s := newTestServer(t, &fakeChain{}, nil, fakeSession{})
	h := s.Handler()

	rec, body := do(t, h, http.MethodPost, "/api/v1/swaps", `{"target":"`+lowercaseTarget+`","amount":"1000"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	id, _ := body["id"].(string)
	require.NotEmpty(t, id)
	assert.Equal(t, checksumTarget, body["target"])
	assert.Equal(t, "8453", body["chain_id"])
	assert.Equal(t, "1000", body["amount"])
	assert.Equal(t, 1, s.registry.Len())

	assert.Eventually(t, func() bool {
		return getSwap(t, h, id).Simulation.Status == string(swap.StatusSuccess)
	}, waitTimeout, tick)

	resp := getSwap(t, h, id)
	assert.True(t, resp.Simulation.Fetched)
	assert.Equal(t, uint64(21000), resp.Simulation.GasLimit)
	assert.Equal(t, "0x01", resp.Simulation.ReturnData)
	assert.Equal(t, string(swap.StatusIdle), resp.Submission.Status)
}

func TestCreateSwap_InvalidTargetFallsBackToZeroAddress(t *testing.T) {
	s := newTestServer(t, &fakeChain{}, nil, fakeSession{})

	rec, body := do(t, s.Handler(), http.MethodPost, "/api/v1/swaps", `{"target":"not-an-address","amount":"1","simulate":false}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, evm.Codec{}.Zero(), body["target"])
}

func TestCreateSwap_SimulationDisabled(t *testing.T) {
	s := newTestServer(t, &fakeChain{}, nil, fakeSession{})
	h := s.Handler()

	rec, body := do(t, h, http.MethodPost, "/api/v1/swaps", `{"target":"`+checksumTarget+`","amount":"5","simulate":false}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	resp := getSwap(t, h, body["id"].(string))
	assert.Equal(t, string(swap.StatusIdle), resp.Simulation.Status)
	assert.False(t, resp.InFlight)
}

func TestCreateSwap_PathologicalInput(t *testing.T) {
	s := newTestServer(t, &fakeChain{}, nil, fakeSession{})
	h := s.Handler()

	tests := []struct {
		name          string
		body          string
		expectedError string
	}{
		{
			name:          "extremely large request body",
			body:          `{"target":"` + strings.Repeat("A", 2*1024*1024) + `"}`,
			expectedError: "request body too large",
		},
		{
			name:          "malformed JSON",
			body:          `{"target":"0x1","amount":`,
			expectedError: "invalid request body",
		},
		{
			name:          "negative amount",
			body:          `{"amount":"-1"}`,
			expectedError: "amount cannot be negative",
		},
		{
			name:          "non numeric amount",
			body:          `{"amount":"1e18"}`,
			expectedError: "must be a base-10 integer",
		},
		{
			name:          "amount too long",
			body:          `{"amount":"` + strings.Repeat("9", 100) + `"}`,
			expectedError: "amount too long",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, body := do(t, h, http.MethodPost, "/api/v1/swaps", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, body["error"], tt.expectedError)
		})
	}
	assert.Equal(t, 0, s.registry.Len())
}

func TestSubmitSwap(t *testing.T) {
	s := newTestServer(t, &fakeChain{}, nil, fakeSession{})
	h := s.Handler()

	_, body := do(t, h, http.MethodPost, "/api/v1/swaps", `{"target":"`+checksumTarget+`","amount":"1000"}`)
	id := body["id"].(string)

	rec, _ := do(t, h, http.MethodPost, "/api/v1/swaps/"+id+"/submit", "")
	require.Equal(t, http.StatusAccepted, rec.Code)

	assert.Eventually(t, func() bool {
		return getSwap(t, h, id).Fired == 1
	}, waitTimeout, tick)

	resp := getSwap(t, h, id)
	assert.Equal(t, string(swap.StageConfirmed), resp.Stage)
	assert.Equal(t, "0xfeed", resp.Submission.Handle)
	assert.Equal(t, string(swap.StatusSuccess), resp.Confirmation.Status)
	assert.Equal(t, uint64(42), resp.Confirmation.Block)
	assert.False(t, resp.InFlight)
}

func TestSubmitSwap_WhilePending(t *testing.T) {
	chain := &fakeChain{release: make(chan struct{})}
	s := newTestServer(t, chain, nil, fakeSession{})
	h := s.Handler()

	_, body := do(t, h, http.MethodPost, "/api/v1/swaps", `{"target":"`+checksumTarget+`","amount":"1","simulate":false}`)
	id := body["id"].(string)

	rec, _ := do(t, h, http.MethodPost, "/api/v1/swaps/"+id+"/submit", "")
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec, body = do(t, h, http.MethodPost, "/api/v1/swaps/"+id+"/submit", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, swap.ErrSubmissionPending.Error(), body["error"])
	assert.True(t, getSwap(t, h, id).InFlight)

	close(chain.release)
	assert.Eventually(t, func() bool {
		return getSwap(t, h, id).Confirmation.Status == string(swap.StatusSuccess)
	}, waitTimeout, tick)
}

func TestSubmitSwap_Closed(t *testing.T) {
	s := newTestServer(t, &fakeChain{}, nil, fakeSession{})
	h := s.Handler()

	_, body := do(t, h, http.MethodPost, "/api/v1/swaps", `{"target":"`+checksumTarget+`","amount":"1"}`)
	id := body["id"].(string)
	s.registry.CloseAll()

	rec, _ := do(t, h, http.MethodPost, "/api/v1/swaps/"+id+"/submit", "")
	assert.Equal(t, http.StatusGone, rec.Code)
}

func TestSimulateSwap(t *testing.T) {
	s := newTestServer(t, &fakeChain{}, nil, fakeSession{})
	h := s.Handler()

	_, body := do(t, h, http.MethodPost, "/api/v1/swaps", `{"target":"`+checksumTarget+`","amount":"0"}`)
	id := body["id"].(string)
	assert.Equal(t, string(swap.StatusIdle), getSwap(t, h, id).Simulation.Status)

	rec, _ := do(t, h, http.MethodPost, "/api/v1/swaps/"+id+"/simulate", `{"amount":"250"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Eventually(t, func() bool {
		resp := getSwap(t, h, id)
		return resp.Simulation.Status == string(swap.StatusSuccess) && resp.Simulation.Amount == "250"
	}, waitTimeout, tick)
	assert.Equal(t, "250", getSwap(t, h, id).Amount)
}

func TestSwapRoutes_NotFound(t *testing.T) {
	s := newTestServer(t, &fakeChain{}, nil, fakeSession{})
	h := s.Handler()

	tests := []struct {
		method string
		path   string
		body   string
	}{
		{http.MethodGet, "/api/v1/swaps/missing", ""},
		{http.MethodPost, "/api/v1/swaps/missing/submit", ""},
		{http.MethodPost, "/api/v1/swaps/missing/simulate", `{"amount":"1"}`},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			rec, body := do(t, h, tt.method, tt.path, tt.body)
			assert.Equal(t, http.StatusNotFound, rec.Code)
			assert.Equal(t, "swap not found", body["error"])
		})
	}
}

func TestGetToken(t *testing.T) {
	details := &evm.TokenDetails{Name: "Friend", Symbol: "FRND", Decimals: 18, TotalSupply: big.NewInt(1_000_000)}

	tests := []struct {
		name           string
		tokens         TokenReader
		address        string
		expectedStatus int
		check          func(*testing.T, map[string]any)
	}{
		{
			name:           "not supported",
			tokens:         nil,
			address:        checksumTarget,
			expectedStatus: http.StatusNotImplemented,
		},
		{
			name:           "invalid address",
			tokens:         &fakeTokens{details: details},
			address:        "nope",
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "rpc failure",
			tokens:         &fakeTokens{err: errors.New("execution reverted")},
			address:        checksumTarget,
			expectedStatus: http.StatusBadGateway,
			check: func(t *testing.T, body map[string]any) {
				assert.Equal(t, "failed to read token details", body["error"])
			},
		},
		{
			name:           "success",
			tokens:         &fakeTokens{details: details},
			address:        lowercaseTarget,
			expectedStatus: http.StatusOK,
			check: func(t *testing.T, body map[string]any) {
				assert.Equal(t, checksumTarget, body["address"])
				assert.Equal(t, "FRND", body["symbol"])
				assert.EqualValues(t, 18, body["decimals"])
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, &fakeChain{}, tt.tokens, fakeSession{})
			rec, body := do(t, s.Handler(), http.MethodGet, "/api/v1/tokens/"+tt.address, "")
			assert.Equal(t, tt.expectedStatus, rec.Code)
			if tt.check != nil {
				tt.check(t, body)
			}
		})
	}
}

func TestGetWallet(t *testing.T) {
	t.Run("connected", func(t *testing.T) {
		s := newTestServer(t, &fakeChain{}, nil, fakeSession{})
		rec, body := do(t, s.Handler(), http.MethodGet, "/api/v1/wallet", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, true, body["connected"])
		assert.Equal(t, "8453", body["chain_id"])
		assert.Equal(t, fakeSession{}.Address(), body["address"])
		assert.Equal(t, "evm", body["chain"])
	})

	t.Run("no session", func(t *testing.T) {
		s := newTestServer(t, &fakeChain{}, nil, nil)
		rec, body := do(t, s.Handler(), http.MethodGet, "/api/v1/wallet", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, false, body["connected"])
		assert.NotContains(t, body, "address")
	})
}

func TestSimulateSwap_RetriesFailedSimulation(t *testing.T) {
	chain := &fakeChain{}
	chain.setSimErr(errors.New("execution reverted"))
	s := newTestServer(t, chain, nil, fakeSession{})
	h := s.Handler()

	_, body := do(t, h, http.MethodPost, "/api/v1/swaps", `{"target":"`+checksumTarget+`","amount":"250"}`)
	id := body["id"].(string)
	require.Eventually(t, func() bool {
		return getSwap(t, h, id).Simulation.Status == string(swap.StatusError)
	}, waitTimeout, tick)

	// Same inputs again once the chain has recovered.
	chain.setSimErr(nil)
	rec, _ := do(t, h, http.MethodPost, "/api/v1/swaps/"+id+"/simulate", `{"amount":"250"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Eventually(t, func() bool {
		resp := getSwap(t, h, id)
		return resp.Simulation.Status == string(swap.StatusSuccess) && resp.Simulation.GasLimit == 21000
	}, waitTimeout, tick)
	assert.GreaterOrEqual(t, chain.SimCalls(), 2)
}

func TestSimulateSwap_SuccessIsNotRefetched(t *testing.T) {
	chain := &fakeChain{}
	s := newTestServer(t, chain, nil, fakeSession{})
	h := s.Handler()

	_, body := do(t, h, http.MethodPost, "/api/v1/swaps", `{"target":"`+checksumTarget+`","amount":"250"}`)
	id := body["id"].(string)
	require.Eventually(t, func() bool {
		return getSwap(t, h, id).Simulation.Status == string(swap.StatusSuccess)
	}, waitTimeout, tick)

	rec, _ := do(t, h, http.MethodPost, "/api/v1/swaps/"+id+"/simulate", `{"amount":"250"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, chain.SimCalls())
}

func TestAPIToken(t *testing.T) {
	const token = "0123456789abcdef-token"
	cfg := &config.Config{Chain: config.ChainEVM, Network: "base", APIToken: token, MaxSwaps: 10, SwapTTL: time.Hour}
	s := newTestServerWithConfig(t, &fakeChain{}, nil, fakeSession{}, cfg)
	h := s.Handler()

	send := func(method, path, body, auth string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, strings.NewReader(body))
		if auth != "" {
			req.Header.Set("Authorization", auth)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}
	create := `{"target":"` + checksumTarget + `","amount":"1"}`

	tests := []struct {
		name string
		auth string
		want int
	}{
		{name: "missing", auth: "", want: http.StatusUnauthorized},
		{name: "wrong token", auth: "Bearer nope", want: http.StatusUnauthorized},
		{name: "wrong scheme", auth: "Basic " + token, want: http.StatusUnauthorized},
		{name: "valid", auth: "Bearer " + token, want: http.StatusCreated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := send(http.MethodPost, "/api/v1/swaps", create, tt.auth)
			assert.Equal(t, tt.want, rec.Code)
			if tt.want == http.StatusUnauthorized {
				assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "Bearer")
			}
		})
	}

	rec := send(http.MethodPost, "/api/v1/swaps", create, "Bearer "+token)
	require.Equal(t, http.StatusCreated, rec.Code)
	var created swapResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	t.Run("submit needs token", func(t *testing.T) {
		rec := send(http.MethodPost, "/api/v1/swaps/"+created.ID+"/submit", "", "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, string(swap.StatusIdle), getSwap(t, h, created.ID).Submission.Status)
	})

	t.Run("simulate needs token", func(t *testing.T) {
		rec := send(http.MethodPost, "/api/v1/swaps/"+created.ID+"/simulate", `{"amount":"2"}`, "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("reads stay open", func(t *testing.T) {
		assert.Equal(t, http.StatusOK, send(http.MethodGet, "/api/v1/swaps/"+created.ID, "", "").Code)
		assert.Equal(t, http.StatusOK, send(http.MethodGet, "/api/v1/wallet", "", "").Code)
	})
}

func TestCreateSwap_RegistryFull(t *testing.T) {
	chain := &fakeChain{release: make(chan struct{})}
	defer close(chain.release)
	cfg := &config.Config{Chain: config.ChainEVM, Network: "base", MaxSwaps: 2, SwapTTL: time.Hour}
	s := newTestServerWithConfig(t, chain, nil, fakeSession{}, cfg)
	h := s.Handler()

	var ids []string
	for i := 0; i < 2; i++ {
		rec, body := do(t, h, http.MethodPost, "/api/v1/swaps", `{"target":"`+checksumTarget+`","amount":"0"}`)
		require.Equal(t, http.StatusCreated, rec.Code)
		ids = append(ids, body["id"].(string))
	}

	// The oldest idle swap gives up its slot.
	rec, body := do(t, h, http.MethodPost, "/api/v1/swaps", `{"target":"`+checksumTarget+`","amount":"0"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	ids = append(ids, body["id"].(string))
	assert.Equal(t, 2, s.registry.Len())
	rec, _ = do(t, h, http.MethodGet, "/api/v1/swaps/"+ids[0], "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// Swaps with a pending submission are never evicted.
	for _, id := range ids[1:] {
		rec, _ := do(t, h, http.MethodPost, "/api/v1/swaps/"+id+"/submit", "")
		require.Equal(t, http.StatusAccepted, rec.Code)
	}
	rec, body = do(t, h, http.MethodPost, "/api/v1/swaps", `{"target":"`+checksumTarget+`","amount":"0"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, ErrRegistryFull.Error(), body["error"])
	assert.Equal(t, 2, s.registry.Len())
}

func TestRegistry_EvictsExpiredSwaps(t *testing.T) {
	s := newTestServer(t, &fakeChain{}, nil, fakeSession{})
	h := s.Handler()

	_, body := do(t, h, http.MethodPost, "/api/v1/swaps", `{"target":"`+checksumTarget+`","amount":"0"}`)
	stale := body["id"].(string)

	s.registry.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, body = do(t, h, http.MethodPost, "/api/v1/swaps", `{"target":"`+checksumTarget+`","amount":"0"}`)
	fresh := body["id"].(string)

	rec, _ := do(t, h, http.MethodGet, "/api/v1/swaps/"+stale, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec, _ = do(t, h, http.MethodGet, "/api/v1/swaps/"+fresh, "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCORS(t *testing.T) {
	tests := []struct {
		name    string
		origins []string
		origin  string
		want    string
	}{
		{name: "no origins configured", origins: nil, origin: "https://evil.example", want: ""},
		{name: "allowed origin", origins: []string{"https://capfriends.xyz"}, origin: "https://capfriends.xyz", want: "https://capfriends.xyz"},
		{name: "other origin", origins: []string{"https://capfriends.xyz"}, origin: "https://evil.example", want: ""},
		{name: "wildcard", origins: []string{"*"}, origin: "https://anything.example", want: "*"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &config.Config{Chain: config.ChainEVM, Network: "base", CORSAllowedOrigins: tt.origins}
			s := newTestServerWithConfig(t, &fakeChain{}, nil, fakeSession{}, cfg)

			req := httptest.NewRequest(http.MethodOptions, "/api/v1/swaps", nil)
			req.Header.Set("Origin", tt.origin)
			rec := httptest.NewRecorder()
			s.Handler().ServeHTTP(rec, req)

			assert.Equal(t, http.StatusNoContent, rec.Code)
			assert.Equal(t, tt.want, rec.Header().Get("Access-Control-Allow-Origin"))
		})
	}
}

func TestHealthAndCORS(t *testing.T) {
	s := newTestServer(t, &fakeChain{}, nil, fakeSession{})
	h := s.Handler()

	rec, _ := do(t, h, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))

	rec, _ = do(t, h, http.MethodOptions, "/api/v1/swaps", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
