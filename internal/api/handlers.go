package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"evm-token-lab/internal/address"
	"evm-token-lab/internal/domain"
	"evm-token-lab/internal/storage"
	"evm-token-lab/internal/tokens"
)

// TokenResponse is the JSON form of one token.
type TokenResponse struct {
	Chain      int64   `json:"chain"`
	Address    string  `json:"address"`
	Name       string  `json:"name"`
	Symbol     string  `json:"symbol"`
	Decimals   uint8   `json:"decimals"`
	Component0 *string `json:"component0,omitempty"`
	Component1 *string `json:"component1,omitempty"`
	FetchedAt  int64   `json:"fetched_at"`
}

// FailedToken reports an address ResolvePartial could not resolve.
type FailedToken struct {
	Address string `json:"address"`
	Error   string `json:"error"`
}

// TokensResponse is the body of a successful token request.
type TokensResponse struct {
	Data   []TokenResponse `json:"data"`
	Failed []FailedToken   `json:"failed,omitempty"`
}

// ErrorResponse is the body of a failed request.
type ErrorResponse struct {
	Error     string   `json:"error"`
	Addresses []string `json:"addresses,omitempty"`
}

func toResponse(m *domain.TokenMetadata) TokenResponse {
	return TokenResponse{
		Chain:      int64(m.Chain),
		Address:    m.Address,
		Name:       m.Name,
		Symbol:     m.Symbol,
		Decimals:   m.Decimals,
		Component0: m.Component0,
		Component1: m.Component1,
		FetchedAt:  m.FetchedAt,
	}
}

// ToResponses converts a Result to JSON records ordered by chain and address.
func ToResponses(r tokens.Result) []TokenResponse {
	sorted := r.Sorted()
	out := make([]TokenResponse, len(sorted))
	for i, m := range sorted {
		out[i] = toResponse(m)
	}
	return out
}

// HandleHealth reports liveness.
func (s *Server) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleTokens resolves ?address=a,b on a chain. With partial=true, unresolvable
// addresses are reported in "failed" instead of failing the request.
func (s *Server) HandleTokens(w http.ResponseWriter, r *http.Request) {
	chainID, err := parseChain(mux.Vars(r)["chain"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}

	var raw []string
	for _, v := range r.URL.Query()["address"] {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				raw = append(raw, part)
			}
		}
	}
	if len(raw) == 0 {
		writeError(w, http.StatusBadRequest, "address is required", nil)
		return
	}
	if len(raw) > MaxAddressesPerRequest {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("at most %d addresses per request", MaxAddressesPerRequest), nil)
		return
	}

	set, err := address.ParseList(chainID, raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}

	if partial, _ := strconv.ParseBool(r.URL.Query().Get("partial")); partial {
		s.resolvePartial(r.Context(), w, chainID, set.Slice())
		return
	}

	res, err := s.resolver.Resolve(r.Context(), chainID, set.Slice())
	if err != nil {
		s.writeResolveError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, TokensResponse{Data: ToResponses(res)})
}

// HandleToken resolves a single address. The response includes its components.
func (s *Server) HandleToken(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	chainID, err := parseChain(vars["chain"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}
	a, err := address.Normalize(chainID, vars["address"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}

	res, err := s.resolver.Resolve(r.Context(), chainID, []domain.TokenAddress{a})
	if err != nil {
		s.writeResolveError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, TokensResponse{Data: ToResponses(res)})
}

func (s *Server) resolvePartial(ctx context.Context, w http.ResponseWriter, chainID domain.ChainID, addrs []domain.TokenAddress) {
	out, err := s.resolver.ResolvePartial(ctx, chainID, addrs)
	if err != nil {
		s.writeResolveError(w, err)
		return
	}

	failed := address.NewSet()
	for a := range out.Failed {
		failed.Add(a)
	}
	resp := TokensResponse{Data: ToResponses(out.Resolved)}
	for _, a := range failed.Slice() {
		resp.Failed = append(resp.Failed, FailedToken{Address: a.Hex, Error: out.Failed[a].Error()})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) writeResolveError(w http.ResponseWriter, err error) {
	var (
		incomplete *tokens.IncompleteResolutionError
		failure    *tokens.FetchFailure
		storeErr   *tokens.StoreError
	)

	switch {
	case errors.Is(err, storage.ErrInvalidInput), errors.Is(err, address.ErrMalformedAddress):
		writeError(w, http.StatusBadRequest, err.Error(), nil)
	case errors.As(err, &incomplete):
		writeError(w, http.StatusUnprocessableEntity, "tokens could not be resolved", hexes(incomplete.Missing))
	case errors.As(err, &failure):
		writeError(w, http.StatusUnprocessableEntity, "token fetch failed", hexes(failure.Addresses()))
	case errors.As(err, &storeErr):
		s.logger.Error("metadata store failure", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "metadata store unavailable", nil)
	case errors.Is(err, context.Canceled):
		s.logger.Debug("client went away during resolve", zap.Error(err))
		writeError(w, StatusClientClosedRequest, "request cancelled", nil)
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "resolution timed out", nil)
	default:
		s.logger.Error("resolve failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error", nil)
	}
}

func parseChain(raw string) (domain.ChainID, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid chain id %q", raw)
	}
	return domain.ChainID(id), nil
}

func hexes(addrs []domain.TokenAddress) []string {
	out := make([]string, len(addrs))
	for i, a := range addrs {
		out[i] = a.Hex
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string, addrs []string) {
	writeJSON(w, status, ErrorResponse{Error: msg, Addresses: addrs})
}
