package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"chainsettle/internal/application"
	"chainsettle/internal/domain"
)

const maxBodyBytes = 1 << 20

type RewardService interface {
	DistributeReward(ctx context.Context, req domain.RewardRequest) (domain.RewardResult, error)
	DispatchWelcomeBonus(ctx context.Context, req domain.RewardRequest) (bool, error)
	Networks() []domain.NetworkID
}

type PurchaseVerifier interface {
	Verify(ctx context.Context, claim domain.PurchaseClaim) (domain.PurchaseGrant, error)
}

type NetworkDirectory interface {
	Profiles() []domain.NetworkProfile
}

type RecordStore interface {
	application.RewardQuery
	Ping(ctx context.Context) error
}

type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"buildTime"`
}

type ReadinessCheck func(ctx context.Context) error

type Server struct {
	rewards   RewardService
	verifier  PurchaseVerifier
	networks  NetworkDirectory
	store     RecordStore
	checks    map[string]ReadinessCheck
	metrics   *Metrics
	buildInfo BuildInfo
}

type Option func(*Server)

// WithRecordStore enables GET /rewards and the database readiness check.
func WithRecordStore(store RecordStore) Option {
	return func(s *Server) { s.store = store }
}

func WithReadinessCheck(name string, check ReadinessCheck) Option {
	return func(s *Server) { s.checks[name] = check }
}

func NewServer(rewards RewardService, verifier PurchaseVerifier, networks NetworkDirectory, metrics *Metrics, buildInfo BuildInfo, opts ...Option) (*Server, error) {
	if rewards == nil || verifier == nil || networks == nil {
		return nil, errors.New("http server dependencies must not be nil")
	}
	if metrics == nil {
		metrics = NewMetrics()
	}
	s := &Server{
		rewards:   rewards,
		verifier:  verifier,
		networks:  networks,
		checks:    make(map[string]ReadinessCheck),
		metrics:   metrics,
		buildInfo: buildInfo,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.store != nil {
		s.checks["db"] = s.store.Ping
	}
	return s, nil
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/readyz", s.handleReady)
	mux.HandleFunc("/rewards", s.metrics.instrument("/rewards", s.handleRewards))
	mux.HandleFunc("/rewards/welcome", s.metrics.instrument("/rewards/welcome", s.handleWelcome))
	mux.HandleFunc("/purchases/verify", s.metrics.instrument("/purchases/verify", s.handleVerifyPurchase))
	mux.HandleFunc("/networks", s.handleNetworks)
	mux.Handle("/metrics", s.metrics.Handler())
	mux.HandleFunc("/version", s.handleVersion)
	return mux
}

func (s *Server) ListenAndServe(ctx context.Context, addr string, shutdownTimeout time.Duration) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, listener, shutdownTimeout)
}

// Serve handles requests on listener until ctx is done. It returns only after
// in-flight requests have finished or shutdownTimeout has passed.
func (s *Server) Serve(ctx context.Context, listener net.Listener, shutdownTimeout time.Duration) error {
	server := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	if shutdownTimeout <= 0 {
		shutdownTimeout = 5 * time.Second
	}

	drained := make(chan error, 1)
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := server.Shutdown(shutdownCtx)
		if err != nil {
			_ = server.Close()
		}
		drained <- err
	}()

	if err := server.Serve(listener); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	if err := <-drained; err != nil {
		return fmt.Errorf("drain http server: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := s.checks[name](ctx); err != nil {
			respondError(w, http.StatusServiceUnavailable, name+" not ready")
			return
		}
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type rewardBody struct {
	RecipientAddress string `json:"recipientAddress"`
	TokenAmount      string `json:"tokenAmount"`
	Network          string `json:"network"`
}

func (s *Server) handleRewards(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.distributeReward(w, r)
	case http.MethodGet:
		s.queryRewards(w, r)
	default:
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) distributeReward(w http.ResponseWriter, r *http.Request) {
	var body rewardBody
	if err := decodeBody(w, r, &body); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	network, err := domain.ParseNetworkID(body.Network)
	if err != nil {
		respondError(w, http.StatusBadRequest, "unsupported network")
		return
	}

	result, err := s.rewards.DistributeReward(r.Context(), domain.RewardRequest{
		Recipient: body.RecipientAddress,
		Amount:    body.TokenAmount,
		Network:   network,
	})
	if err != nil {
		status, message := rewardErrorStatus(err)
		slog.Warn("reward rejected", "network", network, "recipient", body.RecipientAddress, "status", status, "err", err)
		respondError(w, status, message)
		return
	}

	status := http.StatusOK
	if len(result.Transactions) == 0 {
		status = http.StatusBadGateway
	}
	respondJSON(w, status, result)
}

func (s *Server) queryRewards(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		respondError(w, http.StatusServiceUnavailable, "record store not configured")
		return
	}
	filter, err := parseRewardFilter(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	records, err := s.store.QueryRewards(r.Context(), filter)
	if err != nil {
		slog.Error("query rewards failed", "err", err)
		respondError(w, http.StatusInternalServerError, "query failed")
		return
	}
	if records == nil {
		records = []domain.RewardRecord{}
	}
	respondJSON(w, http.StatusOK, records)
}

func (s *Server) handleWelcome(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var body rewardBody
	if err := decodeBody(w, r, &body); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	network, err := domain.ParseNetworkID(body.Network)
	if err != nil {
		respondError(w, http.StatusBadRequest, "unsupported network")
		return
	}

	started, err := s.rewards.DispatchWelcomeBonus(r.Context(), domain.RewardRequest{
		Recipient: body.RecipientAddress,
		Amount:    body.TokenAmount,
		Network:   network,
	})
	if err != nil {
		status, message := rewardErrorStatus(err)
		respondError(w, status, message)
		return
	}
	if !started {
		respondJSON(w, http.StatusConflict, map[string]string{"status": "already_claimed"})
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

type purchaseBody struct {
	TxHash    string `json:"txHash"`
	AssetType string `json:"assetType"`
	Network   string `json:"network"`
	FromAddr  string `json:"fromAddr"`
	ToAddr    string `json:"toAddr"`
	Amount    string `json:"amount"`
}

// handleVerifyPurchase renders every failed chain check as the same
// rejection; the reason is only logged.
func (s *Server) handleVerifyPurchase(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var body purchaseBody
	if err := decodeBody(w, r, &body); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	grant, err := s.verifier.Verify(r.Context(), domain.PurchaseClaim{
		TxHash:  strings.TrimSpace(body.TxHash),
		Asset:   domain.ParseAssetType(body.AssetType),
		Network: domain.NetworkID(strings.ToLower(strings.TrimSpace(body.Network))),
		From:    strings.TrimSpace(body.FromAddr),
		To:      strings.TrimSpace(body.ToAddr),
		Amount:  strings.TrimSpace(body.Amount),
	})
	switch {
	case err == nil:
		respondJSON(w, http.StatusOK, grant)
	case errors.Is(err, domain.ErrDuplicatePurchase):
		respondError(w, http.StatusConflict, "purchase already granted")
	case errors.Is(err, application.ErrRecordFailed):
		respondError(w, http.StatusInternalServerError, "record failed")
	default:
		respondError(w, http.StatusUnprocessableEntity, "purchase rejected")
	}
}

type networkView struct {
	ID             domain.NetworkID `json:"id"`
	ChainID        uint64           `json:"chainId"`
	NativeSymbol   string           `json:"nativeSymbol"`
	RewardToken    string           `json:"rewardToken,omitempty"`
	Rewards        bool             `json:"rewards"`
	PurchaseAssets []string         `json:"purchaseAssets"`
}

func (s *Server) handleNetworks(w http.ResponseWriter, r *http.Request) {
	rewardable := make(map[domain.NetworkID]bool)
	for _, id := range s.rewards.Networks() {
		rewardable[id] = true
	}

	profiles := s.networks.Profiles()
	views := make([]networkView, 0, len(profiles))
	for _, profile := range profiles {
		view := networkView{
			ID:             profile.ID,
			ChainID:        profile.ChainID,
			NativeSymbol:   profile.NativeSymbol,
			Rewards:        rewardable[profile.ID],
			PurchaseAssets: make([]string, 0, len(profile.PurchaseAssets)),
		}
		if profile.RewardToken != nil {
			view.RewardToken = profile.RewardToken.Symbol
		}
		for asset := range profile.PurchaseAssets {
			view.PurchaseAssets = append(view.PurchaseAssets, string(asset))
		}
		sort.Strings(view.PurchaseAssets)
		views = append(views, view)
	}
	respondJSON(w, http.StatusOK, views)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.buildInfo)
}

func rewardErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrInvalidRequest):
		return http.StatusBadRequest, "invalid request"
	case errors.Is(err, domain.ErrUnsupportedNetwork):
		return http.StatusBadRequest, "unsupported network"
	case errors.Is(err, domain.ErrInsufficientFunds):
		return http.StatusConflict, "insufficient treasury funds"
	case errors.Is(err, domain.ErrNetworkUnavailable):
		return http.StatusBadGateway, "network unavailable"
	case errors.Is(err, domain.ErrConfigurationError):
		return http.StatusInternalServerError, "network not configured"
	case errors.Is(err, application.ErrShuttingDown):
		return http.StatusServiceUnavailable, "shutting down"
	default:
		return http.StatusInternalServerError, "reward failed"
	}
}

func parseRewardFilter(r *http.Request) (application.RewardQueryFilter, error) {
	limit, err := parseLimit(r)
	if err != nil {
		return application.RewardQueryFilter{}, err
	}
	filter := application.RewardQueryFilter{
		Address: strings.ToLower(strings.TrimSpace(r.URL.Query().Get("address"))),
		Symbol:  strings.TrimSpace(r.URL.Query().Get("symbol")),
		Limit:   limit,
	}
	if raw := r.URL.Query().Get("network"); raw != "" {
		network, err := domain.ParseNetworkID(raw)
		if err != nil {
			return application.RewardQueryFilter{}, errors.New("invalid network")
		}
		filter.Network = network
	}
	return filter, nil
}

func parseLimit(r *http.Request) (int, error) {
	if raw := r.URL.Query().Get("limit"); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 0 {
			return 0, errors.New("invalid limit")
		}
		return value, nil
	}
	return 100, nil
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return fmt.Errorf("invalid json body: %w", err)
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
