package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	x402proxy "github.com/mark3labs/x402-proxy"
	"github.com/mark3labs/x402-proxy/encoding"
	"github.com/mark3labs/x402-proxy/internal/challenge"
	"github.com/mark3labs/x402-proxy/internal/config"
	"github.com/mark3labs/x402-proxy/internal/credit"
	"github.com/mark3labs/x402-proxy/internal/forward"
	"github.com/mark3labs/x402-proxy/internal/replay"
	"github.com/mark3labs/x402-proxy/internal/settle"
	"github.com/mark3labs/x402-proxy/internal/store"
	"github.com/mark3labs/x402-proxy/internal/verify"
)

// Response header contract other systems depend on.
const (
	HeaderPayment          = "X-Payment"
	HeaderProxyService     = "X-Proxy-Service"
	HeaderPaymentStatus    = "X-Proxy-Payment-Status"
	HeaderSettlementStatus = "X-Proxy-Settlement-Status"
	HeaderPaymentResponse  = "X-Payment-Response"
	HeaderCreditBalance    = "X-Credit-Balance"
	HeaderCreditUsed       = "X-Credit-Used"
	HeaderCreditDeposited  = "X-Credit-Total-Deposited"
)

const (
	maxRequestBodyBytes = 10 << 20
	auditBodyLimit      = 2048
)

// ProxyHandler is the per-request state machine: challenge, verify, branch on
// credits vs settlement, forward, respond, audit.
type ProxyHandler struct {
	cfg       *config.Config
	endpoints store.EndpointStore
	audits    store.AuditStore
	ledger    *credit.Ledger
	builder   *challenge.Builder
	verifier  *verify.Verifier
	settler   *settle.Coordinator
	forwarder forward.Forwarder
	nonces    replay.NonceStore
	logger    *zap.Logger
}

// NewProxyHandler wires the handler's collaborators.
func NewProxyHandler(
	cfg *config.Config,
	endpoints store.EndpointStore,
	audits store.AuditStore,
	ledger *credit.Ledger,
	builder *challenge.Builder,
	verifier *verify.Verifier,
	settler *settle.Coordinator,
	forwarder forward.Forwarder,
	nonces replay.NonceStore,
	logger *zap.Logger,
) *ProxyHandler {
	return &ProxyHandler{
		cfg:       cfg,
		endpoints: endpoints,
		audits:    audits,
		ledger:    ledger,
		builder:   builder,
		verifier:  verifier,
		settler:   settler,
		forwarder: forwarder,
		nonces:    nonces,
		logger:    logger,
	}
}

// requestState accumulates what the audit record and response headers need as
// the request moves through the state machine.
type requestState struct {
	audit             *store.RequestAudit
	endpoint          *store.Endpoint
	project           *store.Project
	requirements      []x402proxy.PaymentRequirement
	payer             string
	price             decimal.Decimal
	creditsUsed       bool
	creditBalance     *store.CreditBalance
	settlement        settle.Result
	settleStatus      store.SettlementStatus
	pendingSettlement chan settle.Result
	started           time.Time
}

// ServeProxy handles one payment-gated request.
func (h *ProxyHandler) ServeProxy(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	st := &requestState{started: time.Now(), settleStatus: store.SettlementStatusPending}

	slug := chi.URLParam(r, "slug")
	endpoint, project, err := h.endpoints.FindBySlug(ctx, slug)
	if errors.Is(err, store.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "endpoint not found"})
		return
	}
	if err != nil {
		h.logger.Error("endpoint lookup failed", zap.String("slug", slug), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	st.endpoint, st.project = endpoint, project

	if endpoint.Method != "" && !strings.EqualFold(endpoint.Method, r.Method) {
		w.Header().Set("Allow", strings.ToUpper(endpoint.Method))
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	if err := forward.ValidateTarget(endpoint.TargetURL, h.cfg.IsDev()); err != nil {
		h.logger.Warn("rejected proxy target", zap.String("slug", slug), zap.Error(err))
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "failed to read request body"})
		return
	}

	st.audit = h.newAudit(r, endpoint, body)
	if err := h.audits.Insert(ctx, st.audit); err != nil {
		// Audit storage trouble must not take down the request path.
		h.logger.Error("audit insert failed", zap.Error(err))
	}

	price := endpoint.EffectivePrice(project)
	requirement, err := h.builder.Build(ctx, price, project.Network, project.PayTo,
		h.resourceURL(r), endpoint.Description)
	if err != nil {
		h.logger.Error("failed to build payment requirements",
			zap.String("slug", slug), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	st.requirements = []x402proxy.PaymentRequirement{requirement}

	paymentHeader := r.Header.Get(HeaderPayment)
	if paymentHeader == "" {
		challenge.Respond402(w, "Payment required", st.requirements, "")
		h.finishAudit(st, http.StatusPaymentRequired, nil)
		return
	}

	result := h.verifier.Verify(ctx, paymentHeader, st.requirements)
	if !result.IsValid {
		st.audit.PaymentStatus = store.PaymentStatusFailed
		challenge.Respond402(w, result.InvalidReason, st.requirements, result.Payer)
		h.finishAudit(st, http.StatusPaymentRequired, nil)
		return
	}

	evm, err := result.Payload.EVM()
	if err != nil {
		// Verifier already decoded this once; a failure here is a server bug.
		h.logger.Error("payload decode failed after verification", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	st.payer = result.Payer
	if st.payer == "" {
		st.payer = evm.Authorization.From
	}
	st.audit.PayerAddress = store.NormalizeAddress(st.payer)
	st.audit.PaymentStatus = store.PaymentStatusVerified

	st.price = price
	if evm.Authorization.IsZeroValue() {
		if !h.spendCredits(ctx, w, st, *result.Payload, price) {
			return
		}
	} else {
		if !h.acceptPayment(ctx, w, st, result, evm) {
			return
		}
	}

	h.forwardAndRespond(ctx, w, r, st, body)
}

// spendCredits handles the zero-value credits-draw branch. Returns false when
// a response has already been written.
func (h *ProxyHandler) spendCredits(ctx context.Context, w http.ResponseWriter, st *requestState, payload x402proxy.PaymentPayload, price decimal.Decimal) bool {
	if !st.endpoint.CreditsEnabled {
		st.audit.PaymentStatus = store.PaymentStatusFailed
		challenge.Respond402(w, "Credits not enabled for this endpoint", st.requirements, st.payer)
		h.finishAudit(st, http.StatusPaymentRequired, nil)
		return false
	}

	if err := credit.VerifyZeroValueAuth(payload, h.logger); err != nil {
		st.audit.PaymentStatus = store.PaymentStatusFailed
		challenge.Respond402(w, "Insufficient credits", st.requirements, st.payer)
		h.finishAudit(st, http.StatusPaymentRequired, nil)
		return false
	}

	// A zero-value authorization is single-use like any other: a replayed
	// signature must not draw the balance down twice.
	if evm, err := payload.EVM(); err == nil {
		if err := h.nonces.MarkUsed(ctx, payload.Network, evm.Authorization.From, evm.Authorization.Nonce); err != nil {
			if errors.Is(err, x402proxy.ErrNonceUsed) {
				st.audit.PaymentStatus = store.PaymentStatusFailed
				challenge.Respond402(w, "Authorization nonce already used", st.requirements, st.payer)
				h.finishAudit(st, http.StatusPaymentRequired, nil)
				return false
			}
			h.logger.Warn("nonce store unavailable, continuing", zap.Error(err))
		}
	}

	balance, err := h.ledger.Withdraw(ctx, st.endpoint.ID, st.payer, price)
	if errors.Is(err, store.ErrInsufficientCredits) {
		st.audit.PaymentStatus = store.PaymentStatusFailed
		challenge.Respond402(w, "Insufficient credits", st.requirements, st.payer)
		h.finishAudit(st, http.StatusPaymentRequired, nil)
		return false
	}
	if err != nil {
		h.logger.Error("credit withdrawal failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		h.finishAudit(st, http.StatusInternalServerError, nil)
		return false
	}

	st.creditsUsed = true
	st.creditBalance = balance
	st.settleStatus = store.SettlementStatusSkippedCredits
	st.audit.PaymentAmount = price
	return true
}

// acceptPayment handles the non-zero branch: replay guard, settlement, and
// overpayment deposit. Returns false when a response has been written.
func (h *ProxyHandler) acceptPayment(ctx context.Context, w http.ResponseWriter, st *requestState, result verify.Result, evm *x402proxy.EVMPayload) bool {
	auth := evm.Authorization

	if err := h.nonces.MarkUsed(ctx, result.Payload.Network, auth.From, auth.Nonce); err != nil {
		if errors.Is(err, x402proxy.ErrNonceUsed) {
			st.audit.PaymentStatus = store.PaymentStatusFailed
			challenge.Respond402(w, "Authorization nonce already used", st.requirements, st.payer)
			h.finishAudit(st, http.StatusPaymentRequired, nil)
			return false
		}
		// A degraded replay guard should not reject verified payments; the
		// chain still enforces nonce uniqueness at settlement.
		h.logger.Warn("nonce store unavailable, continuing", zap.Error(err))
	}

	decimals := int32(6)
	if chain, err := x402proxy.ChainByNetwork(result.Payload.Network); err == nil {
		decimals = chain.Decimals
	}
	paid, err := x402proxy.DecimalFromAtomic(auth.Value, decimals)
	if err != nil {
		st.audit.PaymentStatus = store.PaymentStatusFailed
		challenge.Respond402(w, fmt.Sprintf("invalid payment value: %v", err), st.requirements, st.payer)
		h.finishAudit(st, http.StatusPaymentRequired, nil)
		return false
	}
	st.audit.PaymentAmount = paid

	// Settlement runs concurrently with forwarding; its outcome is collected
	// before the response headers are composed. The detached context keeps a
	// client disconnect from aborting an in-flight broadcast.
	var settleCh chan settle.Result
	if h.cfg.SettlementEnabled {
		settleCh = make(chan settle.Result, 1)
		payload := *result.Payload
		requirement := result.Requirement
		go func() {
			settleCh <- h.settler.Settle(context.WithoutCancel(ctx), payload, requirement)
		}()
	} else {
		st.settleStatus = store.SettlementStatusDisabled
	}
	st.pendingSettlement = settleCh
	return true
}

// collectSettlement waits for the in-flight settlement (if any), then applies
// the overpayment-to-credit conversion.
func (h *ProxyHandler) collectSettlement(ctx context.Context, st *requestState) {
	if st.pendingSettlement != nil {
		st.settlement = <-st.pendingSettlement
		if st.settlement.Success {
			st.settleStatus = store.SettlementStatusSettled
		} else {
			st.settleStatus = store.SettlementStatusFailed
		}
	}

	if !st.endpoint.CreditsEnabled || st.creditsUsed {
		h.loadBalanceForHeaders(ctx, st)
		return
	}

	over := credit.Overpayment(st.audit.PaymentAmount, st.price)
	if over.IsPositive() && over.GreaterThanOrEqual(st.endpoint.MinTopupAmount) {
		txRef := ""
		if st.settlement.Receipt != nil {
			txRef = st.settlement.Receipt.Transaction
		}
		balance, err := h.ledger.Deposit(ctx, st.project.ID, st.endpoint.ID, st.payer, over, txRef)
		if err != nil {
			h.logger.Error("overpayment deposit failed", zap.Error(err))
		} else {
			st.creditBalance = balance
		}
	}
	h.loadBalanceForHeaders(ctx, st)
}

func (h *ProxyHandler) loadBalanceForHeaders(ctx context.Context, st *requestState) {
	if !st.endpoint.CreditsEnabled || st.creditBalance != nil || st.payer == "" {
		return
	}
	balance, err := h.ledger.Balance(ctx, st.endpoint.ID, st.payer)
	if err == nil {
		st.creditBalance = balance
	}
}

// forwardAndRespond sends the request to the backend and writes the final
// client response with the payment/credit header contract.
func (h *ProxyHandler) forwardAndRespond(ctx context.Context, w http.ResponseWriter, r *http.Request, st *requestState, body []byte) {
	path := st.endpoint.TargetPath
	if extra := chi.URLParam(r, "*"); extra != "" {
		path = strings.TrimSuffix(path, "/") + "/" + extra
	}
	if r.URL.RawQuery != "" {
		path += "?" + r.URL.RawQuery
	}

	resp, ferr := h.forwarder.Forward(ctx, forward.Request{
		URL:     st.endpoint.TargetURL,
		Path:    path,
		Method:  r.Method,
		Headers: r.Header,
		Body:    body,
		Timeout: h.cfg.ForwardTimeout,
	})

	h.collectSettlement(ctx, st)
	h.setContractHeaders(w, st)

	if ferr != nil {
		h.logger.Warn("backend forwarding failed",
			zap.String("slug", st.endpoint.Slug), zap.Error(ferr))
		writeJSON(w, http.StatusBadGateway, map[string]string{
			"error":  "bad_gateway",
			"detail": ferr.Error(),
		})
		h.finishAudit(st, http.StatusBadGateway, nil)
		return
	}

	copyResponseHeaders(w.Header(), resp.Headers)
	w.WriteHeader(resp.Status)
	_, _ = w.Write(resp.Body)

	h.finishAudit(st, resp.Status, resp)
}

// setContractHeaders exposes payment, settlement, and credit state to the
// client so it can track its own balance without a separate query endpoint.
func (h *ProxyHandler) setContractHeaders(w http.ResponseWriter, st *requestState) {
	header := w.Header()
	header.Set(HeaderProxyService, h.cfg.ServiceName)
	header.Set(HeaderPaymentStatus, string(st.audit.PaymentStatus))
	header.Set(HeaderSettlementStatus, string(st.settleStatus))

	if st.settleStatus == store.SettlementStatusSettled && st.settlement.Receipt != nil {
		if encoded, err := encoding.EncodeSettlement(*st.settlement.Receipt); err == nil {
			header.Set(HeaderPaymentResponse, encoded)
		}
	}

	if st.endpoint.CreditsEnabled {
		balance, deposited := decimal.Zero, decimal.Zero
		if st.creditBalance != nil {
			balance, deposited = st.creditBalance.Balance, st.creditBalance.TotalDeposited
		}
		header.Set(HeaderCreditBalance, balance.String())
		header.Set(HeaderCreditUsed, fmt.Sprintf("%t", st.creditsUsed))
		header.Set(HeaderCreditDeposited, deposited.String())
	}
}

func (h *ProxyHandler) newAudit(r *http.Request, endpoint *store.Endpoint, body []byte) *store.RequestAudit {
	headersJSON, _ := json.Marshal(r.Header)

	clientIP := r.Header.Get("X-Forwarded-For")
	if clientIP == "" {
		clientIP = r.RemoteAddr
		if host, _, err := net.SplitHostPort(clientIP); err == nil {
			clientIP = host
		}
	}

	return &store.RequestAudit{
		RequestID:        uuid.NewString(),
		EndpointID:       endpoint.ID,
		Method:           r.Method,
		Path:             r.URL.Path,
		RequestHeaders:   datatypes.JSON(headersJSON),
		RequestBody:      truncate(string(body), auditBodyLimit),
		ClientIP:         clientIP,
		UserAgent:        r.UserAgent(),
		PaymentStatus:    store.PaymentStatusPending,
		SettlementStatus: store.SettlementStatusPending,
		CreatedAt:        time.Now(),
	}
}

// finishAudit records the response outcome asynchronously. The write must
// never delay or fail the client-visible response.
func (h *ProxyHandler) finishAudit(st *requestState, status int, resp *forward.Response) {
	audit := st.audit
	if audit == nil {
		return
	}
	audit.SettlementStatus = st.settleStatus
	if st.settlement.Receipt != nil {
		audit.SettlementTxRef = st.settlement.Receipt.Transaction
	}
	audit.SettlementError = st.settlement.ErrorReason
	audit.ResponseStatus = status
	if resp != nil {
		audit.ResponseBody = truncate(string(resp.Body), auditBodyLimit)
	}
	audit.DurationMS = time.Since(st.started).Milliseconds()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := h.audits.Update(ctx, audit); err != nil {
			h.logger.Error("audit update failed", zap.Error(err))
		}
	}()
}

func (h *ProxyHandler) resourceURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host + r.URL.Path
}

func copyResponseHeaders(dst, src http.Header) {
	for name, values := range src {
		switch http.CanonicalHeaderKey(name) {
		case "Connection", "Keep-Alive", "Transfer-Encoding", "Upgrade", "Trailer":
			continue
		}
		for _, v := range values {
			dst.Add(name, v)
		}
	}
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit]
}
