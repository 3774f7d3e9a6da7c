package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/wichananm65/storefront-backend/internal/address"
	"github.com/wichananm65/storefront-backend/internal/apperr"
	"github.com/wichananm65/storefront-backend/internal/notification"
	"github.com/wichananm65/storefront-backend/internal/order"
	"github.com/wichananm65/storefront-backend/internal/payu"
	"github.com/wichananm65/storefront-backend/internal/ratelimit"
	"github.com/wichananm65/storefront-backend/internal/retry"
	"github.com/wichananm65/storefront-backend/internal/user"
)

const (
	gatewayRetryAfter = 60
	statusSuccess     = "success"
)

// amountTolerance is the largest callback/order total difference accepted.
var amountTolerance = decimal.New(1, -2)

type Orders interface {
	GetByNumber(ctx context.Context, number string) (order.Order, error)
	MarkPaid(ctx context.Context, number string, d order.PaymentDetails) (bool, error)
	MarkPaymentFailed(ctx context.Context, number, reason string) (bool, error)
}

type Addresses interface {
	Get(ctx context.Context, userID, addressID int) (address.Address, error)
}

type Users interface {
	GetByID(ctx context.Context, id int) (user.User, error)
}

// Gateway is the merchant configuration echoed in every initiation payload.
type Gateway struct {
	Key         string
	Environment string
	SuccessURL  string
	FailureURL  string
}

type Deps struct {
	Orders    Orders
	Addresses Addresses
	Users     Users
	Attempts  AttemptStore
	Signer    Signer
	Gate      *retry.Gate
	Limiter   ratelimit.Limiter
	Guard     ratelimit.Guard
	// Cache is optional. Without it every initiation mints a new txnid.
	Cache    ratelimit.Cache
	Notifier notification.Notifier
	Gateway  Gateway

	// Record is the retry policy for writing a confirmed payment.
	Record     retry.Policy
	DedupTTL   time.Duration
	CacheTTL   time.Duration
	AttemptTTL time.Duration
}

type Orchestrator struct {
	Deps
	log logrus.FieldLogger
	now func() time.Time
}

type Option func(*Orchestrator)

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

func NewOrchestrator(d Deps, log logrus.FieldLogger, opts ...Option) *Orchestrator {
	if d.Notifier == nil {
		d.Notifier = notification.Nop{}
	}
	if d.AttemptTTL <= 0 {
		d.AttemptTTL = DefaultAttemptTTL
	}
	if d.DedupTTL <= 0 {
		d.DedupTTL = 30 * time.Second
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	o := &Orchestrator{Deps: d, log: log.WithField("component", "payment"), now: time.Now}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

type InitiateRequest struct {
	UserID      int
	OrderNumber string
	ProductInfo string
	FirstName   string
	Email       string
	Phone       string
}

// InitiateResponse is the form the client posts to the gateway.
type InitiateResponse struct {
	Key         string `json:"key"`
	TxnID       string `json:"txnid"`
	Amount      string `json:"amount"`
	ProductInfo string `json:"productinfo"`
	FirstName   string `json:"firstname"`
	Email       string `json:"email"`
	Phone       string `json:"phone"`
	Hash        string `json:"hash"`
	SuccessURL  string `json:"success_url"`
	FailureURL  string `json:"failure_url"`
	Environment string `json:"environment"`
	UDF1        string `json:"udf1"`
	UDF2        string `json:"udf2"`
	UDF3        string `json:"udf3"`
	UDF4        string `json:"udf4"`
	UDF5        string `json:"udf5"`
}

// Initiate signs a payment request for one of the user's unpaid orders.
func (o *Orchestrator) Initiate(ctx context.Context, req InitiateRequest) (*InitiateResponse, error) {
	if req.OrderNumber == "" {
		return nil, apperr.Validation("orderNumber is required")
	}
	ord, err := o.Orders.GetByNumber(ctx, req.OrderNumber)
	if err != nil {
		return nil, err
	}
	if ord.UserID != req.UserID {
		return nil, apperr.NotFound("Order not found")
	}
	switch {
	case ord.PaymentStatus == order.PaymentPaid:
		return nil, apperr.Conflict(apperr.CodeAlreadyPaid, "Order is already paid")
	case ord.Status == order.StatusCancelled:
		return nil, apperr.Conflict(apperr.CodeConflict, "Cannot pay for a cancelled order")
	}
	if err := o.fillContact(ctx, ord, &req); err != nil {
		return nil, err
	}

	if err := o.throttle(ctx, req.UserID); err != nil {
		return nil, err
	}
	release, err := o.Guard.Acquire(ctx, ratelimit.Key("payu", "dedup", ord.OrderNumber), o.DedupTTL)
	if err != nil {
		if apperr.IsClient(err) {
			return nil, err
		}
		return nil, apperr.Internal("payment guard failed", err)
	}
	defer release()

	amount := ord.Total.StringFixed(2)
	cacheKey := ratelimit.Key("payu", "response", req.UserID, ord.OrderNumber, amount)
	if cached, ok := o.cached(ctx, cacheKey); ok {
		return cached, nil
	}

	if !o.Gate.Available() {
		return nil, unavailable(nil)
	}

	now := o.now().UTC()
	txnid := NewTxnID(ord.OrderNumber, now)
	productInfo := req.ProductInfo
	if productInfo == "" {
		productInfo = "Order " + ord.OrderNumber
	}
	fields := payu.Fields{
		Key:         o.Gateway.Key,
		TxnID:       txnid,
		Amount:      amount,
		ProductInfo: productInfo,
		FirstName:   req.FirstName,
		Email:       req.Email,
		UDF:         [5]string{ord.ID, strconv.Itoa(req.UserID)},
	}
	hash, err := retry.Do(ctx, o.Gate, func(ctx context.Context) (string, error) {
		return o.Signer.Sign(ctx, fields)
	})
	if err != nil {
		o.log.WithError(err).WithField("order_number", ord.OrderNumber).Warn("payment hash generation failed")
		return nil, classifyGateway(err, "Failed to initiate payment")
	}

	err = o.Attempts.Save(ctx, Attempt{
		TxnID:       txnid,
		OrderNumber: ord.OrderNumber,
		UserID:      req.UserID,
		Amount:      ord.Total,
		Status:      AttemptInitiated,
		CreatedAt:   now,
		ExpiresAt:   now.Add(o.AttemptTTL),
	})
	switch {
	case errors.Is(err, ErrDuplicateAttempt):
		return nil, apperr.Conflict(apperr.CodeDuplicateTransaction, "Transaction already in progress. Please wait before retrying.")
	case err != nil:
		return nil, apperr.Internal("save payment attempt", err)
	}

	resp := &InitiateResponse{
		Key:         fields.Key,
		TxnID:       txnid,
		Amount:      amount,
		ProductInfo: productInfo,
		FirstName:   fields.FirstName,
		Email:       fields.Email,
		Phone:       req.Phone,
		Hash:        hash,
		SuccessURL:  o.Gateway.SuccessURL,
		FailureURL:  o.Gateway.FailureURL,
		Environment: o.Gateway.Environment,
		UDF1:        fields.UDF[0],
		UDF2:        fields.UDF[1],
		UDF3:        fields.UDF[2],
		UDF4:        fields.UDF[3],
		UDF5:        fields.UDF[4],
	}
	o.store(ctx, cacheKey, resp)

	o.log.WithFields(logrus.Fields{
		"order_number": ord.OrderNumber,
		"txnid":        txnid,
		"amount":       amount,
	}).Info("payment initiated")
	return resp, nil
}

// fillContact completes the payer's name, email and phone from the profile
// and the order's delivery address.
func (o *Orchestrator) fillContact(ctx context.Context, ord order.Order, req *InitiateRequest) error {
	if req.FirstName == "" || req.Email == "" || req.Phone == "" {
		u, err := o.Users.GetByID(ctx, req.UserID)
		if err != nil && !errors.Is(err, user.ErrNotFound) {
			return apperr.Internal("load payer profile", err)
		}
		req.FirstName = firstNonEmpty(req.FirstName, u.FirstName)
		req.Email = firstNonEmpty(req.Email, u.Email)
		if req.Phone == "" {
			req.Phone = o.addressPhone(ctx, ord)
		}
		req.Phone = firstNonEmpty(req.Phone, u.Phone)
	}
	if req.Phone == "" {
		return apperr.Validation("Phone number is required for payment")
	}
	if req.FirstName == "" || req.Email == "" {
		return apperr.Validation("Customer name and email are required for payment")
	}
	return nil
}

func (o *Orchestrator) addressPhone(ctx context.Context, ord order.Order) string {
	if ord.AddressID == 0 {
		return ""
	}
	a, err := o.Addresses.Get(ctx, ord.UserID, ord.AddressID)
	if err != nil {
		o.log.WithError(err).WithField("address_id", ord.AddressID).Debug("delivery address unavailable")
		return ""
	}
	return a.Phone
}

func (o *Orchestrator) throttle(ctx context.Context, userID int) error {
	d, err := o.Limiter.Allow(ctx, ratelimit.Key("payu", "initiate", userID))
	if err != nil {
		// The limiter backend being down should not block payments.
		o.log.WithError(err).Warn("rate limiter unavailable")
		return nil
	}
	if !d.Allowed {
		return apperr.RateLimited(apperr.CodeRateLimitExceeded, "Too many payment requests. Please wait before retrying.", d.RetryAfterSeconds())
	}
	return nil
}

// cached returns a stored payload only while its attempt is still open, so
// a paid or failed attempt is never handed out again.
func (o *Orchestrator) cached(ctx context.Context, key string) (*InitiateResponse, bool) {
	if o.Cache == nil {
		return nil, false
	}
	raw, err := o.Cache.Get(ctx, key)
	if err != nil || raw == "" {
		return nil, false
	}
	var resp InitiateResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		return nil, false
	}
	a, err := o.Attempts.Get(ctx, resp.TxnID, o.now())
	if err != nil || a.Status != AttemptInitiated {
		return nil, false
	}
	return &resp, true
}

func (o *Orchestrator) store(ctx context.Context, key string, resp *InitiateResponse) {
	if o.Cache == nil || o.CacheTTL <= 0 {
		return
	}
	b, err := json.Marshal(resp)
	if err == nil {
		err = o.Cache.Set(ctx, key, string(b), o.CacheTTL)
	}
	if err != nil {
		o.log.WithError(err).Warn("cache payment response")
	}
}

// Callback is the body PayU posts to the success and failure URLs.
type Callback struct {
	TxnID        string `json:"txnid" form:"txnid"`
	Amount       string `json:"amount" form:"amount"`
	ProductInfo  string `json:"productinfo" form:"productinfo"`
	FirstName    string `json:"firstname" form:"firstname"`
	Email        string `json:"email" form:"email"`
	Status       string `json:"status" form:"status"`
	Hash         string `json:"hash" form:"hash"`
	Key          string `json:"key" form:"key"`
	UDF1         string `json:"udf1" form:"udf1"`
	UDF2         string `json:"udf2" form:"udf2"`
	UDF3         string `json:"udf3" form:"udf3"`
	UDF4         string `json:"udf4" form:"udf4"`
	UDF5         string `json:"udf5" form:"udf5"`
	MihPayID     string `json:"mihpayid" form:"mihpayid"`
	Mode         string `json:"mode" form:"mode"`
	BankRefNum   string `json:"bank_ref_num" form:"bank_ref_num"`
	CardNum      string `json:"cardnum" form:"cardnum"`
	Error        string `json:"error" form:"error"`
	ErrorMessage string `json:"error_Message" form:"error_Message"`
}

func (cb Callback) response(defaultKey string) payu.Response {
	return payu.Response{
		Fields: payu.Fields{
			Key:         firstNonEmpty(cb.Key, defaultKey),
			TxnID:       cb.TxnID,
			Amount:      cb.Amount,
			ProductInfo: cb.ProductInfo,
			FirstName:   cb.FirstName,
			Email:       cb.Email,
			UDF:         [5]string{cb.UDF1, cb.UDF2, cb.UDF3, cb.UDF4, cb.UDF5},
		},
		Status: cb.Status,
	}
}

// Outcome is what a callback is acknowledged with.
type Outcome struct {
	Success          bool   `json:"success"`
	AlreadyProcessed bool   `json:"alreadyProcessed,omitempty"`
	Message          string `json:"message"`
	TxnID            string `json:"txnid"`
	OrderNumber      string `json:"orderNumber,omitempty"`
	Status           string `json:"status,omitempty"`
}

// ReconcileSuccess settles an order from a signed success callback. Replays
// of a settled callback report AlreadyProcessed and change nothing.
func (o *Orchestrator) ReconcileSuccess(ctx context.Context, cb Callback) (*Outcome, error) {
	if cb.TxnID == "" || cb.Hash == "" {
		return nil, apperr.Validation("Invalid callback: txnid and hash are required")
	}
	log := o.log.WithFields(logrus.Fields{"txnid": cb.TxnID, "mihpayid": cb.MihPayID})

	if err := o.verify(ctx, cb); err != nil {
		log.WithError(err).Warn("success callback rejected")
		return nil, err
	}

	out := &Outcome{TxnID: cb.TxnID, Status: cb.Status}
	if cb.Status != statusSuccess {
		o.setAttempt(ctx, cb.TxnID, AttemptFailed)
		out.Message = "Payment was not successful"
		return out, nil
	}

	number, ok := OrderNumberFromTxnID(cb.TxnID)
	if !ok {
		return nil, apperr.Validation("Invalid transaction id")
	}
	out.OrderNumber = number
	log = log.WithField("order_number", number)

	release, err := o.Guard.Acquire(ctx, ratelimit.Key("payu", "reconcile", cb.TxnID), o.DedupTTL)
	if err != nil {
		if apperr.IsClient(err) {
			return nil, err
		}
		return nil, apperr.Internal("payment guard failed", err)
	}
	defer release()

	ord, err := o.Orders.GetByNumber(ctx, number)
	if err != nil {
		return nil, err
	}

	paid, perr := decimal.NewFromString(cb.Amount)
	if perr != nil || paid.Sub(ord.Total).Abs().GreaterThan(amountTolerance) {
		reason := fmt.Sprintf("Amount mismatch: expected %s, received %s", ord.Total.StringFixed(2), cb.Amount)
		if _, err := o.Orders.MarkPaymentFailed(ctx, number, reason); err != nil {
			log.WithError(err).Error("record amount mismatch")
		}
		o.setAttempt(ctx, cb.TxnID, AttemptFailed)
		log.WithFields(logrus.Fields{"expected": ord.Total.StringFixed(2), "received": cb.Amount}).
			Error("payment amount mismatch")
		return nil, apperr.Security(apperr.CodeAmountMismatch, "Payment verification failed")
	}

	if ord.PaymentStatus == order.PaymentPaid {
		return alreadyProcessed(out), nil
	}

	details := order.PaymentDetails{
		MihPayID:   cb.MihPayID,
		Mode:       cb.Mode,
		BankRefNum: cb.BankRefNum,
		CardNum:    MaskCard(cb.CardNum),
		TxnID:      cb.TxnID,
		Amount:     paid,
	}
	// Money has been taken at this point; the caller hanging up must not
	// abandon the write.
	writeCtx := context.WithoutCancel(ctx)
	var updated bool
	err = retry.Backoff(writeCtx, o.Record, log, func(ctx context.Context) error {
		var err error
		updated, err = o.Orders.MarkPaid(ctx, number, details)
		return err
	})
	if err != nil {
		log.WithError(err).WithFields(logrus.Fields{
			"amount":       cb.Amount,
			"bank_ref_num": cb.BankRefNum,
		}).Error("PAYMENT RECEIVED BUT ORDER UPDATE FAILED, manual reconciliation required")
		return nil, apperr.PaymentNotRecorded(err)
	}
	if !updated {
		return alreadyProcessed(out), nil
	}

	o.setAttempt(writeCtx, cb.TxnID, AttemptSucceeded)
	o.Notifier.Notify(writeCtx, notification.ForOrder(notification.PaymentSuccess, ord.UserID, number, string(ord.Status)))
	log.WithField("amount", cb.Amount).Info("payment reconciled")

	out.Success = true
	out.Message = "Payment successful"
	return out, nil
}

func alreadyProcessed(out *Outcome) *Outcome {
	out.Success = true
	out.AlreadyProcessed = true
	out.Message = "Payment already processed"
	return out
}

// ReconcileFailure records a failed payment. Apart from a bad signature it
// always acknowledges, even when the order cannot be updated.
func (o *Orchestrator) ReconcileFailure(ctx context.Context, cb Callback) (*Outcome, error) {
	if cb.TxnID == "" {
		return nil, apperr.Validation("Invalid callback: txnid is required")
	}
	log := o.log.WithField("txnid", cb.TxnID)
	out := &Outcome{TxnID: cb.TxnID, Status: firstNonEmpty(cb.Status, "failure"), Message: "Payment failed"}

	if cb.Hash != "" {
		if err := o.verify(ctx, cb); err != nil {
			if apperr.Is(err, apperr.KindSecurity) {
				log.Warn("failure callback signature rejected")
				return nil, err
			}
			log.WithError(err).Warn("failure callback not verified, acknowledging without update")
			return out, nil
		}
	}

	number, ok := OrderNumberFromTxnID(cb.TxnID)
	if !ok {
		log.Warn("failure callback with unrecognised txnid")
		return out, nil
	}
	out.OrderNumber = number
	log = log.WithField("order_number", number)

	reason := firstNonEmpty(cb.ErrorMessage, cb.Error, "Payment failed")
	ord, err := o.Orders.GetByNumber(ctx, number)
	if err != nil {
		log.WithError(err).Warn("failure callback for unknown order")
		return out, nil
	}
	updated, err := o.Orders.MarkPaymentFailed(ctx, number, reason)
	if err != nil {
		log.WithError(err).Error("record payment failure")
		return out, nil
	}
	if updated {
		o.setAttempt(ctx, cb.TxnID, AttemptFailed)
		o.Notifier.Notify(ctx, notification.ForOrder(notification.PaymentFailed, ord.UserID, number, string(ord.Status)))
	}
	log.WithField("reason", reason).Info("payment failure recorded")
	return out, nil
}

// verify checks the callback hash through the gate. A mismatch is reported
// as a bare signature error.
func (o *Orchestrator) verify(ctx context.Context, cb Callback) error {
	if !o.Gate.Available() {
		return unavailable(nil)
	}
	r := cb.response(o.Gateway.Key)
	ok, err := retry.Do(ctx, o.Gate, func(ctx context.Context) (bool, error) {
		return o.Signer.Verify(ctx, r, cb.Hash)
	})
	if err != nil {
		return classifyGateway(err, "Failed to verify payment")
	}
	if !ok {
		return apperr.Security(apperr.CodeInvalidSignature, "Invalid payment signature")
	}
	return nil
}

func (o *Orchestrator) setAttempt(ctx context.Context, txnid string, status AttemptStatus) {
	if _, err := o.Attempts.SetStatus(ctx, txnid, status); err != nil {
		o.log.WithError(err).WithField("txnid", txnid).Warn("update payment attempt")
	}
}

type StatusView struct {
	TxnID         string              `json:"txnid"`
	OrderNumber   string              `json:"orderNumber"`
	OrderStatus   order.Status        `json:"orderStatus"`
	PaymentStatus order.PaymentStatus `json:"paymentStatus"`
	Amount        decimal.Decimal     `json:"amount"`
	AttemptStatus AttemptStatus       `json:"attemptStatus,omitempty"`
}

// Status reports where the order behind a txnid stands.
func (o *Orchestrator) Status(ctx context.Context, txnid string) (StatusView, error) {
	number, ok := OrderNumberFromTxnID(txnid)
	if !ok {
		return StatusView{}, apperr.Validation("Invalid transaction id")
	}
	ord, err := o.Orders.GetByNumber(ctx, number)
	if err != nil {
		return StatusView{}, err
	}
	v := StatusView{
		TxnID:         txnid,
		OrderNumber:   number,
		OrderStatus:   ord.Status,
		PaymentStatus: ord.PaymentStatus,
		Amount:        ord.Total,
	}
	if a, err := o.Attempts.Get(ctx, txnid, o.now()); err == nil {
		v.AttemptStatus = a.Status
	}
	return v, nil
}

type DetailsView struct {
	OrderNumber    string                `json:"orderNumber"`
	PaymentMethod  order.PaymentMethod   `json:"paymentMethod"`
	PaymentStatus  order.PaymentStatus   `json:"paymentStatus"`
	PaymentDetails *order.PaymentDetails `json:"paymentDetails,omitempty"`
	PaymentError   string                `json:"paymentError,omitempty"`
	PaymentDate    *time.Time            `json:"paymentDate,omitempty"`
	Total          decimal.Decimal       `json:"total"`
}

// Details returns the recorded payment for an order the user owns.
func (o *Orchestrator) Details(ctx context.Context, userID int, txnid string) (DetailsView, error) {
	number, ok := OrderNumberFromTxnID(txnid)
	if !ok {
		return DetailsView{}, apperr.Validation("Invalid transaction id")
	}
	ord, err := o.Orders.GetByNumber(ctx, number)
	if err != nil {
		return DetailsView{}, err
	}
	if ord.UserID != userID {
		return DetailsView{}, apperr.NotFound("Order not found")
	}
	return DetailsView{
		OrderNumber:    ord.OrderNumber,
		PaymentMethod:  ord.PaymentMethod,
		PaymentStatus:  ord.PaymentStatus,
		PaymentDetails: ord.PaymentDetails,
		PaymentError:   ord.PaymentError,
		PaymentDate:    ord.PaymentDate,
		Total:          ord.Total,
	}, nil
}

type Health struct {
	Service     string       `json:"service"`
	Status      string       `json:"status"`
	Environment string       `json:"environment"`
	Gate        retry.Status `json:"gate"`
}

func (o *Orchestrator) Health() Health {
	s := o.Gate.Status()
	h := Health{Service: "payu", Status: "healthy", Environment: o.Gateway.Environment, Gate: s}
	if s.CircuitBreakerOpen {
		h.Status = "degraded"
	}
	return h
}

// Reap deletes expired payment attempts.
func (o *Orchestrator) Reap(ctx context.Context) (int64, error) {
	return o.Attempts.DeleteExpired(ctx, o.now())
}

func classifyGateway(err error, msg string) error {
	switch {
	case apperr.Is(err, apperr.KindRateLimit):
		return apperr.RateLimited(apperr.CodeGatewayRateLimit, "Too many requests to payment service. Please try again after 60 seconds.", gatewayRetryAfter)
	case apperr.Is(err, apperr.KindUnavailable):
		return err
	case errors.Is(err, retry.ErrGateClosed):
		return unavailable(err)
	default:
		return apperr.PaymentProcessing(msg, err)
	}
}

func unavailable(err error) error {
	return apperr.Unavailable("Payment service temporarily unavailable. Please try again later.", gatewayRetryAfter, err)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
