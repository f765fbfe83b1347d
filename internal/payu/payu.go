// Package payu signs requests for the PayU gateway, verifies callback
// signatures and issues refund commands.
package payu

import (
	"context"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ProductInfo is a fixed field in every hash; it must match on both legs of
// the round trip or the signature check fails.
const ProductInfo = "Counselling Appointment"

const GatewayName = "payu"

type Config struct {
	MerchantKey  string
	MerchantSalt string
	BaseURL      string // hosted checkout endpoint
	RefundURL    string // merchant postservice endpoint
	SuccessURL   string
	FailureURL   string
}

type Client struct {
	cfg    Config
	http   *http.Client
	logger *zerolog.Logger
}

func NewClient(cfg Config, logger *zerolog.Logger) *Client {
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: 15 * time.Second},
		logger: logger,
	}
}

// PaymentRequest is everything the frontend needs to redirect a buyer to the
// hosted checkout page.
type PaymentRequest struct {
	Key         string `json:"key"`
	TxnID       string `json:"txn_id"`
	Amount      int64  `json:"amount"`
	ProductInfo string `json:"product_info"`
	FirstName   string `json:"first_name"`
	Email       string `json:"email"`
	Phone       string `json:"phone"`
	Hash        string `json:"hash"`
	PayuURL     string `json:"payu_url"`
	SuccessURL  string `json:"surl"`
	FailureURL  string `json:"furl"`
}

func (c *Client) BuildPaymentRequest(txnID string, amount int64, buyerName, buyerEmail string) PaymentRequest {
	return PaymentRequest{
		Key:         c.cfg.MerchantKey,
		TxnID:       txnID,
		Amount:      amount,
		ProductInfo: ProductInfo,
		FirstName:   buyerName,
		Email:       buyerEmail,
		Phone:       "",
		Hash:        c.RequestHash(txnID, amount, buyerName, buyerEmail),
		PayuURL:     c.cfg.BaseURL,
		SuccessURL:  c.cfg.SuccessURL,
		FailureURL:  c.cfg.FailureURL,
	}
}

// RequestHash computes the outbound signature:
// sha512(key|txnid|amount|productinfo|firstname|email|udf1..udf5|5 blanks|salt),
// with all ten udf/blank fields empty.
func (c *Client) RequestHash(txnID string, amount int64, buyerName, buyerEmail string) string {
	fields := []string{
		c.cfg.MerchantKey,
		txnID,
		strconv.FormatInt(amount, 10),
		ProductInfo,
		buyerName,
		buyerEmail,
		"", "", "", "", "", "", "", "", "", "",
		c.cfg.MerchantSalt,
	}
	return sha512Hex(strings.Join(fields, "|"))
}

// ResponseHash computes the expected callback signature from the echoed
// parameters: the request fields in reverse order with status after the
// salt, the same ten empty fields in between.
func (c *Client) ResponseHash(params map[string]string) string {
	fields := []string{
		c.cfg.MerchantSalt,
		params["status"],
		"", "", "", "", "", "", "", "", "", "",
		params["email"],
		params["firstname"],
		params["productinfo"],
		params["amount"],
		params["txnid"],
		params["key"],
	}
	return sha512Hex(strings.Join(fields, "|"))
}

// VerifyResponseHash reports whether the hash in the callback parameters
// matches the recomputed signature.
func (c *Client) VerifyResponseHash(params map[string]string) bool {
	received := params["hash"]
	return received != "" && received == c.ResponseHash(params)
}

// RefundResult is the parsed outcome of a refund command. Transport and
// parse failures are folded into Success=false / Status="error" so a broken
// gateway never aborts the caller's cancellation transaction.
type RefundResult struct {
	Success   bool   `json:"success"`
	Status    string `json:"status"`
	Message   string `json:"message,omitempty"`
	MihPayID  string `json:"mihpayid,omitempty"`
	RefundID  string `json:"refund_id,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// Refund issues a refund_payment command for a captured payment. It is called
// at most once per payment; retries risk duplicate refunds and are left to
// manual follow-up.
func (c *Client) Refund(ctx context.Context, mihPayID string, amount int64) RefundResult {
	hash := sha512Hex(strings.Join([]string{
		c.cfg.MerchantKey,
		"refund_payment",
		mihPayID,
		c.cfg.MerchantSalt,
	}, "|"))

	form := url.Values{}
	form.Set("key", c.cfg.MerchantKey)
	form.Set("command", "refund_payment")
	form.Set("var1", mihPayID)
	form.Set("var2", strconv.FormatInt(amount, 10))
	form.Set("hash", hash)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.RefundURL, strings.NewReader(form.Encode()))
	if err != nil {
		return c.refundError(mihPayID, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	res, err := c.http.Do(req)
	if err != nil {
		return c.refundError(mihPayID, err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return c.refundError(mihPayID, fmt.Errorf("gateway returned status %d", res.StatusCode))
	}

	result, err := parseRefundResponse(res.Body)
	if err != nil {
		return c.refundError(mihPayID, err)
	}
	return result
}

func (c *Client) refundError(mihPayID string, err error) RefundResult {
	c.logger.Error().Err(err).Str("mihpayid", mihPayID).Msg("refund request failed")
	return RefundResult{
		Success: false,
		Status:  "error",
		Message: err.Error(),
	}
}

func sha512Hex(s string) string {
	sum := sha512.Sum512([]byte(s))
	return hex.EncodeToString(sum[:])
}
