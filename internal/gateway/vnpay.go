// Package gateway builds signed redirect URLs for the VNPay payment gateway
// and verifies the parameters it sends back.
package gateway

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ResponseSuccess is the response code VNPay uses for a captured payment.
const ResponseSuccess = "00"

const (
	version   = "2.1.0"
	command   = "pay"
	currency  = "VND"
	orderType = "other"
	locale    = "vn"
	hashParam = "vnp_SecureHash"
	hashType  = "vnp_SecureHashType"
	// timestamps are exchanged in yyyyMMddHHmmss, Vietnam time.
	timeLayout = "20060102150405"
)

var vietnam = time.FixedZone("GMT+7", 7*60*60)

var (
	// ErrInvalidSignature means the callback was not signed with our secret.
	ErrInvalidSignature = errors.New("gateway: invalid signature")
	// ErrMalformedCallback means a required callback field is missing or unparsable.
	ErrMalformedCallback = errors.New("gateway: malformed callback")
)

// Config holds merchant credentials and endpoints.
type Config struct {
	TmnCode    string
	HashSecret string
	PayURL     string
	ReturnURL  string
}

// RedirectRequest describes one payment attempt.
type RedirectRequest struct {
	TransactionID string
	Amount        int64 // VND
	OrderInfo     string
	ClientIP      string
	CreatedAt     time.Time
	ExpiresAt     time.Time
}

// Callback is a verified callback from the gateway.
type Callback struct {
	TransactionID string
	TransactionNo string
	BankCode      string
	ResponseCode  string
	Amount        int64 // VND
	PayDate       time.Time
}

// Succeeded reports whether the provider captured the payment.
func (c Callback) Succeeded() bool { return c.ResponseCode == ResponseSuccess }

// VNPay signs and verifies VNPay parameters.
type VNPay struct {
	cfg Config
}

// NewVNPay returns a gateway adapter for cfg.
func NewVNPay(cfg Config) *VNPay {
	return &VNPay{cfg: cfg}
}

// BuildRedirectURL returns the URL the traveler is sent to for payment.
func (g *VNPay) BuildRedirectURL(req RedirectRequest) (string, error) {
	if req.TransactionID == "" || req.Amount <= 0 {
		return "", fmt.Errorf("gateway: transaction id and positive amount required")
	}
	ip := req.ClientIP
	if ip == "" {
		ip = "127.0.0.1"
	}
	v := url.Values{}
	v.Set("vnp_Version", version)
	v.Set("vnp_Command", command)
	v.Set("vnp_TmnCode", g.cfg.TmnCode)
	v.Set("vnp_Amount", strconv.FormatInt(req.Amount*100, 10))
	v.Set("vnp_CurrCode", currency)
	v.Set("vnp_TxnRef", req.TransactionID)
	v.Set("vnp_OrderInfo", req.OrderInfo)
	v.Set("vnp_OrderType", orderType)
	v.Set("vnp_Locale", locale)
	v.Set("vnp_ReturnUrl", g.cfg.ReturnURL)
	v.Set("vnp_IpAddr", ip)
	v.Set("vnp_CreateDate", req.CreatedAt.In(vietnam).Format(timeLayout))
	v.Set("vnp_ExpireDate", req.ExpiresAt.In(vietnam).Format(timeLayout))

	data := canonical(v)
	return g.cfg.PayURL + "?" + data + "&" + hashParam + "=" + g.sign(data), nil
}

// ParseCallback verifies the signature on params and extracts the result.
func (g *VNPay) ParseCallback(params url.Values) (Callback, error) {
	got := params.Get(hashParam)
	if got == "" {
		return Callback{}, ErrInvalidSignature
	}
	signed := url.Values{}
	for k, vs := range params {
		if k == hashParam || k == hashType || !strings.HasPrefix(k, "vnp_") {
			continue
		}
		signed[k] = vs
	}
	want := g.sign(canonical(signed))
	if !hmac.Equal([]byte(strings.ToLower(got)), []byte(want)) {
		return Callback{}, ErrInvalidSignature
	}

	cb := Callback{
		TransactionID: params.Get("vnp_TxnRef"),
		TransactionNo: params.Get("vnp_TransactionNo"),
		BankCode:      params.Get("vnp_BankCode"),
		ResponseCode:  params.Get("vnp_ResponseCode"),
	}
	if cb.TransactionID == "" || cb.ResponseCode == "" {
		return Callback{}, ErrMalformedCallback
	}
	if raw := params.Get("vnp_Amount"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return Callback{}, fmt.Errorf("%w: amount %q", ErrMalformedCallback, raw)
		}
		cb.Amount = n / 100
	}
	if raw := params.Get("vnp_PayDate"); raw != "" {
		t, err := time.ParseInLocation(timeLayout, raw, vietnam)
		if err != nil {
			return Callback{}, fmt.Errorf("%w: pay date %q", ErrMalformedCallback, raw)
		}
		cb.PayDate = t.UTC()
	}
	return cb, nil
}

// SignParams returns params with a valid vnp_SecureHash added. It is what
// the provider does before calling us back; used by tests and the sandbox.
func (g *VNPay) SignParams(params url.Values) url.Values {
	out := url.Values{}
	for k, vs := range params {
		out[k] = vs
	}
	out.Del(hashParam)
	out.Set(hashParam, g.sign(canonical(params)))
	return out
}

func (g *VNPay) sign(data string) string {
	mac := hmac.New(sha512.New, []byte(g.cfg.HashSecret))
	mac.Write([]byte(data))
	return hex.EncodeToString(mac.Sum(nil))
}

// canonical encodes params sorted by key, skipping empty values.
func canonical(params url.Values) string {
	names := make([]string, 0, len(params))
	for k := range params {
		if k == hashParam || k == hashType || params.Get(k) == "" {
			continue
		}
		names = append(names, k)
	}
	sort.Strings(names)
	var b strings.Builder
	for i, k := range names {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(k))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(params.Get(k)))
	}
	return b.String()
}
