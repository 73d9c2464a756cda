package linepay

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
)

// client is a minimal LINE Pay v3 API client.
type client struct {
	baseURL   string
	channelID string
	secret    string
	http      *http.Client
	nonce     func() string
}

// sign computes X-LINE-Authorization.  For a POST the signed content is
// the JSON body; for a GET it is the encoded query string.
func sign(secret, uri string, content []byte, nonce string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(secret))
	mac.Write([]byte(uri))
	mac.Write(content)
	mac.Write([]byte(nonce))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// post sends body to uri and returns the raw response body.
func (c *client) post(ctx context.Context, uri string, body interface{}) ([]byte, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	return c.do(ctx, http.MethodPost, uri, "", b)
}

// get queries uri with q and returns the raw response body.
func (c *client) get(ctx context.Context, uri string, q url.Values) ([]byte, error) {
	return c.do(ctx, http.MethodGet, uri, q.Encode(), nil)
}

// do sends one signed request.  Any 2xx is returned to the caller; LINE
// Pay reports business errors in returnCode, not the HTTP status.
func (c *client) do(ctx context.Context, method, uri, query string, body []byte) ([]byte, error) {
	target := strings.TrimRight(c.baseURL, "/") + uri
	signed := body
	var rd io.Reader
	if method == http.MethodGet {
		signed = []byte(query)
		if query != "" {
			target += "?" + query
		}
	} else {
		rd = bytes.NewReader(body)
	}
	nonce := c.nonce()
	req, err := http.NewRequestWithContext(ctx, method, target, rd)
	if err != nil {
		return nil, err
	}
	if rd != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-LINE-ChannelId", c.channelID)
	req.Header.Set("X-LINE-Authorization-Nonce", nonce)
	req.Header.Set("X-LINE-Authorization", sign(c.secret, uri, signed, nonce))

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("linepay %s: %w", uri, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("linepay %s: read body: %w", uri, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("linepay %s: http %d", uri, resp.StatusCode)
	}
	return raw, nil
}

func newNonce() string { return uuid.NewString() }

type product struct {
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
	Price    int64  `json:"price"`
}

type pkg struct {
	ID       string    `json:"id"`
	Amount   int64     `json:"amount"`
	Products []product `json:"products"`
}

type redirectURLs struct {
	ConfirmURL string `json:"confirmUrl"`
	CancelURL  string `json:"cancelUrl"`
}

type requestBody struct {
	Amount       int64        `json:"amount"`
	Currency     string       `json:"currency"`
	OrderID      string       `json:"orderId"`
	Packages     []pkg        `json:"packages"`
	RedirectURLs redirectURLs `json:"redirectUrls"`
}

type requestResponse struct {
	ReturnCode    string `json:"returnCode"`
	ReturnMessage string `json:"returnMessage"`
	Info          struct {
		PaymentURL struct {
			Web string `json:"web"`
			App string `json:"app"`
		} `json:"paymentUrl"`
		TransactionID json.Number `json:"transactionId"`
	} `json:"info"`
}

type confirmBody struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

type payInfo struct {
	Method string `json:"method"`
	Amount int64  `json:"amount"`
}

type confirmResponse struct {
	ReturnCode    string `json:"returnCode"`
	ReturnMessage string `json:"returnMessage"`
	Info          struct {
		OrderID       string      `json:"orderId"`
		TransactionID json.Number `json:"transactionId"`
		PayInfo       []payInfo   `json:"payInfo"`
	} `json:"info"`
}

// detailsResponse is the answer of GET /v3/payments.
type detailsResponse struct {
	ReturnCode    string `json:"returnCode"`
	ReturnMessage string `json:"returnMessage"`
	Info          []struct {
		TransactionID   json.Number `json:"transactionId"`
		TransactionType string      `json:"transactionType"`
		OrderID         string      `json:"orderId"`
		PayInfo         []payInfo   `json:"payInfo"`
	} `json:"info"`
}

func decode(raw []byte, v interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	return dec.Decode(v)
}
