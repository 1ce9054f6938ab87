package kis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/Capstone-Design2/Backend/internal/infra"
	"github.com/Capstone-Design2/Backend/pkg/quant"

	"github.com/shopspring/decimal"
)

// trInquirePrice is the REST transaction for a domestic stock price snapshot.
const trInquirePrice = "FHKST01010100"

// Client wraps the KIS OpenAPI REST endpoints the server needs:
// WebSocket approval keys, access tokens and price quotes.
// Calls are rate limited and routed through a circuit breaker so a dead
// gateway does not burn the request quota.
type Client struct {
	restURL    string
	appKey     string
	appSecret  string
	httpClient *http.Client
	breaker    *infra.CircuitBreaker

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

// NewClient creates a new KIS REST client.
func NewClient(restURL, appKey, appSecret string) *Client {
	return &Client{
		restURL:    restURL,
		appKey:     appKey,
		appSecret:  appSecret,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		breaker:    infra.NewCircuitBreaker(infra.DefaultCircuitBreakerConfig("kis-rest")),
	}
}

type approvalRequest struct {
	GrantType string `json:"grant_type"`
	AppKey    string `json:"appkey"`
	SecretKey string `json:"secretkey"`
}

type approvalResponse struct {
	ApprovalKey string `json:"approval_key"`
}

// ApprovalKey issues the key the realtime WebSocket requires in its
// subscribe headers. KIS hands out a fresh key per connection, so this
// is called on every (re)connect and never cached.
func (c *Client) ApprovalKey(ctx context.Context) (string, error) {
	// The Approval endpoint names the secret field "secretkey",
	// unlike tokenP which names it "appsecret".
	body := approvalRequest{
		GrantType: "client_credentials",
		AppKey:    c.appKey,
		SecretKey: c.appSecret,
	}

	var resp approvalResponse
	if err := c.postJSON(ctx, "/oauth2/Approval", body, &resp); err != nil {
		return "", fmt.Errorf("failed to issue approval key: %w", err)
	}
	if resp.ApprovalKey == "" {
		return "", fmt.Errorf("approval response carried no key")
	}
	return resp.ApprovalKey, nil
}

type tokenRequest struct {
	GrantType string `json:"grant_type"`
	AppKey    string `json:"appkey"`
	AppSecret string `json:"appsecret"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

// AccessToken returns a cached bearer token, issuing a new one only when
// the cached token is within a minute of expiry. KIS blocks app keys that
// request a token per call, so the cache is mandatory, not an optimization.
func (c *Client) AccessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.accessToken != "" && time.Until(c.tokenExpiry) > time.Minute {
		return c.accessToken, nil
	}

	body := tokenRequest{
		GrantType: "client_credentials",
		AppKey:    c.appKey,
		AppSecret: c.appSecret,
	}

	var resp tokenResponse
	if err := c.postJSON(ctx, "/oauth2/tokenP", body, &resp); err != nil {
		return "", fmt.Errorf("failed to issue access token: %w", err)
	}
	if resp.AccessToken == "" {
		return "", fmt.Errorf("token response carried no access_token")
	}

	c.accessToken = resp.AccessToken
	c.tokenExpiry = time.Now().Add(time.Duration(resp.ExpiresIn) * time.Second)
	return c.accessToken, nil
}

// Quote is one REST price snapshot for an instrument.
type Quote struct {
	InstrumentID string
	LastPrice    decimal.Decimal
	Change       decimal.Decimal // signed, versus previous close
	AccVolume    int64
}

type quoteResponse struct {
	RtCd   string `json:"rt_cd"`
	MsgCd  string `json:"msg_cd"`
	Msg1   string `json:"msg1"`
	Output struct {
		Price      string `json:"stck_prpr"`
		Change     string `json:"prdy_vrss"`
		ChangeSign string `json:"prdy_vrss_sign"`
		AccVolume  string `json:"acml_vol"`
	} `json:"output"`
}

// InquirePrice fetches the current price snapshot for one ticker.
func (c *Client) InquirePrice(ctx context.Context, instrumentID string) (Quote, error) {
	token, err := c.AccessToken(ctx)
	if err != nil {
		return Quote{}, err
	}

	url := fmt.Sprintf("%s/uapi/domestic-stock/v1/quotations/inquire-price?FID_COND_MRKT_DIV_CODE=J&FID_INPUT_ISCD=%s",
		c.restURL, instrumentID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Quote{}, err
	}
	req.Header.Set("content-type", "application/json; charset=utf-8")
	req.Header.Set("authorization", "Bearer "+token)
	req.Header.Set("appkey", c.appKey)
	req.Header.Set("appsecret", c.appSecret)
	req.Header.Set("tr_id", trInquirePrice)
	req.Header.Set("custtype", "P")

	var resp quoteResponse
	if err := c.doJSON(req, &resp); err != nil {
		return Quote{}, fmt.Errorf("failed to inquire price for %s: %w", instrumentID, err)
	}
	if resp.RtCd != "0" {
		return Quote{}, fmt.Errorf("KIS rejected inquire-price for %s: %s %s",
			instrumentID, resp.MsgCd, resp.Msg1)
	}

	price, err := quant.ParsePrice(resp.Output.Price)
	if err != nil {
		return Quote{}, fmt.Errorf("bad price for %s: %w", instrumentID, err)
	}
	change, err := quant.ParsePrice(resp.Output.Change)
	if err != nil {
		return Quote{}, fmt.Errorf("bad change for %s: %w", instrumentID, err)
	}
	// Some gateways return prdy_vrss pre-signed, others rely on the sign code.
	if change.IsPositive() {
		change = quant.ApplySign(change, resp.Output.ChangeSign)
	}
	accVol, err := quant.ParseVolume(resp.Output.AccVolume)
	if err != nil {
		return Quote{}, fmt.Errorf("bad volume for %s: %w", instrumentID, err)
	}

	return Quote{
		InstrumentID: instrumentID,
		LastPrice:    price,
		Change:       change,
		AccVolume:    accVol,
	}, nil
}

func (c *Client) postJSON(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.restURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("content-type", "application/json; charset=utf-8")
	return c.doJSON(req, out)
}

func (c *Client) doJSON(req *http.Request, out any) error {
	infra.GetKISRestLimiter().Wait()

	return c.breaker.Do(func() error {
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, truncateBody(data))
		}
		return json.Unmarshal(data, out)
	})
}

func truncateBody(b []byte) string {
	const max = 200
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}
