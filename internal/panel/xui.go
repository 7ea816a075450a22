package panel

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"realityshop/internal/pkg/httpclient"
)

type xuiClient struct {
	baseURL   string
	username  string
	password  string
	apiBase   string
	panelType string
	client    *httpclient.Client
}

// NewXUIClient talks to a 3x-ui panel.
func NewXUIClient(baseURL, username, password string, timeout time.Duration) PanelClient {
	return newXUIClient(baseURL, username, password, "/panel/api/inbounds", "3x-ui", timeout)
}

// NewAlirezaSingleClient talks to the alireza fork, which serves the same API under /xui/API.
func NewAlirezaSingleClient(baseURL, username, password string, timeout time.Duration) PanelClient {
	return newXUIClient(baseURL, username, password, "/xui/API/inbounds", "alireza_single", timeout)
}

func newXUIClient(baseURL, username, password, apiBase, panelType string, timeout time.Duration) PanelClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &xuiClient{
		baseURL:   strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		username:  strings.TrimSpace(username),
		password:  password,
		apiBase:   apiBase,
		panelType: panelType,
		// addClient is not idempotent, so transport retries stay off.
		client: httpclient.New().
			WithTimeout(timeout).
			WithRetries(0).
			WithInsecureSkipVerify().
			WithHeader("Accept", "application/json"),
	}
}

func (x *xuiClient) PanelType() string {
	return x.panelType
}

type xuiResponse struct {
	Success bool            `json:"success"`
	Msg     string          `json:"msg"`
	Obj     json.RawMessage `json:"obj"`
}

func (x *xuiClient) Authenticate(ctx context.Context) error {
	resp, err := x.client.Request().
		SetContext(ctx).
		SetHeader("Content-Type", "application/x-www-form-urlencoded").
		SetFormData(map[string]string{
			"username": x.username,
			"password": x.password,
		}).
		Post(x.baseURL + "/login")
	if err != nil {
		return fmt.Errorf("xui auth failed: %w", err)
	}
	var out xuiResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return fmt.Errorf("xui auth parse failed (status %d): %w", resp.StatusCode(), err)
	}
	if !out.Success {
		return fmt.Errorf("%w: login: %s", ErrRejected, out.Msg)
	}
	return nil
}

func (x *xuiClient) GetInbound(ctx context.Context, inboundID int) (*Inbound, error) {
	resp, err := x.client.Request().
		SetContext(ctx).
		Get(x.baseURL + x.apiBase + "/get/" + strconv.Itoa(inboundID))
	if err != nil {
		return nil, fmt.Errorf("xui get inbound failed: %w", err)
	}
	out, err := decodeResponse(resp, "get inbound")
	if err != nil {
		return nil, err
	}

	var raw struct {
		ID             int    `json:"id"`
		Port           int    `json:"port"`
		Remark         string `json:"remark"`
		Settings       string `json:"settings"`
		StreamSettings string `json:"streamSettings"`
	}
	if err := json.Unmarshal(out.Obj, &raw); err != nil {
		return nil, fmt.Errorf("xui inbound parse failed: %w", err)
	}

	inbound := &Inbound{ID: raw.ID, Port: raw.Port, Remark: raw.Remark}

	var settings map[string]interface{}
	if raw.Settings != "" {
		if err := json.Unmarshal([]byte(raw.Settings), &settings); err != nil {
			return nil, fmt.Errorf("xui inbound settings parse failed: %w", err)
		}
	}
	items, _ := settings["clients"].([]interface{})
	for _, item := range items {
		if m, ok := item.(map[string]interface{}); ok {
			inbound.Clients = append(inbound.Clients, clientFromMap(m))
		}
	}

	if raw.StreamSettings != "" {
		var stream struct {
			RealitySettings struct {
				ServerNames []string `json:"serverNames"`
				ShortIDs    []string `json:"shortIds"`
				Settings    struct {
					PublicKey string `json:"publicKey"`
				} `json:"settings"`
			} `json:"realitySettings"`
		}
		if err := json.Unmarshal([]byte(raw.StreamSettings), &stream); err != nil {
			return nil, fmt.Errorf("xui stream settings parse failed: %w", err)
		}
		inbound.Reality = Reality{
			PublicKey:   stream.RealitySettings.Settings.PublicKey,
			ServerNames: stream.RealitySettings.ServerNames,
			ShortIDs:    stream.RealitySettings.ShortIDs,
		}
	}

	return inbound, nil
}

func (x *xuiClient) AddClient(ctx context.Context, inboundID int, c Client) error {
	return x.postClient(ctx, "/addClient", "add client", inboundID, c)
}

func (x *xuiClient) UpdateClient(ctx context.Context, inboundID int, c Client) error {
	return x.postClient(ctx, "/updateClient/"+c.ID, "update client", inboundID, c)
}

func (x *xuiClient) postClient(ctx context.Context, path, op string, inboundID int, c Client) error {
	settingsJSON, err := json.Marshal(map[string]interface{}{"clients": []Client{c}})
	if err != nil {
		return fmt.Errorf("xui %s encode failed: %w", op, err)
	}
	payload := map[string]interface{}{
		"id":       inboundID,
		"settings": string(settingsJSON),
	}

	resp, err := x.client.Request().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(payload).
		Post(x.baseURL + x.apiBase + path)
	if err != nil {
		return fmt.Errorf("xui %s failed: %w", op, err)
	}
	_, err = decodeResponse(resp, op)
	return err
}

// decodeResponse maps panel answers onto the package errors. An unauthenticated
// call comes back as 401/404 or as the HTML login page after a redirect.
func decodeResponse(resp *resty.Response, op string) (*xuiResponse, error) {
	switch resp.StatusCode() {
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
		return nil, fmt.Errorf("xui %s: %w (status %d)", op, ErrSessionExpired, resp.StatusCode())
	}
	if resp.StatusCode() >= 500 {
		return nil, fmt.Errorf("xui %s: panel error status %d", op, resp.StatusCode())
	}
	var out xuiResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return nil, fmt.Errorf("xui %s: %w (non-json answer)", op, ErrSessionExpired)
	}
	if !out.Success {
		return nil, fmt.Errorf("%w: %s: %s", ErrRejected, op, out.Msg)
	}
	return &out, nil
}

func clientFromMap(m map[string]interface{}) Client {
	return Client{
		ID:         strings.TrimSpace(fmt.Sprintf("%v", valueOr(m["id"], ""))),
		Flow:       strings.TrimSpace(fmt.Sprintf("%v", valueOr(m["flow"], ""))),
		Email:      strings.TrimSpace(fmt.Sprintf("%v", valueOr(m["email"], ""))),
		LimitIP:    int(toInt64(m["limitIp"])),
		TotalGB:    toInt64(m["totalGB"]),
		ExpiryTime: toInt64(m["expiryTime"]),
		Enable:     boolFromAny(m["enable"], true),
		TgID:       toInt64(m["tgId"]),
		SubID:      strings.TrimSpace(fmt.Sprintf("%v", valueOr(m["subId"], ""))),
		Reset:      int(toInt64(m["reset"])),
	}
}

func valueOr(v interface{}, fallback interface{}) interface{} {
	if v == nil {
		return fallback
	}
	return v
}

func toInt64(v interface{}) int64 {
	switch t := v.(type) {
	case float64:
		return int64(t)
	case int:
		return int64(t)
	case int64:
		return t
	case json.Number:
		n, _ := t.Int64()
		return n
	case string:
		n, _ := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
		return n
	default:
		return 0
	}
}

func boolFromAny(v interface{}, defaultVal bool) bool {
	switch t := v.(type) {
	case bool:
		return t
	case float64:
		return t != 0
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "1", "true", "yes", "on":
			return true
		case "0", "false", "no", "off":
			return false
		}
	}
	return defaultVal
}
