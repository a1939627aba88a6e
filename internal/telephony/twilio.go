package telephony

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/loqalabs/loqa-callbot/internal/config"
)

const maxAPIResponse = 1 << 20

// StatusPath receives call status callbacks.
const StatusPath = "/twilio/status"

// ErrNotConfigured is returned by REST operations when no account
// credentials are configured.
var ErrNotConfigured = errors.New("twilio: account credentials not configured")

// Client talks to the Twilio REST API and renders the TwiML that points calls
// at the media stream endpoint. It is safe for concurrent use.
type Client struct {
	accountSID  string
	authToken   string
	baseURL     string
	from        string
	publicURL   string
	streamPath  string
	voicePath   string
	countryCode string
	http        *http.Client
}

// CallResult is the provider's view of a newly placed call.
type CallResult struct {
	SID    string `json:"sid"`
	Status string `json:"status"`
	To     string `json:"to"`
}

func NewClient(cfg config.TelephonyConfig) *Client {
	base := strings.TrimRight(cfg.APIBaseURL, "/")
	return &Client{
		accountSID:  cfg.AccountSID,
		authToken:   cfg.AuthToken,
		baseURL:     fmt.Sprintf("%s/Accounts/%s", base, cfg.AccountSID),
		from:        cfg.FromNumber,
		publicURL:   cfg.PublicURL,
		streamPath:  cfg.StreamPath,
		voicePath:   cfg.VoicePath,
		countryCode: cfg.CountryCode,
		http:        &http.Client{Timeout: 30 * time.Second},
	}
}

// Configured reports whether REST operations can be attempted.
func (c *Client) Configured() bool {
	return c != nil && c.accountSID != "" && c.authToken != ""
}

// AuthToken returns the webhook signing secret.
func (c *Client) AuthToken() string { return c.authToken }

// InitiateCall places an outbound call that fetches its TwiML from the voice
// webhook, which in turn connects the answered call to the media stream.
func (c *Client) InitiateCall(ctx context.Context, to string) (CallResult, error) {
	if !c.Configured() {
		return CallResult{}, ErrNotConfigured
	}
	if c.from == "" {
		return CallResult{}, errors.New("twilio: from number is required")
	}
	voiceURL := c.VoiceURL()
	if voiceURL == "" {
		return CallResult{}, errors.New("twilio: public URL is required")
	}
	params := url.Values{
		"To":   {E164(to, c.countryCode)},
		"From": {c.from},
		"Url":  {voiceURL},
	}
	if status := c.StatusURL(); status != "" {
		params["StatusCallback"] = []string{status}
		params["StatusCallbackEvent"] = []string{"initiated", "ringing", "answered", "completed"}
	}
	body, err := c.apiRequest(ctx, "/Calls.json", params)
	if err != nil {
		return CallResult{}, fmt.Errorf("twilio: initiate call: %w", err)
	}
	var result CallResult
	if err := json.Unmarshal(body, &result); err != nil {
		return CallResult{}, fmt.Errorf("twilio: parse call response: %w", err)
	}
	return result, nil
}

// Redirect replaces the live call's TwiML, ending its media stream.
func (c *Client) Redirect(ctx context.Context, callSID, twiml string) error {
	if !c.Configured() {
		return ErrNotConfigured
	}
	if callSID == "" {
		return errors.New("twilio: call SID is required")
	}
	params := url.Values{"Twiml": {twiml}}
	if _, err := c.apiRequest(ctx, fmt.Sprintf("/Calls/%s.json", url.PathEscape(callSID)), params); err != nil {
		return fmt.Errorf("twilio: update call: %w", err)
	}
	return nil
}

// DialAgent transfers the live call to a human agent number.
func (c *Client) DialAgent(ctx context.Context, callSID, agentNumber, announcement string) error {
	return c.Redirect(ctx, callSID, DialTwiML(E164(agentNumber, c.countryCode), announcement))
}

// StreamURL is the WebSocket address Twilio connects media streams to.
func (c *Client) StreamURL() string {
	if c.publicURL == "" || c.streamPath == "" {
		return ""
	}
	u, err := url.Parse(c.publicURL)
	if err != nil || u.Host == "" {
		return ""
	}
	scheme := "wss"
	if u.Scheme == "http" {
		scheme = "ws"
	}
	return fmt.Sprintf("%s://%s%s", scheme, u.Host, c.streamPath)
}

// VoiceURL is the public address of the TwiML webhook.
func (c *Client) VoiceURL() string {
	if c.publicURL == "" || c.voicePath == "" {
		return ""
	}
	return strings.TrimRight(c.publicURL, "/") + c.voicePath
}

// StatusURL is the public address of the call status webhook.
func (c *Client) StatusURL() string {
	if c.publicURL == "" {
		return ""
	}
	return strings.TrimRight(c.publicURL, "/") + StatusPath
}

func (c *Client) apiRequest(ctx context.Context, endpoint string, params url.Values) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewBufferString(params.Encode()))
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(c.accountSID, c.authToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxAPIResponse+1))
	if err != nil {
		return nil, err
	}
	if len(body) > maxAPIResponse {
		return nil, fmt.Errorf("API response too large (%d bytes)", len(body))
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, string(body))
	}
	return body, nil
}

// ConnectStreamTwiML answers a call by connecting it to the media stream.
// Params are forwarded to the stream as custom parameters.
func ConnectStreamTwiML(streamURL string, params map[string]string) string {
	if streamURL == "" {
		return `<?xml version="1.0" encoding="UTF-8"?>
<Response>
  <Say>Service unavailable.</Say>
  <Hangup/>
</Response>`
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>
<Response>
  <Connect>
    <Stream url="`)
	b.WriteString(escapeXML(streamURL))
	b.WriteString(`">`)
	for _, k := range keys {
		fmt.Fprintf(&b, "\n      <Parameter name=\"%s\" value=\"%s\" />", escapeXML(k), escapeXML(params[k]))
	}
	b.WriteString(`
    </Stream>
  </Connect>
</Response>`)
	return b.String()
}

// DialTwiML bridges the call to number, optionally announcing the transfer.
func DialTwiML(number, announcement string) string {
	var say string
	if announcement != "" {
		say = fmt.Sprintf("\n  <Say>%s</Say>", escapeXML(announcement))
	}
	return fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<Response>%s
  <Dial>%s</Dial>
</Response>`, say, escapeXML(number))
}

// EmptyTwiML acknowledges a webhook without further instructions.
const EmptyTwiML = `<?xml version="1.0" encoding="UTF-8"?><Response></Response>`

// VerifySignature checks an X-Twilio-Signature header against Sign.
func VerifySignature(authToken, signature, fullURL string, params url.Values) bool {
	if authToken == "" || signature == "" {
		return false
	}
	expected := Sign(authToken, fullURL, params)
	return hmac.Equal([]byte(signature), []byte(expected))
}

// Sign computes the webhook signature: base64 HMAC-SHA1 over the full request
// URL followed by each sorted form key and its values.
func Sign(authToken, fullURL string, params url.Values) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(fullURL)
	for _, k := range keys {
		for _, v := range params[k] {
			b.WriteString(k)
			b.WriteString(v)
		}
	}
	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(b.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func escapeXML(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	s = strings.ReplaceAll(s, "'", "&apos;")
	s = strings.ReplaceAll(s, "\"", "&quot;")
	return s
}
