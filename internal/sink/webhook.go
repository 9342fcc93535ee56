package sink

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Webhook 以签名 JSON POST 推送批次
// 签名串: METHOD\npath\ntimestamp\nnonce\nsha256(body)，HMAC-SHA256 hex 放在 X-Signature
type Webhook struct {
	Client   *http.Client
	Endpoint string
	APIKey   string
	Secret   string
	Retries  int
	Backoff  []time.Duration

	now func() time.Time
}

// NewWebhook 默认 5s 超时、3 次重试
func NewWebhook(client *http.Client, endpoint, apiKey, secret string) *Webhook {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &Webhook{
		Client:   client,
		Endpoint: endpoint,
		APIKey:   apiKey,
		Secret:   secret,
		Retries:  3,
		Backoff:  []time.Duration{100 * time.Millisecond, 500 * time.Millisecond, time.Second},
		now:      time.Now,
	}
}

// StatusError 推送端返回非 2xx
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string { return fmt.Sprintf("webhook: http %d: %s", e.Code, e.Body) }

// Publish 仅对网络错误与 5xx 重试，4xx 直接失败
func (w *Webhook) Publish(ctx context.Context, b *Batch) error {
	u, err := url.Parse(w.Endpoint)
	if err != nil {
		return fmt.Errorf("webhook: endpoint: %w", err)
	}
	body, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("webhook: marshal: %w", err)
	}
	ts := w.now().Unix()
	nonce := newNonce()
	sig := Sign(w.Secret, canonical(http.MethodPost, u.Path, ts, nonce, body))

	var lastErr error
	for attempt := 0; attempt <= w.Retries; attempt++ {
		if attempt > 0 {
			backoff := w.Backoff[min(attempt-1, len(w.Backoff)-1)]
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.Endpoint, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Api-Key", w.APIKey)
		req.Header.Set("X-Signature", sig)
		req.Header.Set("X-Timestamp", strconv.FormatInt(ts, 10))
		req.Header.Set("X-Nonce", nonce)
		req.Header.Set("X-Batch-Id", b.ID)

		resp, err := w.Client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		rb, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		_ = resp.Body.Close()
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}
		lastErr = &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(rb))}
		if resp.StatusCode < 500 {
			return lastErr
		}
	}
	return lastErr
}

// Sign HMAC-SHA256(secret, canonical) 的 hex 小写
func Sign(secret, canonical string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(canonical))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature 接收方校验，供对端与测试使用
func VerifySignature(secret string, r *http.Request, body []byte) bool {
	ts, err := strconv.ParseInt(r.Header.Get("X-Timestamp"), 10, 64)
	if err != nil {
		return false
	}
	want := Sign(secret, canonical(r.Method, r.URL.Path, ts, r.Header.Get("X-Nonce"), body))
	return hmac.Equal([]byte(want), []byte(r.Header.Get("X-Signature")))
}

func canonical(method, path string, ts int64, nonce string, body []byte) string {
	h := sha256.Sum256(body)
	return fmt.Sprintf("%s\n%s\n%d\n%s\n%s", strings.ToUpper(method), path, ts, nonce, hex.EncodeToString(h[:]))
}

func newNonce() string {
	var b [8]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}
