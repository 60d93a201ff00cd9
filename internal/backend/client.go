// Package backend はホスト型バックエンド（認証・テーブル・ストレージAPI）への
// HTTPクライアントを提供する。
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// maxErrorBody はエラーレスポンスとして読み取る最大バイト数。
const maxErrorBody = 64 << 10

// Recorder はバックエンド呼び出しのメトリクス記録インターフェース。
type Recorder interface {
	RecordBackendRequest(op string, statusCode int, duration time.Duration)
}

// Config はバックエンドクライアントの設定。
type Config struct {
	BaseURL    string // 例: https://abcdefgh.supabase.co
	AnonKey    string // 公開APIキー（apikeyヘッダーに常に付与する）
	HTTPClient *http.Client
	Recorder   Recorder
	Logger     *slog.Logger
}

// Client はバックエンドREST APIのクライアント。
type Client struct {
	baseURL    string
	anonKey    string
	httpClient *http.Client
	recorder   Recorder
	logger     *slog.Logger
}

// NewClient はClientを生成する。
func NewClient(cfg Config) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		anonKey:    cfg.AnonKey,
		httpClient: httpClient,
		recorder:   cfg.Recorder,
		logger:     logger,
	}
}

// BaseURL はバックエンドのベースURLを返す。
func (c *Client) BaseURL() string {
	return c.baseURL
}

// AnonKey は公開APIキーを返す。
func (c *Client) AnonKey() string {
	return c.anonKey
}

// Request は1回のバックエンド呼び出しを表す。
type Request struct {
	Op     string // メトリクス・ログ用の操作名（例: projects.list）
	Method string
	Path   string // 例: /rest/v1/projects
	Query  url.Values

	// Token は書き込み用のアクセストークン。空の場合は匿名キーをBearerに使う。
	Token string
	// Prefer はPostgRESTのPreferヘッダー。
	Prefer string

	// Body はJSONとして送信する本文。RawBodyが指定された場合は無視する。
	Body any
	// RawBody はバイナリ本文（ストレージアップロード用）。
	RawBody     io.Reader
	ContentType string
}

// Do はリクエストを送信し、2xxの場合はレスポンスJSONをoutにデコードする。
// 2xx以外の場合は*Errorを返す。outがnilの場合は本文を読み捨てる。
func (c *Client) Do(ctx context.Context, req Request, out any) error {
	start := time.Now()
	status := 0
	defer func() {
		if c.recorder != nil {
			c.recorder.RecordBackendRequest(req.Op, status, time.Since(start))
		}
	}()

	httpReq, err := c.newHTTPRequest(ctx, req)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.logger.Warn("バックエンドへのリクエストに失敗しました",
			slog.String("op", req.Op),
			slog.String("path", req.Path),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("%s: %w", req.Op, err)
	}
	defer resp.Body.Close()
	status = resp.StatusCode

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := decodeError(resp)
		c.logger.Debug("バックエンドがエラーステータスを返しました",
			slog.String("op", req.Op),
			slog.Int("http_status", resp.StatusCode),
			slog.String("code", apiErr.Code),
		)
		return apiErr
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s: failed to read response body: %w", req.Op, err)
	}
	if out == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%s: failed to decode response: %w", req.Op, err)
	}
	return nil
}

// ObjectPublicURL はストレージの公開オブジェクトURLを返す。
func (c *Client) ObjectPublicURL(bucket, objectPath string) string {
	return c.baseURL + "/storage/v1/object/public/" + bucket + "/" + strings.TrimLeft(objectPath, "/")
}

func (c *Client) newHTTPRequest(ctx context.Context, req Request) (*http.Request, error) {
	u := c.baseURL + req.Path
	if len(req.Query) > 0 {
		u += "?" + req.Query.Encode()
	}

	var body io.Reader
	contentType := req.ContentType
	switch {
	case req.RawBody != nil:
		body = req.RawBody
	case req.Body != nil:
		data, err := json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("%s: failed to encode request body: %w", req.Op, err)
		}
		body = bytes.NewReader(data)
		if contentType == "" {
			contentType = "application/json"
		}
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, u, body)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to create request: %w", req.Op, err)
	}

	bearer := req.Token
	if bearer == "" {
		bearer = c.anonKey
	}
	httpReq.Header.Set("apikey", c.anonKey)
	httpReq.Header.Set("Authorization", "Bearer "+bearer)
	httpReq.Header.Set("Accept", "application/json")
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	if req.Prefer != "" {
		httpReq.Header.Set("Prefer", req.Prefer)
	}
	return httpReq, nil
}

// Error はバックエンドが返した2xx以外のレスポンスを表す。
type Error struct {
	StatusCode int
	Code       string // PostgRESTのSQLSTATE（例: 23505）やGoTrueのエラーコード
	Message    string
	Details    string
	Hint       string
}

// Error はerrorインターフェースを実装する。
func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("backend status %d (%s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("backend status %d: %s", e.StatusCode, e.Message)
}

// errorBody はPostgREST・GoTrue・Storageのエラー本文を受け取るための和集合。
type errorBody struct {
	Code             any    `json:"code"`
	Message          string `json:"message"`
	Details          string `json:"details"`
	Hint             string `json:"hint"`
	Error            string `json:"error"`
	ErrorCode        string `json:"error_code"`
	ErrorDescription string `json:"error_description"`
	Msg              string `json:"msg"`
}

func decodeError(resp *http.Response) *Error {
	e := &Error{StatusCode: resp.StatusCode}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil || len(data) == 0 {
		e.Message = http.StatusText(resp.StatusCode)
		return e
	}

	var b errorBody
	if err := json.Unmarshal(data, &b); err != nil {
		e.Message = strings.TrimSpace(string(data))
		return e
	}

	switch code := b.Code.(type) {
	case string:
		e.Code = code
	case float64:
		e.Code = fmt.Sprintf("%d", int(code))
	}
	if b.ErrorCode != "" {
		e.Code = b.ErrorCode
	}
	e.Details = b.Details
	e.Hint = b.Hint

	for _, m := range []string{b.Message, b.ErrorDescription, b.Msg, b.Error} {
		if m != "" {
			e.Message = m
			break
		}
	}
	if e.Message == "" {
		e.Message = http.StatusText(resp.StatusCode)
	}
	return e
}

// uniqueViolation はPostgreSQLの一意制約違反のSQLSTATE。
const uniqueViolation = "23505"

// IsConflict はerrが重複キー衝突（HTTP 409 または SQLSTATE 23505）かを返す。
func IsConflict(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.StatusCode == http.StatusConflict || e.Code == uniqueViolation
}

// IsNotFound はerrが「行が存在しない」ことを示すレスポンス（406/404）かを返す。
// PostgRESTは単一行指定で0件の場合に406を返す。
func IsNotFound(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.StatusCode == http.StatusNotAcceptable || e.StatusCode == http.StatusNotFound
}

// IsUnauthorized はerrが認証・認可エラー（401/403）かを返す。
func IsUnauthorized(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}

// Eq はPostgRESTの等価フィルタ値を返す。
func Eq(v string) string {
	return "eq." + v
}
