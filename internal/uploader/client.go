package uploader

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
	"github.com/rs/zerolog/log"

	"vigil-sdk/internal/config"
	"vigil-sdk/internal/metrics"
	"vigil-sdk/internal/pool"
)

// ---------------------------------------------------------------
// intake HTTP client
//
// 수집 서버로 batch 를 전송하는 계층. 전송 단위는 "닫힌 배치 1개" 로
// 고정이고, 재시도 여부는 여기서 결정하지 않는다. 이 클라이언트는
// 1회 전송 결과를 Outcome 으로 분류해서 돌려줄 뿐이고, 언제 다시
// 시도할지는 scheduler 가 적응형 지연으로 결정한다.
//
// body 는 NDJSON 을 gzip 으로 압축한 것. 인코딩 버퍼와 gzip.Writer 는
// pool 에서 재사용한다.
// ---------------------------------------------------------------

// Status
// 1회 업로드 시도의 분류 결과.
type Status int

const (
	// StatusSuccess: 서버가 배치를 수락함(2xx). 배치 삭제 가능.
	StatusSuccess Status = iota

	// StatusRetryable: 일시 장애(408/429/5xx, 네트워크 오류).
	// 배치를 보존하고 나중에 같은 배치를 다시 보낸다.
	StatusRetryable

	// StatusNonRetryable: 서버가 배치 자체를 거부함(그 외 4xx).
	// 다시 보내도 결과가 같으므로 배치를 폐기한다.
	StatusNonRetryable
)

// Outcome
// 1회 업로드 시도의 결과 요약.
type Outcome struct {
	Status Status

	// Code: HTTP 상태 코드. 네트워크 오류면 0.
	Code int

	// RetryAfter: 429 응답의 Retry-After 파싱 결과. 없으면 0.
	RetryAfter time.Duration

	// Err: 네트워크/인코딩 오류. HTTP 응답을 받았으면 nil.
	Err error
}

type Client struct {
	httpc   *http.Client
	baseURL string
	token   string
	timeout time.Duration
	m       *metrics.Metrics
}

func NewClient(cfg config.Config, m *metrics.Metrics) *Client {
	return &Client{
		// 시도별 데드라인은 ctx 로 관리하므로 http.Client 자체에는
		// timeout 을 걸지 않는다.
		httpc:   &http.Client{},
		baseURL: strings.TrimRight(cfg.IntakeBaseURL, "/"),
		token:   cfg.ClientToken,
		timeout: cfg.UploadTimeout,
		m:       m,
	}
}

// UploadBatch
// records(직렬화된 envelope 들)를 NDJSON+gzip 으로 묶어 feature 별
// intake 엔드포인트에 POST 한다. 전송 1회에 해당하며 내부 재시도 없음.
func (c *Client) UploadBatch(ctx context.Context, feature string, records [][]byte) Outcome {
	atomic.AddInt64(&c.m.UploadAttemptsTotal, 1)

	body, err := encodeBody(records)
	if err != nil {
		// gzip 인코딩 실패는 재시도해도 동일하게 실패한다.
		atomic.AddInt64(&c.m.UploadErrorsTotal, 1)
		return Outcome{Status: StatusNonRetryable, Err: err}
	}

	attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	url := fmt.Sprintf("%s/api/v2/%s", c.baseURL, feature)
	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		atomic.AddInt64(&c.m.UploadErrorsTotal, 1)
		return Outcome{Status: StatusNonRetryable, Err: err}
	}

	req.Header.Set("Content-Type", "application/x-ndjson")
	req.Header.Set("Content-Encoding", "gzip")
	req.Header.Set("X-Client-Token", c.token)
	req.Header.Set("X-SDK-Version", config.SDKVersion)
	req.Header.Set("X-Event-Count", strconv.Itoa(len(records)))
	req.Header.Set("X-Request-ID", uuid.NewString())

	resp, err := c.httpc.Do(req)
	if err != nil {
		// 네트워크 단절, DNS 실패, 타임아웃 등. 전부 재시도 대상.
		atomic.AddInt64(&c.m.UploadErrorsTotal, 1)
		log.Debug().
			Str("feature", feature).
			Err(err).
			Msg("upload attempt failed")
		return Outcome{Status: StatusRetryable, Err: err}
	}
	defer func() {
		// keep-alive 재사용을 위해 body 를 비우고 닫는다.
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	out := classify(resp)
	if out.Status != StatusSuccess {
		atomic.AddInt64(&c.m.UploadErrorsTotal, 1)
	}
	return out
}

// classify
// HTTP 상태 코드를 Outcome 으로 분류한다.
//   - 2xx            : 수락
//   - 408, 429, 5xx  : 일시 장애 (429 는 Retry-After 반영)
//   - 그 외 4xx       : 영구 거부
func classify(resp *http.Response) Outcome {
	code := resp.StatusCode

	switch {
	case code >= 200 && code < 300:
		return Outcome{Status: StatusSuccess, Code: code}

	case code == http.StatusTooManyRequests:
		return Outcome{
			Status:     StatusRetryable,
			Code:       code,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}

	case code == http.StatusRequestTimeout || code >= 500:
		return Outcome{Status: StatusRetryable, Code: code}

	default:
		return Outcome{Status: StatusNonRetryable, Code: code}
	}
}

// parseRetryAfter
// Retry-After 의 초 단위 형식만 지원한다. HTTP-date 형식이나
// 파싱 불가 값은 0 으로 취급해 적응형 지연값을 그대로 쓴다.
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	sec, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || sec < 0 {
		return 0
	}
	return time.Duration(sec) * time.Second
}

// encodeBody
// records 를 개행으로 이어붙인 뒤 gzip 으로 압축한 body 를 만든다.
// pool 버퍼에 인코딩한 뒤 호출자 소유의 slice 로 복사해서 돌려준다.
func encodeBody(records [][]byte) ([]byte, error) {
	buf := pool.BufferPool.Get().(*bytes.Buffer)
	defer pool.PutBuffer(buf)
	buf.Reset()

	gz := pool.GzipPool.Get().(*gzip.Writer)
	gz.Reset(buf)
	defer pool.GzipPool.Put(gz)

	for _, rec := range records {
		if _, err := gz.Write(rec); err != nil {
			return nil, err
		}
		if _, err := gz.Write([]byte{'\n'}); err != nil {
			return nil, err
		}
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}

	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out, nil
}
