package ingest

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	HeaderTimestamp = "X-Watchtower-Timestamp"
	HeaderSignature = "X-Watchtower-Signature"

	// MaxSkew 签名时间戳允许的最大偏差
	MaxSkew = 5 * time.Minute
)

var (
	ErrSignature = errors.New("invalid signature")
	ErrSkew      = errors.New("timestamp outside allowed skew")
)

// Sign 计算 hex(HMAC-SHA256(timestamp + body))
func Sign(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify 校验签名，签名可带 "sha256=" 前缀
func Verify(secret, timestamp string, body []byte, signature string) error {
	if secret == "" {
		return fmt.Errorf("%w: monitor has no secret", ErrSignature)
	}
	sig := strings.TrimPrefix(strings.TrimSpace(signature), "sha256=")
	got, err := hex.DecodeString(sig)
	if err != nil || len(got) != sha256.Size {
		return fmt.Errorf("%w: malformed signature", ErrSignature)
	}
	want, _ := hex.DecodeString(Sign(secret, timestamp, body))
	if !hmac.Equal(got, want) {
		return ErrSignature
	}
	return nil
}

// CheckSkew 解析 unix 秒时间戳，并检查与 now 的偏差（双向）
// maxSkew 为 0 或超过 MaxSkew 时按 MaxSkew 处理
func CheckSkew(timestamp string, now time.Time, maxSkew time.Duration) (time.Time, error) {
	if maxSkew <= 0 || maxSkew > MaxSkew {
		maxSkew = MaxSkew
	}
	sec, err := strconv.ParseInt(strings.TrimSpace(timestamp), 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: malformed timestamp %q", ErrSkew, timestamp)
	}
	ts := time.Unix(sec, 0)
	d := now.Sub(ts)
	if d < 0 {
		d = -d
	}
	if d > maxSkew {
		return time.Time{}, fmt.Errorf("%w: %s", ErrSkew, d.Truncate(time.Second))
	}
	return ts, nil
}
