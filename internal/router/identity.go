package router

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gin-gonic/gin"

	"github.com/blues/tgs/internal/handler"
)

const (
	HeaderCaller    = "X-Caller-Identity"
	HeaderSignature = "X-Signature"
	HeaderTimestamp = "X-Timestamp"
)

// SigningMessage 请求签名的原文，包含请求体的 keccak256
func SigningMessage(method, path, timestamp string, body []byte) string {
	return method + " " + path + " " + timestamp + " " + crypto.Keccak256Hash(body).Hex()
}

// callerIdentity 解析调用方身份
// 只读请求允许匿名；开启签名校验时签名必须恢复出调用方地址
func callerIdentity(requireSignature bool, maxSkew time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity := strings.TrimSpace(c.GetHeader(HeaderCaller))
		if identity == "" {
			if c.Request.Method == http.MethodGet {
				c.Next()
				return
			}
			handler.ErrorResponse(c, http.StatusUnauthorized, "缺少 "+HeaderCaller)
			c.Abort()
			return
		}

		if requireSignature {
			if err := verifySignature(c, identity, maxSkew); err != nil {
				handler.ErrorResponse(c, http.StatusUnauthorized, err.Error())
				c.Abort()
				return
			}
		}

		c.Set(handler.CallerKey, identity)
		c.Next()
	}
}

func verifySignature(c *gin.Context, identity string, maxSkew time.Duration) error {
	if !common.IsHexAddress(identity) {
		return fmt.Errorf("调用方 %q 不是有效地址", identity)
	}
	ts := c.GetHeader(HeaderTimestamp)
	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return fmt.Errorf("无效的 %s", HeaderTimestamp)
	}
	skew := time.Since(time.Unix(unix, 0))
	if skew < 0 {
		skew = -skew
	}
	if skew > maxSkew {
		return fmt.Errorf("请求时间超出允许范围")
	}

	sig, err := hexutil.Decode(c.GetHeader(HeaderSignature))
	if err != nil || len(sig) != crypto.SignatureLength {
		return fmt.Errorf("无效的 %s", HeaderSignature)
	}
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}

	var body []byte
	if c.Request.Body != nil {
		body, err = io.ReadAll(c.Request.Body)
		if err != nil {
			return fmt.Errorf("读取请求体失败")
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))
	}

	hash := accounts.TextHash([]byte(SigningMessage(c.Request.Method, c.Request.URL.Path, ts, body)))
	pub, err := crypto.SigToPub(hash, sig)
	if err != nil {
		return fmt.Errorf("签名无法恢复公钥")
	}
	if crypto.PubkeyToAddress(*pub) != common.HexToAddress(identity) {
		return fmt.Errorf("签名与调用方不匹配")
	}
	return nil
}
