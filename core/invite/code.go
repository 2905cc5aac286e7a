package invite

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
)

const (
	// CodeLength 邀请码固定长度
	CodeLength = 8

	// Alphabet 去掉易混淆字符（0 O 1 I L）的字母数字表
	Alphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

	// DefaultMaxAttempts 唯一性冲突时的最大重试次数
	DefaultMaxAttempts = 5
)

// ErrCodeTaken 由 claim 回调返回，表示邀请码已被其他歌单占用
var ErrCodeTaken = errors.New("invite code already taken")

// ErrExhausted 重试次数用尽仍未拿到可用邀请码
var ErrExhausted = errors.New("unable to issue a unique invite code")

// Issuer 邀请码生成器
type Issuer struct {
	maxAttempts int
	alphabetLen *big.Int
}

// NewIssuer 创建邀请码生成器
func NewIssuer(maxAttempts int) *Issuer {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Issuer{
		maxAttempts: maxAttempts,
		alphabetLen: big.NewInt(int64(len(Alphabet))),
	}
}

// Issue 随机生成一个邀请码（不做唯一性检查）
func (i *Issuer) Issue() (string, error) {
	var b strings.Builder
	b.Grow(CodeLength)
	for n := 0; n < CodeLength; n++ {
		idx, err := rand.Int(rand.Reader, i.alphabetLen)
		if err != nil {
			return "", fmt.Errorf("failed to draw invite code: %w", err)
		}
		b.WriteByte(Alphabet[idx.Int64()])
	}
	return b.String(), nil
}

// IssueUnique 生成邀请码并交给 claim 落库
// claim 返回 ErrCodeTaken 时换一个新码重试，其它错误原样返回
func (i *Issuer) IssueUnique(ctx context.Context, claim func(code string) error) (string, error) {
	for attempt := 0; attempt < i.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		code, err := i.Issue()
		if err != nil {
			return "", err
		}
		err = claim(code)
		if err == nil {
			return code, nil
		}
		if !errors.Is(err, ErrCodeTaken) {
			return "", err
		}
	}
	return "", ErrExhausted
}

// Normalize 去空白、去展示用连字符并转大写
func Normalize(code string) string {
	code = strings.TrimSpace(code)
	code = strings.ReplaceAll(code, "-", "")
	return strings.ToUpper(code)
}

// Validate 只做格式校验（长度 + 字符集），大小写不敏感，不访问存储
func Validate(code string) bool {
	code = Normalize(code)
	if len(code) != CodeLength {
		return false
	}
	for _, c := range code {
		if !strings.ContainsRune(Alphabet, c) {
			return false
		}
	}
	return true
}

// Format 展示格式 XXXX-XXXX
func Format(code string) string {
	code = Normalize(code)
	if len(code) != CodeLength {
		return code
	}
	return code[:CodeLength/2] + "-" + code[CodeLength/2:]
}
