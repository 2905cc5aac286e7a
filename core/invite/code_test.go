package invite

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssue_FormatIsValid(t *testing.T) {
	issuer := NewIssuer(0)
	seen := make(map[string]struct{})

	for i := 0; i < 200; i++ {
		code, err := issuer.Issue()
		require.NoError(t, err)
		assert.Len(t, code, CodeLength)
		assert.True(t, Validate(code), "issued code %q must validate", code)
		seen[code] = struct{}{}
	}

	// 31^8 的码空间下 200 次抽取不应出现碰撞
	assert.Len(t, seen, 200)
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name string
		code string
		want bool
	}{
		{"upper", "XK3P9QRT", true},
		{"lower case accepted", "xk3p9qrt", true},
		{"display form", "XK3P-9QRT", true},
		{"surrounding space", "  XK3P9QRT ", true},
		{"too short", "XK3P9QR", false},
		{"too long", "XK3P9QRTA", false},
		{"ambiguous zero", "XK3P0QRT", false},
		{"ambiguous one", "XK3P1QRT", false},
		{"symbol", "XK3P9QR!", false},
		{"empty", "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Validate(tc.code))
		})
	}
}

func TestNormalizeAndFormat(t *testing.T) {
	assert.Equal(t, "XK3P9QRT", Normalize(" xk3p-9qrt "))
	assert.Equal(t, "XK3P-9QRT", Format("xk3p9qrt"))
	assert.Equal(t, "ABC", Format("abc"))
}

func TestIssueUnique_RetriesOnCollision(t *testing.T) {
	issuer := NewIssuer(5)
	var tried []string

	code, err := issuer.IssueUnique(context.Background(), func(code string) error {
		tried = append(tried, code)
		if len(tried) < 3 {
			return ErrCodeTaken
		}
		return nil
	})

	require.NoError(t, err)
	assert.Len(t, tried, 3)
	assert.Equal(t, tried[2], code)
}

func TestIssueUnique_WrappedCollisionStillRetries(t *testing.T) {
	issuer := NewIssuer(5)
	calls := 0

	_, err := issuer.IssueUnique(context.Background(), func(code string) error {
		calls++
		if calls == 1 {
			return errors.Join(errors.New("duplicate key"), ErrCodeTaken)
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestIssueUnique_Exhausted(t *testing.T) {
	issuer := NewIssuer(3)
	calls := 0

	_, err := issuer.IssueUnique(context.Background(), func(string) error {
		calls++
		return ErrCodeTaken
	})

	assert.ErrorIs(t, err, ErrExhausted)
	assert.Equal(t, 3, calls)
}

func TestIssueUnique_OtherErrorIsNotRetried(t *testing.T) {
	issuer := NewIssuer(5)
	boom := errors.New("db down")
	calls := 0

	_, err := issuer.IssueUnique(context.Background(), func(string) error {
		calls++
		return boom
	})

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

func TestIssueUnique_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewIssuer(5).IssueUnique(ctx, func(string) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAlphabetHasNoAmbiguousCharacters(t *testing.T) {
	for _, c := range "0O1IL" {
		assert.False(t, strings.ContainsRune(Alphabet, c), "alphabet must not contain %q", c)
	}
}
