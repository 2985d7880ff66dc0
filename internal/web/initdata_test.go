package web_test

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"sort"
	"strings"
	"testing"

	"github.com/go-faster/errors"

	"voicednut-bot/internal/web"
)

const testBotToken = "123456:ABC-DEF1234ghIkl-zyx57W2v1u123ew11"

// signInitData подписывает набор полей так, как это делает Telegram.
func signInitData(t *testing.T, botToken string, fields map[string]string) string {
	t.Helper()

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, k+"="+fields[k])
	}

	mac := hmac.New(sha256.New, []byte("WebAppData"))
	mac.Write([]byte(botToken))
	secret := mac.Sum(nil)

	mac = hmac.New(sha256.New, secret)
	mac.Write([]byte(strings.Join(lines, "\n")))
	hash := hex.EncodeToString(mac.Sum(nil))

	q := url.Values{}
	for k, v := range fields {
		q.Set(k, v)
	}
	q.Set("hash", hash)
	return q.Encode()
}

func TestVerifyInitDataValid(t *testing.T) {
	t.Parallel()

	initData := signInitData(t, testBotToken, map[string]string{
		"auth_date": "1756700000",
		"query_id":  "AAF9tT0cAAAAAH21PRz0",
		"user":      `{"id":42,"first_name":"Ada","username":"ada","language_code":"en"}`,
	})

	u, err := web.VerifyInitData(testBotToken, initData)
	if err != nil {
		t.Fatalf("VerifyInitData() error: %v", err)
	}
	if u.ID != 42 || u.Username != "ada" || u.FirstName != "Ada" {
		t.Errorf("user = %+v", u)
	}
}

func TestVerifyInitDataRejects(t *testing.T) {
	t.Parallel()

	valid := signInitData(t, testBotToken, map[string]string{
		"auth_date": "1756700000",
		"user":      `{"id":42,"first_name":"Ada"}`,
	})

	cases := []struct {
		name     string
		initData string
		wantErr  error
	}{
		{name: "empty", initData: "", wantErr: web.ErrNoInitData},
		{name: "whitespace", initData: "   ", wantErr: web.ErrNoInitData},
		{name: "noHash", initData: "auth_date=1756700000&user=%7B%22id%22%3A42%7D", wantErr: web.ErrBadSignature},
		{name: "tamperedField", initData: strings.Replace(valid, "auth_date=1756700000", "auth_date=1756700001", 1), wantErr: web.ErrBadSignature},
		{name: "wrongToken", initData: signInitData(t, "999:other", map[string]string{"auth_date": "1", "user": `{"id":42}`}), wantErr: web.ErrBadSignature},
		{
			name:     "noUserField",
			initData: signInitData(t, testBotToken, map[string]string{"auth_date": "1756700000"}),
			wantErr:  web.ErrBadPayload,
		},
		{
			name:     "zeroUserID",
			initData: signInitData(t, testBotToken, map[string]string{"auth_date": "1", "user": `{"id":0}`}),
			wantErr:  web.ErrBadPayload,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tc := tc
			t.Parallel()
			_, err := web.VerifyInitData(testBotToken, tc.initData)
			if !errors.Is(err, tc.wantErr) {
				t.Errorf("error = %v, want %v", err, tc.wantErr)
			}
		})
	}
}
