package web

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/url"
	"sort"
	"strings"

	"github.com/go-faster/errors"
)

// Ошибки проверки initData. Хэндшейк отображает их в коды закрытия
// WebSocket, поэтому они различимы.
var (
	ErrNoInitData   = errors.New("no authentication data provided")
	ErrBadSignature = errors.New("invalid authentication")
	ErrBadPayload   = errors.New("malformed init data")
)

// InitUser — данные пользователя Telegram из проверенной initData.
type InitUser struct {
	ID           int64  `json:"id"`
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name"`
	Username     string `json:"username"`
	LanguageCode string `json:"language_code"`
}

// VerifyInitData проверяет подпись initData Telegram Mini App и возвращает
// вложенного пользователя. Схема Telegram: secret = HMAC_SHA256(key
// "WebAppData", сообщение botToken); подпись — hex HMAC_SHA256(secret, строки
// "key=value" всех полей кроме hash, отсортированные по ключу и склеенные
// через "\n".
func VerifyInitData(botToken, initData string) (InitUser, error) {
	if strings.TrimSpace(initData) == "" {
		return InitUser{}, ErrNoInitData
	}

	values, err := url.ParseQuery(initData)
	if err != nil {
		return InitUser{}, errors.Wrap(ErrBadPayload, err.Error())
	}
	gotHash := values.Get("hash")
	if gotHash == "" {
		return InitUser{}, ErrBadSignature
	}
	values.Del("hash")

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, k+"="+values.Get(k))
	}

	secret := hmacSHA256([]byte("WebAppData"), []byte(botToken))
	want := hex.EncodeToString(hmacSHA256(secret, []byte(strings.Join(lines, "\n"))))
	if !hmac.Equal([]byte(want), []byte(gotHash)) {
		return InitUser{}, ErrBadSignature
	}

	rawUser := values.Get("user")
	if rawUser == "" {
		return InitUser{}, errors.Wrap(ErrBadPayload, "user field missing")
	}
	var u InitUser
	if err := json.Unmarshal([]byte(rawUser), &u); err != nil {
		return InitUser{}, errors.Wrap(ErrBadPayload, "user field is not valid JSON")
	}
	if u.ID == 0 {
		return InitUser{}, errors.Wrap(ErrBadPayload, "user id missing")
	}
	return u, nil
}

func hmacSHA256(key, message []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(message)
	return mac.Sum(nil)
}
