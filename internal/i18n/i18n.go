// Package i18n holds the user facing strings shown by the notification sink
// and the default page titles.
package i18n

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"

	apperrors "github.com/jrsteele09/citycard-gateway/internal/errors"
)

// Message keys.
const (
	MsgGenericError    = "generic_error"
	MsgNetworkError    = "network_error"
	MsgSessionExpired  = "session_expired"
	MsgForbidden       = "forbidden"
	MsgNotFound        = "not_found"
	MsgConflict        = "conflict"
	MsgBadRequest      = "bad_request"
	MsgRateLimited     = "rate_limited"
	MsgServerError     = "server_error"
	MsgLoginFailed     = "login_failed"
	MsgRegisterFailed  = "register_failed"
	MsgProfileFailed   = "profile_failed"
	MsgLoggedOut       = "logged_out"
	MsgLoginSucceeded  = "login_succeeded"
	MsgValidationError = "validation_error"
)

var (
	TraditionalChinese = language.MustParse("zh-TW")
	English            = language.English

	supported = []language.Tag{TraditionalChinese, English}
	matcher   = language.NewMatcher(supported)
	messages  = catalog.NewBuilder(catalog.Fallback(TraditionalChinese))
)

func init() {
	set := func(tag language.Tag, entries map[string]string) {
		for k, v := range entries {
			_ = messages.SetString(tag, k, v)
		}
	}
	set(TraditionalChinese, map[string]string{
		MsgGenericError:    "發生錯誤，請稍後再試",
		MsgNetworkError:    "網路連線異常，請檢查網路後再試",
		MsgSessionExpired:  "登入已過期，請重新登入",
		MsgForbidden:       "您沒有權限執行此操作",
		MsgNotFound:        "找不到請求的資源",
		MsgConflict:        "資料已存在",
		MsgBadRequest:      "請求內容有誤",
		MsgRateLimited:     "請求過於頻繁，請稍後再試",
		MsgServerError:     "伺服器錯誤，請稍後再試",
		MsgLoginFailed:     "登入失敗，請檢查帳號密碼",
		MsgRegisterFailed:  "註冊失敗，請稍後再試",
		MsgProfileFailed:   "獲取資料失敗",
		MsgLoggedOut:       "已登出",
		MsgLoginSucceeded:  "登入成功",
		MsgValidationError: "輸入資料格式不正確",
	})
	set(English, map[string]string{
		MsgGenericError:    "Something went wrong, please try again later",
		MsgNetworkError:    "Network unavailable, check your connection",
		MsgSessionExpired:  "Your session has expired, please sign in again",
		MsgForbidden:       "You are not allowed to do that",
		MsgNotFound:        "The requested resource was not found",
		MsgConflict:        "That record already exists",
		MsgBadRequest:      "The request was invalid",
		MsgRateLimited:     "Too many requests, please slow down",
		MsgServerError:     "Server error, please try again later",
		MsgLoginFailed:     "Sign in failed, check your email and password",
		MsgRegisterFailed:  "Registration failed, please try again later",
		MsgProfileFailed:   "Could not load your profile",
		MsgLoggedOut:       "Signed out",
		MsgLoginSucceeded:  "Signed in",
		MsgValidationError: "Some fields are invalid",
	})
}

// Translator renders message keys for one locale.
type Translator struct {
	tag     language.Tag
	printer *message.Printer
}

// New returns a translator for the closest supported match of locale.
func New(locale string) *Translator {
	_, idx, _ := matcher.Match(language.Make(locale))
	tag := supported[idx]
	return &Translator{
		tag:     tag,
		printer: message.NewPrinter(tag, message.Catalog(messages)),
	}
}

// Language is the resolved locale.
func (t *Translator) Language() language.Tag {
	return t.tag
}

// T renders key.
func (t *Translator) T(key string) string {
	return t.printer.Sprintf(message.Key(key, key))
}

// FallbackForKind is the message shown when the backend sent none.
func (t *Translator) FallbackForKind(kind apperrors.Kind) string {
	switch kind {
	case apperrors.KindNetwork:
		return t.T(MsgNetworkError)
	case apperrors.KindAuth:
		return t.T(MsgSessionExpired)
	case apperrors.KindForbidden:
		return t.T(MsgForbidden)
	case apperrors.KindNotFound:
		return t.T(MsgNotFound)
	case apperrors.KindConflict:
		return t.T(MsgConflict)
	case apperrors.KindBadRequest:
		return t.T(MsgBadRequest)
	case apperrors.KindRateLimited:
		return t.T(MsgRateLimited)
	case apperrors.KindServer:
		return t.T(MsgServerError)
	case apperrors.KindValidation:
		return t.T(MsgValidationError)
	default:
		return t.T(MsgGenericError)
	}
}
