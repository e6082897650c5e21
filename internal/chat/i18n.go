// Copyright (c) 2025-2026 Asepal / SinoSEA
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"errors"

	"github.com/AsePal/sinosea-chat/internal/api"
)

// =============================================================================
// LANGUAGE
// =============================================================================

// Lang selects the user-facing string table.
type Lang string

const (
	LangEnglish Lang = "en"
	LangChinese Lang = "zh"
)

// ParseLang maps a config language code to a Lang, defaulting to English.
func ParseLang(code string) Lang {
	if code == string(LangChinese) {
		return LangChinese
	}
	return LangEnglish
}

// =============================================================================
// STRING TABLE
// =============================================================================

// strings holds every user-visible string the controller emits. Full
// localization lives in the surrounding UI layers; the controller only needs
// its own messages in the two launch languages.
type stringTable struct {
	Thinking     string
	LoginNeeded  string
	WelcomeUser  []string // authenticated: one line
	WelcomeGuest []string // unauthenticated: two lines, second delayed

	ErrNoResponse  string
	ErrTimedOut    string
	ErrServer      string
	ErrAuthExpired string
	ErrBadReply    string
	ErrNetwork     string
	ErrHistory     string
}

var tables = map[Lang]stringTable{
	LangEnglish: {
		Thinking:    "Thinking...",
		LoginNeeded: "Please log in to continue the conversation.",
		WelcomeUser: []string{
			"Welcome back! How can I help you today?",
		},
		WelcomeGuest: []string{
			"Hi! I'm the SinoSEA assistant for international students.",
			"Log in to ask about visas, housing, courses and campus life.",
		},
		ErrNoResponse:  "The assistant did not respond. Please try again.",
		ErrTimedOut:    "The reply was cut off. Please try again.",
		ErrServer:      "Something went wrong on our side. Please try again.",
		ErrAuthExpired: "Your session has expired. Please log in again.",
		ErrBadReply:    "Received an unreadable reply. Please try again.",
		ErrNetwork:     "Connection lost. Please check your network and try again.",
		ErrHistory:     "Could not load earlier messages. Pull again to retry.",
	},
	LangChinese: {
		Thinking:    "思考中...",
		LoginNeeded: "请先登录后继续对话。",
		WelcomeUser: []string{
			"欢迎回来！今天有什么可以帮您？",
		},
		WelcomeGuest: []string{
			"您好！我是面向国际学生的 SinoSEA 助手。",
			"登录后可以咨询签证、住宿、课程和校园生活。",
		},
		ErrNoResponse:  "助手没有响应，请重试。",
		ErrTimedOut:    "回复被中断，请重试。",
		ErrServer:      "服务出现问题，请稍后重试。",
		ErrAuthExpired: "登录已过期，请重新登录。",
		ErrBadReply:    "收到无法解析的回复，请重试。",
		ErrNetwork:     "连接中断，请检查网络后重试。",
		ErrHistory:     "无法加载更早的消息，请重试。",
	},
}

// table returns the string table for lang, falling back to English.
func table(lang Lang) stringTable {
	if t, ok := tables[lang]; ok {
		return t
	}
	return tables[LangEnglish]
}

// =============================================================================
// ERROR TRANSLATION
// =============================================================================

// translateStreamError maps a transport failure to the string shown in the
// finalized assistant bubble.
func translateStreamError(lang Lang, err error) string {
	t := table(lang)

	se := api.AsStreamError(err)
	if se == nil {
		if errors.Is(err, api.ErrUnauthorized) {
			return t.ErrAuthExpired
		}
		return t.ErrServer
	}

	switch se.Kind {
	case api.KindFirstByteTimeout:
		return t.ErrNoResponse
	case api.KindIdleTimeout:
		return t.ErrTimedOut
	case api.KindHTTPError:
		if se.Status == 401 {
			return t.ErrAuthExpired
		}
		return t.ErrServer
	case api.KindParseError:
		return t.ErrBadReply
	case api.KindNoBody, api.KindNetworkError:
		return t.ErrNetwork
	default:
		return t.ErrServer
	}
}
