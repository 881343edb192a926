// Package notify renders user-facing messages in the configured locale.
package notify

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"

	"github.com/xprocessing/neoaigc/internal/domain"
)

// Message keys double as the English text.
const (
	MsgLoginRequired   = "Login required. Your %s request will continue after you log in."
	MsgScanToLogin     = "Scan the QR code to log in: %s"
	MsgLoggedIn        = "Logged in as %s"
	MsgLoggedOut       = "Logged out"
	MsgNotLoggedIn     = "Not logged in"
	MsgLoginAbandoned  = "Login cancelled"
	MsgLoginTimedOut   = "Login timed out"
	MsgSubmitted       = "%s job %s submitted"
	MsgSucceeded       = "Job %s completed: %s"
	MsgFailed          = "Job %s failed: %s"
	MsgBatchSubmitted  = "Submitted %d matting jobs"
	MsgSaved           = "Saved result to %s"
	MsgBalance         = "Balance: %d"
	MsgNoJobs          = "No jobs yet"
	MsgNoTemplates     = "No templates"
	MsgWaitingForLogin = "Waiting for login..."
)

var translations = map[string]string{
	MsgLoginRequired:   "需要登录。登录后将继续您的%s请求。",
	MsgScanToLogin:     "请扫码登录：%s",
	MsgLoggedIn:        "已登录：%s",
	MsgLoggedOut:       "已退出登录",
	MsgNotLoggedIn:     "未登录",
	MsgLoginAbandoned:  "已取消登录",
	MsgLoginTimedOut:   "登录超时",
	MsgSubmitted:       "%s任务 %s 已提交",
	MsgSucceeded:       "任务 %s 已完成：%s",
	MsgFailed:          "任务 %s 失败：%s",
	MsgBatchSubmitted:  "已提交 %d 个抠图任务",
	MsgSaved:           "结果已保存到 %s",
	MsgBalance:         "余额：%d",
	MsgNoJobs:          "暂无任务",
	MsgNoTemplates:     "暂无模板",
	MsgWaitingForLogin: "等待登录……",
}

var modalityNames = map[domain.Modality]string{
	domain.ModalityTextToImage:  "文生图",
	domain.ModalityImageToImage: "图生图",
	domain.ModalityBatchMatting: "批量抠图",
	domain.ModalityFaceSwap:     "AI换脸",
}

var supported = []language.Tag{language.English, language.SimplifiedChinese}

var matcher = language.NewMatcher(supported)

var messages = buildCatalog()

func buildCatalog() catalog.Catalog {
	b := catalog.NewBuilder(catalog.Fallback(language.English))
	for key, zh := range translations {
		_ = b.SetString(language.English, key, key)
		_ = b.SetString(language.SimplifiedChinese, key, zh)
	}
	return b
}

// Printer formats messages for one locale.
type Printer struct {
	tag     language.Tag
	printer *message.Printer
}

// NewPrinter picks the closest supported language for locale ("zh-CN",
// "en_US", an Accept-Language list). Unknown locales fall back to English.
func NewPrinter(locale string) *Printer {
	tag := Match(locale)
	return &Printer{tag: tag, printer: message.NewPrinter(tag, message.Catalog(messages))}
}

// Match resolves locale to one of the supported tags.
func Match(locale string) language.Tag {
	locale = strings.ReplaceAll(strings.TrimSpace(locale), "_", "-")
	if locale == "" {
		return language.English
	}
	prefs, _, err := language.ParseAcceptLanguage(locale)
	if err != nil || len(prefs) == 0 {
		return language.English
	}
	_, idx, conf := matcher.Match(prefs...)
	if conf == language.No {
		return language.English
	}
	return supported[idx]
}

// Language returns the tag the printer renders in.
func (p *Printer) Language() language.Tag {
	return p.tag
}

// Sprintf renders key with args.
func (p *Printer) Sprintf(key string, args ...any) string {
	return p.printer.Sprintf(key, args...)
}

// Modality returns the display name of m.
func (p *Printer) Modality(m domain.Modality) string {
	if p.tag == language.SimplifiedChinese {
		if name, ok := modalityNames[m]; ok {
			return name
		}
	}
	words := strings.ReplaceAll(strings.ToLower(string(m)), "_", " ")
	return cases.Title(language.English).String(words)
}
