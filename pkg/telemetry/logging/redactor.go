package logging

import (
	"log/slog"
	"net/url"
	"regexp"
	"strings"
)

// redactedKeys are attribute keys whose string values are URLs that may
// carry credentials.
var redactedKeys = map[string]bool{
	"url":          true,
	"callback_url": true,
	"nats_url":     true,
	"endpoint":     true,
}

const mask = "***"

// sensitiveParams are query parameters masked by RedactURL.
var sensitiveParams = regexp.MustCompile(`(?i)^(token|access_token|api_key|apikey|key|secret|password|sig|signature)$`)

// RedactURL masks the password of any userinfo and the values of
// credential-like query parameters. Unparseable input is returned as is.
func RedactURL(raw string) string {
	if !strings.Contains(raw, "@") && !strings.Contains(raw, "?") {
		return raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}

	// url.UserPassword would escape the mask, so the userinfo is spliced
	// back in after String.
	var userinfo string
	if u.User != nil {
		if _, ok := u.User.Password(); ok {
			userinfo = url.User(u.User.Username()).String() + ":" + mask + "@"
			u.User = nil
		}
	}

	if u.RawQuery != "" {
		q := u.Query()
		changed := false
		for k := range q {
			if sensitiveParams.MatchString(k) {
				q.Set(k, mask)
				changed = true
			}
		}
		if changed {
			u.RawQuery = strings.ReplaceAll(q.Encode(), "="+url.QueryEscape(mask), "="+mask)
		}
	}

	out := u.String()
	if userinfo != "" {
		out = strings.Replace(out, "//", "//"+userinfo, 1)
	}
	return out
}

// redactAttr is the slog ReplaceAttr hook applied by New.
func redactAttr(_ []string, a slog.Attr) slog.Attr {
	if redactedKeys[a.Key] && a.Value.Kind() == slog.KindString {
		return slog.String(a.Key, RedactURL(a.Value.String()))
	}
	return a
}
