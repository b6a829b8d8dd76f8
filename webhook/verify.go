package webhook

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"strings"
)

// Keys is the partner's secret material. Either key may sign a GET URL;
// only Secret signs POST bodies.
type Keys struct {
	Secret string
	Server string
}

func (k Keys) trimmed() Keys {
	return Keys{Secret: strings.TrimSpace(k.Secret), Server: strings.TrimSpace(k.Server)}
}

// signatureHeaders are checked in order; the first non-empty one is used.
var signatureHeaders = []string{"X-Signature", "X-Hub-Signature", "X-Signature-Hmac-Sha256"}

// SignatureHeader returns the body signature sent with a POST.
func SignatureHeader(h http.Header) string {
	for _, name := range signatureHeaders {
		if v := strings.TrimSpace(h.Get(name)); v != "" {
			return v
		}
	}
	return ""
}

// SignBody returns hex(HMAC-SHA256(secret, body)).
func SignBody(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyBody compares sig against the body HMAC in constant time. A
// "sha256=" prefix on sig is accepted.
func VerifyBody(secret string, body []byte, sig string) bool {
	if secret == "" || sig == "" {
		return false
	}
	sig = strings.TrimPrefix(sig, "sha256=")
	return constantTimeEqual(SignBody(secret, body), strings.ToLower(sig))
}

// =============================================================================
// SIGNED URLS
// =============================================================================

// CanonicalURL rebuilds the URL the partner signed: scheme and host as the
// client saw them, the request path, and the raw query with every hash
// parameter removed. The remaining parameters keep their order and encoding.
func CanonicalURL(r *http.Request) string {
	proto := strings.TrimSpace(firstForwarded(r.Header.Get("X-Forwarded-Proto")))
	if proto == "" {
		proto = "http"
		if r.TLS != nil {
			proto = "https"
		}
	}
	host := strings.TrimSpace(firstForwarded(r.Header.Get("X-Forwarded-Host")))
	if host == "" {
		host = r.Host
	}

	var b strings.Builder
	b.WriteString(proto)
	b.WriteString("://")
	b.WriteString(host)
	b.WriteString(r.URL.EscapedPath())

	var kept []string
	for _, pair := range strings.Split(r.URL.RawQuery, "&") {
		if pair == "" {
			continue
		}
		name := pair
		if i := strings.IndexByte(pair, '='); i >= 0 {
			name = pair[:i]
		}
		if name == "hash" {
			continue
		}
		kept = append(kept, pair)
	}
	if len(kept) > 0 {
		b.WriteByte('?')
		b.WriteString(strings.Join(kept, "&"))
	}
	return b.String()
}

// firstForwarded returns the first entry of a comma-separated proxy header.
func firstForwarded(v string) string {
	if i := strings.IndexByte(v, ','); i >= 0 {
		return v[:i]
	}
	return v
}

// SignURL returns lower-case hex(HMAC-SHA1(key, canonical)).
func SignURL(key, canonical string) string {
	mac := hmac.New(sha1.New, []byte(key))
	mac.Write([]byte(canonical))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyURL reports which key, if any, produced the provided hash:
// "secret", "server" or "".
func VerifyURL(keys Keys, canonical, provided string) string {
	provided = strings.ToLower(strings.TrimSpace(provided))
	if provided == "" {
		return ""
	}
	if keys.Secret != "" && constantTimeEqual(SignURL(keys.Secret, canonical), provided) {
		return "secret"
	}
	if keys.Server != "" && constantTimeEqual(SignURL(keys.Server, canonical), provided) {
		return "server"
	}
	return ""
}

func constantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
