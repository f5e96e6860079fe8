// Package privacy scrubs credentials and endpoints from messages before they
// are logged or reported.
package privacy

import (
	"crypto/sha256"
	"encoding/hex"
	"net/netip"
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

// any scheme://, covers shoutrrr service URLs, brokers and sink endpoints
var urlPattern = regexp.MustCompile(`\b[a-z][a-z0-9+.-]*://\S+`)

// ScrubMessage replaces every URL found in message with its anonymized form.
func ScrubMessage(message string) string {
	return urlPattern.ReplaceAllStringFunc(message, AnonymizeURL)
}

func shortHash(s string, n int) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:n])
}

// AnonymizeURL turns a URL into a stable token. Only the scheme stays
// readable; host kind, port and path shape feed the hash so distinct
// endpoints stay distinguishable without being identifiable.
func AnonymizeURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" {
		return "url-hash-" + shortHash(rawURL, 8)
	}

	key := []string{u.Scheme}
	if host := u.Hostname(); host != "" {
		key = append(key, categorizeHost(host))
	}
	if port := u.Port(); port != "" {
		key = append(key, "port-"+port)
	}
	if u.Path != "" && u.Path != "/" {
		key = append(key, anonymizePath(u.Path))
	}
	return u.Scheme + "://url-" + shortHash(strings.Join(key, ":"), 12)
}

// categorizeHost reduces a host to localhost, private-ip, public-ip or
// domain-<tld>.
func categorizeHost(host string) string {
	if host == "localhost" {
		return "localhost"
	}
	if addr, err := netip.ParseAddr(host); err == nil {
		switch {
		case addr.IsLoopback():
			return "localhost"
		case addr.IsPrivate(), addr.IsLinkLocalUnicast():
			return "private-ip"
		default:
			return "public-ip"
		}
	}
	if dot := strings.LastIndexByte(host, '.'); dot > 0 && dot < len(host)-1 {
		return "domain-" + host[dot+1:]
	}
	return "unknown-host"
}

// anonymizePath hashes each segment so only the depth and numeric
// segments remain visible.
func anonymizePath(path string) string {
	var segments []string
	for segment := range strings.SplitSeq(strings.Trim(path, "/"), "/") {
		switch {
		case segment == "":
		case isNumeric(segment):
			segments = append(segments, "numeric")
		default:
			segments = append(segments, "seg-"+shortHash(segment, 4))
		}
	}
	if len(segments) == 0 {
		return "root"
	}
	return strings.Join(segments, "/")
}

func isNumeric(s string) bool {
	_, err := strconv.ParseUint(s, 10, 64)
	return err == nil
}
