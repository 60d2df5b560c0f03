// Package macro substitutes named placeholders like {click_id} into URL
// templates. Substitution is a single pass: replaced values are never
// re-scanned, so a value containing "{...}" cannot trigger further
// expansion. Unknown placeholders are left verbatim.
package macro

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrInvalidTemplate is returned when a template does not parse as a URL.
var ErrInvalidTemplate = errors.New("invalid url template")

// Canonical placeholder names. Sub parameters ("sub1".."sub23" and
// beyond) are an open escape hatch on top of these.
const (
	KeyClickID         = "click_id"
	KeyCampaignID      = "campaign_id"
	KeyCampaignName    = "campaign_name"
	KeyTrafficChannel  = "traffic_channel"
	KeyOfferID         = "offer_id"
	KeyOfferName       = "offer_name"
	KeyLanderID        = "lander_id"
	KeyCountry         = "country"
	KeyRegion          = "region"
	KeyCity            = "city"
	KeyIP              = "ip"
	KeyUserAgent       = "user_agent"
	KeyDevice          = "device"
	KeyOS              = "os"
	KeyBrowser         = "browser"
	KeyPayout          = "payout"
	KeyRevenue         = "revenue"
	KeyConversionID    = "conversion_id"
	KeyExternalID      = "external_id"
	KeyTimestamp       = "timestamp"
)

// MaxSubs is how many sub slots are extracted from inbound requests.
const MaxSubs = 23

// Values maps placeholder names (without braces) to concrete strings.
type Values map[string]string

// Set assigns a value, dropping empty ones so absent data leaves the
// placeholder verbatim for the caller to notice.
func (v Values) Set(key, val string) {
	if val != "" {
		v[key] = val
	}
}

// SubKey returns the canonical name of the n-th sub parameter.
func SubKey(n int) string {
	return fmt.Sprintf("sub%d", n)
}

// Resolve substitutes every {name} whose name is present in vals.
// Case-sensitive, non-recursive, unknown placeholders untouched.
func Resolve(template string, vals Values) string {
	var b strings.Builder
	b.Grow(len(template))

	rest := template
	for {
		open := strings.IndexByte(rest, '{')
		if open < 0 {
			b.WriteString(rest)
			return b.String()
		}
		close := strings.IndexByte(rest[open:], '}')
		if close < 0 {
			b.WriteString(rest)
			return b.String()
		}
		close += open

		b.WriteString(rest[:open])
		name := rest[open+1 : close]
		if val, ok := vals[name]; ok {
			b.WriteString(val)
		} else {
			b.WriteString(rest[open : close+1])
		}
		rest = rest[close+1:]
	}
}

// BuildURL resolves a template and verifies the template itself is a
// parseable absolute URL. The template is validated rather than the
// output so that substituted values cannot mask a broken template.
func BuildURL(template string, vals Values) (string, error) {
	u, err := url.Parse(template)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidTemplate, template)
	}
	return Resolve(template, vals), nil
}

// ChannelFormat applies a traffic channel's macro_format indirection:
// the channel names its own query parameters for our canonical subs.
type ChannelFormat struct {
	// format maps canonical sub name -> channel parameter name.
	format map[string]string
}

// NewChannelFormat wraps a channel's macro_format mapping. A nil or
// empty mapping means the canonical names are used as-is.
func NewChannelFormat(format map[string]string) ChannelFormat {
	return ChannelFormat{format: format}
}

// ParamName returns the query parameter name the channel uses for the
// given canonical sub name.
func (f ChannelFormat) ParamName(sub string) string {
	if name, ok := f.format[sub]; ok && name != "" {
		return name
	}
	return sub
}

// ExtractSubs pulls every populated sub1..sub23 value out of an inbound
// query, honoring the channel's parameter naming.
func (f ChannelFormat) ExtractSubs(q url.Values) map[string]string {
	subs := make(map[string]string)
	for n := 1; n <= MaxSubs; n++ {
		key := SubKey(n)
		if val := q.Get(f.ParamName(key)); val != "" {
			subs[key] = val
		}
	}
	return subs
}

// AppendParams adds click id and every populated sub to a URL as query
// parameters, using the channel's parameter names. Used for lander
// redirects, where the destination is a plain URL rather than a
// placeholder template.
func (f ChannelFormat) AppendParams(rawURL, clickID string, subs map[string]string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidTemplate, rawURL)
	}

	q := u.Query()
	q.Set(KeyClickID, clickID)
	for n := 1; n <= MaxSubs; n++ {
		key := SubKey(n)
		if val, ok := subs[key]; ok && val != "" {
			q.Set(f.ParamName(key), val)
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
