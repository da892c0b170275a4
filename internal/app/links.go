package app

import (
	"regexp"
	"strings"
)

// Ordered from most to least specific; the first match wins.
var linkPatterns = []*regexp.Regexp{
	regexp.MustCompile(`https://gift\.truemoney\.com/campaign/\?v=[0-9A-Za-z]+`),
	regexp.MustCompile(`gift\.truemoney\.com/campaign/\?v=[0-9A-Za-z]+`),
	regexp.MustCompile(`truemoney\.com/campaign/\?v=[0-9A-Za-z]+`),
}

var voucherParam = regexp.MustCompile(`v=([0-9A-Za-z]+)`)

// Link is a detected redemption link in canonical form.
type Link struct {
	URL     string
	Voucher string
}

// DetectLink finds the first redemption link in text.
func DetectLink(text string) (Link, bool) {
	for _, p := range linkPatterns {
		match := p.FindString(text)
		if match == "" {
			continue
		}

		if !strings.HasPrefix(match, "https://") {
			match = "https://" + match
		}

		m := voucherParam.FindStringSubmatch(match)
		if m == nil {
			return Link{}, false
		}
		return Link{URL: match, Voucher: m[1]}, true
	}
	return Link{}, false
}
