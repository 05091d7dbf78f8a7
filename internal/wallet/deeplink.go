package wallet

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/alanyoungcy/bnbmarket/internal/domain"
)

var mobileUA = regexp.MustCompile(`(?i)android|iphone|ipad|ipod`)

// IsMobileUserAgent reports whether ua belongs to a mobile browser.
func IsMobileUserAgent(ua string) bool {
	return mobileUA.MatchString(ua)
}

// DeepLink returns the URL that opens dappURL inside the wallet's mobile
// app.
func DeepLink(wt domain.WalletType, dappURL string) string {
	switch wt {
	case domain.WalletTrustWallet:
		return "https://link.trustwallet.com/open_url?coin_id=60&url=" + strings.ReplaceAll(url.QueryEscape(dappURL), "+", "%20")
	default:
		u, err := url.Parse(dappURL)
		if err != nil || u.Host == "" {
			return "https://metamask.app.link"
		}
		link := "https://metamask.app.link/dapp/" + u.Host + u.EscapedPath()
		if u.RawQuery != "" {
			link += "?" + u.RawQuery
		}
		if u.Fragment != "" {
			link += "#" + u.EscapedFragment()
		}
		return link
	}
}
