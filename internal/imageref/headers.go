package imageref

import (
	"fmt"
	"math/rand"
	"net/http"
	"time"
)

var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0.0.0 Safari/537.36 Edg/119.0.0.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/16.5 Safari/605.1.15",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:120.0) Gecko/20100101 Firefox/120.0",
	"Mozilla/5.0 (iPhone; CPU iPhone OS 17_0_1 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1",
}

// UserAgents lists the browser identities requests rotate through.
func UserAgents() []string {
	return append([]string(nil), userAgents...)
}

// applyBrowserHeaders dresses req up as an image load from a browser tab so
// hosts with hot-link protection serve the bytes.
//
// Accept-Encoding is left to the transport, which then decompresses gzip
// bodies for us.
func applyBrowserHeaders(req *http.Request) {
	req.Header.Set("User-Agent", userAgents[rand.Intn(len(userAgents))])
	req.Header.Set("Accept", "image/webp,image/apng,image/*,*/*;q=0.8")
	req.Header.Set("Accept-Language", "zh-CN,zh;q=0.9,en;q=0.8")
	req.Header.Set("Sec-Fetch-Dest", "image")
	req.Header.Set("Sec-Fetch-Mode", "no-cors")
	req.Header.Set("Sec-Fetch-Site", "cross-site")
	req.Header.Set("Referer", "https://www.google.com/")

	for _, c := range browserCookies() {
		req.AddCookie(c)
	}
}

func browserCookies() []*http.Cookie {
	return []*http.Cookie{
		{Name: "appmsglist_action_3941382959", Value: "card"},
		{Name: "appmsglist_action_3941382968", Value: "card"},
		{Name: "pac_uid", Value: fmt.Sprintf("%d_f%d", time.Now().Unix(), 10000+rand.Intn(90000))},
		{Name: "rewardsn", Value: ""},
		{Name: "wxtokenkey", Value: fmt.Sprintf("%d", 100000+rand.Intn(900000))},
	}
}
