package session

import (
	"math/rand"

	"github.com/clipmetrics/viewtracker/internal/crawler"
)

// stealthScript runs on every new document before any page script. It masks
// the automation signals headless Chrome leaks: the webdriver flag, the empty
// plugin list, the missing chrome object, and the cdc_ driver globals.
const stealthScript = `
Object.defineProperty(navigator, 'webdriver', { get: () => undefined });
Object.defineProperty(navigator, 'plugins', {
    get: () => [1, 2, 3, 4, 5],
});
Object.defineProperty(navigator, 'languages', {
    get: () => ['en-US', 'en'],
});
window.chrome = window.chrome || { runtime: {} };
for (const key of Object.keys(window)) {
    if (key.startsWith('cdc_')) {
        try { delete window[key]; } catch (e) {}
    }
}
`

// User agent pools per launch profile. The compat pool carries older builds;
// pages that reject the primary fingerprint sometimes serve these.
var (
	primaryUserAgents = []string{
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
		"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/130.0.0.0 Safari/537.36",
	}
	compatUserAgents = []string{
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0.0.0 Safari/537.36",
	}
)

// pickUserAgent returns a random agent from the profile's pool.
func pickUserAgent(kind crawler.EngineKind) string {
	pool := primaryUserAgents
	if kind == crawler.EngineCompat {
		pool = compatUserAgents
	}
	return pool[rand.Intn(len(pool))]
}
