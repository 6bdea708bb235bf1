package crawler

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
)

// The extraction chain reads the JSON TikTok embeds before widget hydration.
// That JSON is faster and more stable across UI releases than DOM scraping,
// but its container drifts between releases, hence the ordered cascade: each
// strategy tolerates malformed or missing data by falling through to the next.

// flexInt absorbs the format drift in embedded stats: counts and timestamps
// arrive as JSON numbers in some releases and as quoted strings in others.
type flexInt int64

func (f *flexInt) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		// Shape drift is survivable; a zero falls through the chain.
		*f = 0
		return nil
	}
	*f = flexInt(n)
	return nil
}

type itemStats struct {
	PlayCount    flexInt `json:"playCount"`
	DiggCount    flexInt `json:"diggCount"`
	CommentCount flexInt `json:"commentCount"`
	ShareCount   flexInt `json:"shareCount"`
}

type itemStruct struct {
	Stats      itemStats `json:"stats"`
	CreateTime flexInt   `json:"createTime"`
}

// Extractor runs the strategy cascade over a captured page snapshot.
type Extractor struct {
	minYear int
	maxYear int
}

// NewExtractor builds an Extractor with the plausible publish-date window.
func NewExtractor(minYear, maxYear int) *Extractor {
	return &Extractor{minYear: minYear, maxYear: maxYear}
}

// Extract tries each strategy in priority order and stops at the first one
// that yields a positive view count. ok is false when every strategy failed.
func (e *Extractor) Extract(snap PageSnapshot) (Metrics, bool) {
	strategies := []func(PageSnapshot) (Metrics, bool){
		e.fromUniversalData,
		e.fromSigiState,
		e.fromNextData,
		e.fromMarkup,
		e.fromVisibleCount,
	}
	for _, strategy := range strategies {
		if m, ok := strategy(snap); ok {
			return m, true
		}
	}
	return Metrics{}, false
}

func (e *Extractor) itemToMetrics(item itemStruct) (Metrics, bool) {
	if item.Stats.PlayCount <= 0 {
		return Metrics{}, false
	}
	return Metrics{
		Views:       int64(item.Stats.PlayCount),
		Likes:       int64(item.Stats.DiggCount),
		Comments:    int64(item.Stats.CommentCount),
		Shares:      int64(item.Stats.ShareCount),
		PublishDate: TimestampToDate(int64(item.CreateTime), e.minYear, e.maxYear),
	}, true
}

// fromUniversalData parses the __UNIVERSAL_DATA_FOR_REHYDRATION__ block, the
// primary structured format on current releases.
func (e *Extractor) fromUniversalData(snap PageSnapshot) (Metrics, bool) {
	if snap.UniversalData == "" {
		return Metrics{}, false
	}
	var doc struct {
		DefaultScope struct {
			VideoDetail struct {
				ItemInfo struct {
					ItemStruct itemStruct `json:"itemStruct"`
				} `json:"itemInfo"`
			} `json:"webapp.video-detail"`
		} `json:"__DEFAULT_SCOPE__"`
	}
	if err := json.Unmarshal([]byte(snap.UniversalData), &doc); err != nil {
		return Metrics{}, false
	}
	return e.itemToMetrics(doc.DefaultScope.VideoDetail.ItemInfo.ItemStruct)
}

// fromSigiState parses the legacy SIGI_STATE block: a map of item id to item
// data under ItemModule.
func (e *Extractor) fromSigiState(snap PageSnapshot) (Metrics, bool) {
	if snap.SigiState == "" {
		return Metrics{}, false
	}
	var doc struct {
		ItemModule map[string]itemStruct `json:"ItemModule"`
	}
	if err := json.Unmarshal([]byte(snap.SigiState), &doc); err != nil {
		return Metrics{}, false
	}
	for _, item := range doc.ItemModule {
		if m, ok := e.itemToMetrics(item); ok {
			return m, true
		}
	}
	return Metrics{}, false
}

// fromNextData parses the __NEXT_DATA__ server-props block.
func (e *Extractor) fromNextData(snap PageSnapshot) (Metrics, bool) {
	if snap.NextData == "" {
		return Metrics{}, false
	}
	var doc struct {
		Props struct {
			PageProps struct {
				ItemInfo struct {
					ItemStruct itemStruct `json:"itemStruct"`
				} `json:"itemInfo"`
			} `json:"pageProps"`
		} `json:"props"`
	}
	if err := json.Unmarshal([]byte(snap.NextData), &doc); err != nil {
		return Metrics{}, false
	}
	return e.itemToMetrics(doc.Props.PageProps.ItemInfo.ItemStruct)
}

var (
	playCountPatterns = []*regexp.Regexp{
		regexp.MustCompile(`"playCount"\s*:\s*(\d+)`),
		regexp.MustCompile(`"play_count"\s*:\s*(\d+)`),
		regexp.MustCompile(`"viewCount"\s*:\s*(\d+)`),
		regexp.MustCompile(`playCount&quot;:(\d+)`),
		regexp.MustCompile(`"stats"\s*:\s*\{[^}]*"playCount"\s*:\s*(\d+)`),
	}
	createTimePattern   = regexp.MustCompile(`"createTime"\s*:\s*"?(\d{10,13})"?`)
	diggCountPattern    = regexp.MustCompile(`"diggCount"\s*:\s*(\d+)`)
	commentCountPattern = regexp.MustCompile(`"commentCount"\s*:\s*(\d+)`)
	shareCountPattern   = regexp.MustCompile(`"shareCount"\s*:\s*(\d+)`)
)

// fromMarkup pattern-searches the raw page markup for stat fields, used when
// the structured blocks are stripped or their shape has drifted.
func (e *Extractor) fromMarkup(snap PageSnapshot) (Metrics, bool) {
	if snap.HTML == "" {
		return Metrics{}, false
	}
	var views int64
	for _, p := range playCountPatterns {
		if m := p.FindStringSubmatch(snap.HTML); m != nil {
			n, err := strconv.ParseInt(m[1], 10, 64)
			if err == nil && n > 0 {
				views = n
				break
			}
		}
	}
	if views <= 0 {
		return Metrics{}, false
	}

	metrics := Metrics{Views: views}
	if m := createTimePattern.FindStringSubmatch(snap.HTML); m != nil {
		if ts, err := strconv.ParseInt(m[1], 10, 64); err == nil {
			metrics.PublishDate = TimestampToDate(ts, e.minYear, e.maxYear)
		}
	}
	metrics.Likes = firstMatchInt(diggCountPattern, snap.HTML)
	metrics.Comments = firstMatchInt(commentCountPattern, snap.HTML)
	metrics.Shares = firstMatchInt(shareCountPattern, snap.HTML)
	return metrics, true
}

// fromVisibleCount is the last resort: the on-page view counter text captured
// by the session manager's selector sweep. No publish date this way.
func (e *Extractor) fromVisibleCount(snap PageSnapshot) (Metrics, bool) {
	views := ParseCount(snap.ViewsText)
	if views <= 0 {
		return Metrics{}, false
	}
	return Metrics{Views: views}, true
}

func firstMatchInt(p *regexp.Regexp, html string) int64 {
	m := p.FindStringSubmatch(html)
	if m == nil {
		return 0
	}
	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// TitleVerdict is the engine's read of a page whose extraction failed
// entirely, derived from the page title.
type TitleVerdict int

// Title verdicts.
const (
	TitleInconclusive TitleVerdict = iota
	TitleGone
	TitleBotCheck
)

// ClassifyTitle distinguishes a genuinely broken target from a transient
// failure after all extraction strategies came up empty.
func ClassifyTitle(title string) TitleVerdict {
	t := strings.ToLower(title)
	switch {
	case strings.Contains(t, "captcha") || strings.Contains(t, "verify"):
		return TitleBotCheck
	case strings.Contains(t, "not found") || strings.Contains(t, "unavailable") ||
		strings.Contains(t, "removed") || strings.Contains(t, "couldn't find"):
		return TitleGone
	default:
		return TitleInconclusive
	}
}
