package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Lecture is everything the portal page reveals about one recording.
type Lecture struct {
	ID           int64
	MediaURL     string
	Title        string
	SeriesID     int64
	SeriesName   string
	LecturerID   int64
	LecturerName string
	Date         string
	Language     string
	Duration     string
}

// playerConfig is the JSON blob the portal embeds in the player element's
// configuration attribute.
type playerConfig struct {
	FallbackStream map[string]string   `json:"fallbackStream"`
	Streams        []map[string]string `json:"streams"`
}

var (
	seriesHrefRe   = regexp.MustCompile(`/series/(\d+)`)
	lecturerHrefRe = regexp.MustCompile(`^/lecturer/(\d+)`)
)

// Fetch loads the lecture page for id and resolves the media URL plus the
// lecture metadata. A page without a usable media URL yields an error; the
// pipeline cannot do anything with such a lecture.
func (c *Client) Fetch(ctx context.Context, id int64) (*Lecture, error) {
	resp, err := c.get(ctx, c.pageURL(id))
	if err != nil {
		return nil, fmt.Errorf("fetch lecture %d: %w", id, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch lecture %d: portal returned %d", id, resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("fetch lecture %d: parse page: %w", id, err)
	}

	lec := &Lecture{ID: id}
	lec.MediaURL = mediaURL(doc)
	if lec.MediaURL == "" {
		return nil, fmt.Errorf("fetch lecture %d: no mp4 url on page", id)
	}
	scrapeMetadata(doc, lec)
	return lec, nil
}

// mediaURL extracts the recording URL from the player configuration. The
// fallback stream is tried first (its podcast rendition, then any mp4);
// only then the streams: a podcast rendition, the SD video or camera
// stream, any SD mp4, and finally any mp4. Map iteration is done over
// sorted keys so the choice is stable across runs.
func mediaURL(doc *goquery.Document) string {
	raw, ok := doc.Find("#player").Attr("configuration")
	if !ok {
		return ""
	}
	var cfg playerConfig
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		return ""
	}

	fallback := sortedValues(cfg.FallbackStream)
	if url := firstWithSuffix(fallback, "podcast.mp4"); url != "" {
		return url
	}
	if url := firstWithSuffix(fallback, ".mp4"); url != "" {
		return url
	}

	var streamURLs, sdURLs []string
	for _, stream := range cfg.Streams {
		streamURLs = append(streamURLs, sortedValues(stream)...)
		if sd, ok := stream["sd"]; ok {
			sdURLs = append(sdURLs, sd)
		}
	}
	if url := firstWithSuffix(streamURLs, "podcast.mp4"); url != "" {
		return url
	}
	if url := firstWithSuffix(sdURLs, "video.mp4"); url != "" {
		return url
	}
	if url := firstWithSuffix(sdURLs, "CameraMicrophone.mp4"); url != "" {
		return url
	}
	if url := firstWithSuffix(sdURLs, ".mp4"); url != "" {
		return url
	}
	return firstWithSuffix(streamURLs, ".mp4")
}

func sortedValues(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	vals := make([]string, 0, len(m))
	for _, k := range keys {
		vals = append(vals, m[k])
	}
	return vals
}

func firstWithSuffix(urls []string, suffix string) string {
	for _, u := range urls {
		if u != "" && strings.HasSuffix(u, suffix) {
			return u
		}
	}
	return ""
}

// scrapeMetadata fills lec from the info box next to the lecture image.
// Missing fields stay zero; the page layout has drifted before and partial
// metadata is still worth storing.
func scrapeMetadata(doc *goquery.Document, lec *Lecture) {
	box := doc.Find("img.box.nopad.lecture-img").Parent()
	if box.Length() == 0 {
		return
	}

	lec.Title = strings.TrimSpace(box.Find("h3").First().Text())

	if a := box.Find("h5 a[href]").First(); a.Length() > 0 {
		lec.SeriesName = strings.TrimSpace(a.Text())
		if href, ok := a.Attr("href"); ok {
			if m := seriesHrefRe.FindStringSubmatch(href); m != nil {
				lec.SeriesID, _ = strconv.ParseInt(m[1], 10, 64)
			}
		}
	}

	box.Find("a[href]").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		href, _ := a.Attr("href")
		m := lecturerHrefRe.FindStringSubmatch(href)
		if m == nil {
			return true
		}
		lec.LecturerName = strings.TrimSpace(a.Text())
		lec.LecturerID, _ = strconv.ParseInt(m[1], 10, 64)
		return false
	})

	if inner, err := box.Html(); err == nil {
		lec.Date = findField(inner, "Date")
		lec.Language = findField(inner, "Language")
		lec.Duration = findField(inner, "Duration")
	}
}

// findField matches "Label: value <br" in the info box markup.
func findField(inner, label string) string {
	re := regexp.MustCompile(`(?is)` + regexp.QuoteMeta(label) + `:\s*(.*?)\s*<br`)
	m := re.FindStringSubmatch(inner)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[1])
}
