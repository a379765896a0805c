package main

import (
	"bytes"
	"sort"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
)

// PostItem is a freeform post prepared for display.
type PostItem struct {
	ID        string `json:"id"`
	Content   string `json:"content"`
	CreatedAt string `json:"createdAt"`
	HTML      string `json:"html,omitempty"`
}

// StructuredItem is a named document prepared for display. Name comes from
// the event's d tag.
type StructuredItem struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Content   string `json:"content"`
	CreatedAt string `json:"createdAt"`
	HTML      string `json:"html,omitempty"`
}

// unknownName is the sentinel for structured events missing a d tag.
const unknownName = "unknown"

// extractName returns the second element of the first "d" tag, or the
// sentinel when no such tag exists.
func extractName(evt *Event) string {
	for _, tag := range evt.Tags {
		if len(tag) >= 2 && tag[0] == "d" {
			return tag[1]
		}
	}
	return unknownName
}

func isoTime(unixSeconds int64) string {
	return time.Unix(unixSeconds, 0).UTC().Format(time.RFC3339)
}

func toPostItem(evt *Event) PostItem {
	return PostItem{
		ID:        evt.ID,
		Content:   evt.Content,
		CreatedAt: isoTime(evt.CreatedAt),
	}
}

func toStructuredItem(evt *Event) StructuredItem {
	return StructuredItem{
		ID:        evt.ID,
		Name:      extractName(evt),
		Content:   evt.Content,
		CreatedAt: isoTime(evt.CreatedAt),
	}
}

// sortItemsByRecency stable-sorts structured items newest first. Items with
// equal timestamps keep their relative order, so repeated sorting is
// idempotent. RFC3339 UTC strings compare chronologically.
func sortItemsByRecency(items []StructuredItem) []StructuredItem {
	sorted := make([]StructuredItem, 0, len(items))
	sorted = append(sorted, items...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CreatedAt > sorted[j].CreatedAt
	})
	return sorted
}

// sortPostsByRecency is sortItemsByRecency for freeform posts.
func sortPostsByRecency(items []PostItem) []PostItem {
	sorted := make([]PostItem, 0, len(items))
	sorted = append(sorted, items...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CreatedAt > sorted[j].CreatedAt
	})
	return sorted
}

// newestPerName collapses replaceable-event semantics: for each name keep
// only the most recent item. Input order is preserved for the survivors.
func newestPerName(items []StructuredItem) []StructuredItem {
	newest := make(map[string]string, len(items))
	for _, item := range items {
		if cur, ok := newest[item.Name]; !ok || item.CreatedAt > cur {
			newest[item.Name] = item.CreatedAt
		}
	}
	var out []StructuredItem
	taken := make(map[string]bool, len(newest))
	for _, item := range items {
		if item.CreatedAt == newest[item.Name] && !taken[item.Name] {
			taken[item.Name] = true
			out = append(out, item)
		}
	}
	return out
}

// mergeOptimistic reconciles locally-predicted items with relay-confirmed
// items. For each fetched name, the optimistic item wins only when strictly
// newer; optimistic items the relay has not indexed yet are appended. A slow
// relay response therefore never regresses display to older content.
func mergeOptimistic(optimistic, fetched []StructuredItem) []StructuredItem {
	byName := make(map[string]StructuredItem, len(optimistic))
	for _, item := range optimistic {
		if cur, ok := byName[item.Name]; !ok || item.CreatedAt > cur.CreatedAt {
			byName[item.Name] = item
		}
	}

	merged := make([]StructuredItem, 0, len(fetched)+len(optimistic))
	seen := make(map[string]bool, len(fetched))
	for _, item := range fetched {
		seen[item.Name] = true
		if opt, ok := byName[item.Name]; ok && opt.CreatedAt > item.CreatedAt {
			merged = append(merged, opt)
			continue
		}
		merged = append(merged, item)
	}
	for _, item := range optimistic {
		if !seen[item.Name] && byName[item.Name].ID == item.ID {
			merged = append(merged, item)
			seen[item.Name] = true
		}
	}
	return merged
}

// markdownRenderer turns item content into sanitized HTML.
type markdownRenderer struct {
	md     goldmark.Markdown
	policy *bluemonday.Policy
}

func newMarkdownRenderer() *markdownRenderer {
	return &markdownRenderer{
		md:     goldmark.New(),
		policy: bluemonday.UGCPolicy(),
	}
}

// Render converts markdown to HTML and sanitizes it. On conversion failure
// the raw content is returned sanitized as plain text.
func (r *markdownRenderer) Render(content string) string {
	var buf bytes.Buffer
	if err := r.md.Convert([]byte(content), &buf); err != nil {
		return string(r.policy.SanitizeBytes([]byte(content)))
	}
	return string(r.policy.SanitizeBytes(buf.Bytes()))
}
