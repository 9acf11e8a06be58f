package graph

import (
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

var (
	// Matches [[Target]], [[Target|Alias]], and [[Target#Header]].
	wikilinkPattern = regexp.MustCompile(`\[\[([^\]|#]+)(#[^\]|]+)?(\|[^\]]+)?\]\]`)

	// Matches #tag and #nested/tag, same word-boundary rule Obsidian uses.
	tagPattern = regexp.MustCompile(`(?:^|\s)#([a-zA-Z0-9_/-]+)`)

	// Reuses the chunker's frontmatter delimiter convention.
	frontmatterPattern = regexp.MustCompile(`(?s)^---\n(.+?)\n---\n*`)
)

// Link is a parsed wikilink, optionally pointing at a specific header
// within the target note.
type Link struct {
	Target string
	Header string
}

// ParseWikilinks extracts every [[...]] reference from content.
func ParseWikilinks(content string) []Link {
	matches := wikilinkPattern.FindAllStringSubmatch(content, -1)
	links := make([]Link, 0, len(matches))
	for _, m := range matches {
		target := strings.TrimSpace(m[1])
		header := strings.TrimPrefix(strings.TrimSpace(m[2]), "#")
		links = append(links, Link{Target: target, Header: header})
	}
	return links
}

// ParseTags extracts every #tag reference from content.
func ParseTags(content string) []string {
	matches := tagPattern.FindAllStringSubmatch(content, -1)
	seen := make(map[string]bool, len(matches))
	var tags []string
	for _, m := range matches {
		tag := m[1]
		if !seen[tag] {
			seen[tag] = true
			tags = append(tags, tag)
		}
	}
	return tags
}

// ParseFrontmatter splits YAML frontmatter off the front of content and
// decodes it, returning the remaining body. A note with no frontmatter
// returns an empty map and the content unchanged.
func ParseFrontmatter(content string) (map[string]any, string) {
	match := frontmatterPattern.FindStringSubmatch(content)
	if match == nil {
		return map[string]any{}, content
	}

	var fm map[string]any
	if err := yaml.Unmarshal([]byte(match[1]), &fm); err != nil || fm == nil {
		fm = map[string]any{}
	}
	body := content[len(match[0]):]
	return fm, body
}

// BuildEdges derives the graph edges a note with the given path and
// content contributes: one Wikilink edge per [[link]] (Header set when
// the link targets a specific section), and one Tag edge per #tag,
// pointed at a synthetic "tag:<name>" node so notes sharing a tag are
// reachable from one another within a bounded hop count.
func BuildEdges(path, content string) []*Edge {
	var edges []*Edge

	for _, link := range ParseWikilinks(content) {
		typ := Wikilink
		if link.Header != "" {
			typ = Header
		}
		edges = append(edges, &Edge{Source: path, Target: link.Target, Type: typ})
	}

	for _, tag := range ParseTags(content) {
		edges = append(edges, &Edge{Source: path, Target: "tag:" + tag, Type: Tag})
	}

	return edges
}
