package builds

import (
	"io"
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// BuildHashLength is the length of a commit prefix used as a build hash.
const BuildHashLength = 11

var (
	buildNumberPattern = regexp.MustCompile(`Build #([0-9]+)`)
	revisionPattern    = regexp.MustCompile(`Revision:\s*(\w+)`)
)

// Index is what the upstream build page says about the latest stable build.
type Index struct {
	BuildNumber string
	BuildHash   string
}

// ParseIndex extracts the build number and commit hash from an upstream
// build page. The commit comes from the first anchor whose href contains
// commitMarker, or failing that from a "Revision: <sha>" table cell.
func ParseIndex(r io.Reader, commitMarker string) (Index, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return Index{}, err
	}

	var idx Index
	var anchorHash, revisionHash string

	walk(doc, func(n *html.Node) {
		if n.Type != html.ElementNode {
			return
		}

		switch n.DataAtom {
		case atom.H1:
			if m := buildNumberPattern.FindStringSubmatch(textContent(n)); m != nil {
				idx.BuildNumber = m[1]
			}
		case atom.A:
			if anchorHash != "" || commitMarker == "" {
				return
			}
			href := attr(n, "href")
			if strings.Contains(href, commitMarker) {
				anchorHash = lastSegment(href)
			}
		case atom.Td:
			if revisionHash != "" {
				return
			}
			if m := revisionPattern.FindStringSubmatch(textContent(n)); m != nil {
				revisionHash = m[1]
			}
		}
	})

	hash := anchorHash
	if hash == "" {
		hash = revisionHash
	}
	if len(hash) > BuildHashLength {
		hash = hash[:BuildHashLength]
	}

	if idx.BuildNumber == "" || !hashPattern.MatchString(hash) {
		return Index{}, ErrNoStableBuild
	}
	idx.BuildHash = hash

	return idx, nil
}

func walk(n *html.Node, visit func(*html.Node)) {
	visit(n)
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, visit)
	}
}

func textContent(n *html.Node) string {
	var sb strings.Builder
	walk(n, func(c *html.Node) {
		if c.Type == html.TextNode {
			sb.WriteString(c.Data)
		}
	})
	return strings.TrimSpace(sb.String())
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func lastSegment(href string) string {
	path := href
	if u, err := url.Parse(href); err == nil {
		path = u.Path
	}
	path = strings.TrimRight(path, "/")
	if i := strings.LastIndex(path, "/"); i >= 0 {
		path = path[i+1:]
	}
	return path
}
