package jutsu

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var (
	// ErrExtraction means the page markup did not have the expected shape.
	ErrExtraction = errors.New("unexpected page markup")
	// ErrUnknownQualityTier means a media source carried a resolution outside the known tiers.
	ErrUnknownQualityTier = errors.New("unknown quality tier")
)

const (
	showMarkerClass    = "all_anime_global"
	episodeMarkerClass = "short-btn"
	resolutionAttr     = "res"
	sourceAttr         = "src"
)

// Extractor turns site HTML into entities. It holds no state besides the origin
// used to resolve relative links, so every method is pure.
type Extractor struct {
	origin *url.URL
}

// NewExtractor creates an Extractor resolving relative links against origin.
func NewExtractor(origin string) (*Extractor, error) {
	u, err := url.Parse(origin)
	if err != nil {
		return nil, fmt.Errorf("failed to url.Parse: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("origin %q must be absolute", origin)
	}
	return &Extractor{origin: u}, nil
}

// Shows extracts the show entries of a listing page.
// A marked node without an anchor child or without text fails the whole call.
func (x *Extractor) Shows(html string) ([]Show, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to goquery.NewDocumentFromReader: %w", err)
	}

	var shows []Show
	var extractErr error
	doc.Find("." + showMarkerClass).EachWithBreak(func(i int, s *goquery.Selection) bool {
		href, ok := s.ChildrenFiltered("a").First().Attr("href")
		if !ok || strings.TrimSpace(href) == "" {
			extractErr = fmt.Errorf("%w: show node %d has no link", ErrExtraction, i)
			return false
		}
		name := firstLine(s.Text())
		if name == "" {
			extractErr = fmt.Errorf("%w: show node %d has no name", ErrExtraction, i)
			return false
		}
		link, err := x.resolve(href)
		if err != nil {
			extractErr = fmt.Errorf("%w: show node %d: %v", ErrExtraction, i, err)
			return false
		}
		shows = append(shows, Show{Name: name, URL: link, Episodes: []Episode{}})
		return true
	})
	if extractErr != nil {
		return nil, extractErr
	}

	return shows, nil
}

// Episodes extracts the episode buttons of a show page. Qualities are left empty.
func (x *Extractor) Episodes(html string) ([]Episode, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to goquery.NewDocumentFromReader: %w", err)
	}

	episodes := []Episode{}
	var extractErr error
	doc.Find("." + episodeMarkerClass).EachWithBreak(func(i int, s *goquery.Selection) bool {
		href, ok := s.Attr("href")
		if !ok {
			extractErr = fmt.Errorf("%w: episode node %d has no link", ErrExtraction, i)
			return false
		}
		link, err := x.resolve(href)
		if err != nil {
			extractErr = fmt.Errorf("%w: episode node %d: %v", ErrExtraction, i, err)
			return false
		}
		episodes = append(episodes, Episode{
			Name:      strings.TrimSpace(s.Text()),
			URL:       link,
			Qualities: Variants{},
		})
		return true
	})
	if extractErr != nil {
		return nil, extractErr
	}

	return episodes, nil
}

// Variants extracts the media sources of an episode page.
// An unknown resolution fails the call instead of being skipped.
func (x *Extractor) Variants(html string) (Variants, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to goquery.NewDocumentFromReader: %w", err)
	}

	var variants []Variant
	var extractErr error
	doc.Find("source").EachWithBreak(func(i int, s *goquery.Selection) bool {
		res, ok := s.Attr(resolutionAttr)
		if !ok {
			extractErr = fmt.Errorf("%w: source node %d has no resolution", ErrExtraction, i)
			return false
		}
		src, ok := s.Attr(sourceAttr)
		if !ok || strings.TrimSpace(src) == "" {
			extractErr = fmt.Errorf("%w: source node %d has no url", ErrExtraction, i)
			return false
		}
		tier, err := ParseTier(strings.TrimSpace(res))
		if err != nil {
			extractErr = err
			return false
		}
		link, err := x.resolve(src)
		if err != nil {
			extractErr = fmt.Errorf("%w: source node %d: %v", ErrExtraction, i, err)
			return false
		}
		variants = append(variants, Variant{Tier: tier, URL: link})
		return true
	})
	if extractErr != nil {
		return nil, extractErr
	}

	return NewVariants(variants...), nil
}

func (x *Extractor) resolve(ref string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return "", err
	}
	return x.origin.ResolveReference(u).String(), nil
}

func firstLine(text string) string {
	for _, line := range strings.Split(strings.TrimSpace(text), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			return line
		}
	}
	return ""
}
