package market

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/url"
	"strings"

	"github.com/DroomDroom-Org/DroomdroomConverter/internal/cacheaside"
)

const sitemapNamespace = "http://www.sitemaps.org/schemas/sitemap/0.9"

type urlSet struct {
	XMLName xml.Name     `xml:"urlset"`
	Xmlns   string       `xml:"xmlns,attr"`
	URLs    []sitemapURL `xml:"url"`
}

type sitemapURL struct {
	Loc        string `xml:"loc"`
	ChangeFreq string `xml:"changefreq,omitempty"`
	Priority   string `xml:"priority,omitempty"`
}

// Sitemap returns the XML sitemap of every coin and its USD converter page
func (s *Service) Sitemap(ctx context.Context) ([]byte, error) {
	body, err := cacheaside.Resolve[string](ctx, s.fetcher, cacheaside.SitemapKey, s.policies.Sitemap,
		func(ctx context.Context) (string, error) {
			tickers, err := s.warehouse.ListTickers(ctx)
			if err != nil {
				return "", internal(err)
			}
			out, err := buildSitemap(s.siteURL, tickers)
			if err != nil {
				return "", internal(err)
			}
			return string(out), nil
		},
	)
	if err != nil {
		return nil, err
	}
	return []byte(body), nil
}

func buildSitemap(siteURL string, tickers []string) ([]byte, error) {
	set := urlSet{Xmlns: sitemapNamespace, URLs: make([]sitemapURL, 0, 2*len(tickers)+1)}
	set.URLs = append(set.URLs, sitemapURL{Loc: siteURL + "/", ChangeFreq: "hourly", Priority: "1.0"})

	for _, ticker := range tickers {
		slug := url.PathEscape(strings.ToLower(ticker))
		set.URLs = append(set.URLs,
			sitemapURL{Loc: siteURL + "/coins/" + slug, ChangeFreq: "hourly", Priority: "0.8"},
			sitemapURL{Loc: siteURL + "/convert/" + slug + "-usd", ChangeFreq: "hourly", Priority: "0.6"},
		)
	}

	body, err := xml.MarshalIndent(set, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal sitemap: %w", err)
	}
	return append([]byte(xml.Header), body...), nil
}
