package importer

import (
	"bufio"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/google/uuid"

	"github.com/brevia-ai/brevia-sync/internal/catalog"
	"github.com/brevia-ai/brevia-sync/internal/index"
)

// SitemapOptions configures a sitemap import run.
type SitemapOptions struct {
	// Source is a local file path or an http(s) URL of the sitemap.
	Source string
	// Prefix, when set, restricts the import to URLs starting with it.
	Prefix string
	// BlacklistPath points to a text file with one excluded URL per line.
	BlacklistPath string
	// Collection is the unique collection name.
	Collection string
}

type sitemapURLSet struct {
	URLs []struct {
		Loc string `xml:"loc"`
	} `xml:"url"`
}

// ImportSitemap parses an XML sitemap and creates one live link document
// per new URL, carrying the link metadata and the selector resolved from
// the collection's link load-option rules. URLs already present in the
// collection, blacklisted, or outside the prefix are skipped.
func (i *Importer) ImportSitemap(ctx context.Context, opts SitemapOptions) (int, error) {
	content, err := readSource(ctx, opts.Source)
	if err != nil {
		return 0, fmt.Errorf("reading sitemap %s: %w", opts.Source, err)
	}

	var set sitemapURLSet
	if err := xml.Unmarshal(content, &set); err != nil {
		return 0, fmt.Errorf("parsing sitemap %s: %w", opts.Source, err)
	}
	if len(set.URLs) == 0 {
		return 0, fmt.Errorf("no URLs found in sitemap: %s", opts.Source)
	}

	coll, _, err := i.ResolveCollection(ctx, opts.Collection)
	if err != nil {
		return 0, err
	}

	current, err := i.currentURLs(coll.ID)
	if err != nil {
		return 0, err
	}
	blacklist, err := loadBlacklist(opts.BlacklistPath)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, entry := range set.URLs {
		loc := strings.TrimSpace(entry.Loc)
		if loc == "" || skipURL(loc, opts.Prefix, current, blacklist) {
			continue
		}
		i.logger.Info("adding link", "url", loc)

		doc := catalog.Document{
			ID:     uuid.New().String(),
			Kind:   catalog.KindLink,
			Title:  loc,
			URL:    loc,
			Status: catalog.StatusOn,
			Extra: &catalog.Extra{
				Metadata: map[string]any{"type": "links", "url": loc},
			},
		}
		if selector := index.SelectorForURL(loc, coll.LinkLoadOptions); selector != "" {
			doc.Extra.Options = map[string]any{"selector": selector}
		}

		if err := i.store.PutDocument(doc); err != nil {
			return count, fmt.Errorf("saving link %s: %w", loc, err)
		}
		if err := i.store.Link(coll.ID, doc.ID); err != nil {
			return count, fmt.Errorf("linking %s: %w", loc, err)
		}
		if err := i.index.AddDocument(ctx, &coll, &doc, false); err != nil {
			return count, fmt.Errorf("indexing link %s: %w", loc, err)
		}
		count++
	}
	return count, nil
}

func skipURL(loc, prefix string, current, blacklist map[string]bool) bool {
	if current[loc] || blacklist[loc] {
		return true
	}
	if decoded, err := url.QueryUnescape(loc); err == nil && current[decoded] {
		return true
	}
	return prefix != "" && !strings.HasPrefix(loc, prefix)
}

func (i *Importer) currentURLs(collectionID string) (map[string]bool, error) {
	docs, err := i.store.DocumentsForCollection(collectionID)
	if err != nil {
		return nil, fmt.Errorf("listing collection documents: %w", err)
	}
	urls := map[string]bool{}
	for _, d := range docs {
		if d.URL != "" {
			urls[d.URL] = true
		}
	}
	return urls, nil
}

func loadBlacklist(path string) (map[string]bool, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening blacklist file: %w", err)
	}
	defer f.Close()

	urls := map[string]bool{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			urls[line] = true
		}
	}
	return urls, scanner.Err()
}

func readSource(ctx context.Context, source string) ([]byte, error) {
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
		if err != nil {
			return nil, err
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
		}
		return io.ReadAll(resp.Body)
	}
	return os.ReadFile(source)
}
