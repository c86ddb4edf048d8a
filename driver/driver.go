package driver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"regexp"
	"strings"
	"text/template"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/net/html"
	"golang.org/x/time/rate"

	"github.com/kiwix/warc2zim-go/encoding"
	"github.com/kiwix/warc2zim-go/rewrite"
	"github.com/kiwix/warc2zim-go/warcsource"
	"github.com/kiwix/warc2zim-go/zimpath"
	"github.com/kiwix/warc2zim-go/zimwriter"
)

const customCSSURL = "https://warc2zim.kiwix.app/custom.css"

const recommendedMaxTitleLength = 30

var htmlTypes = map[string]bool{
	"text/html":             true,
	"application/xhtml":     true,
	"application/xhtml+xml": true,
}

// Converter runs the two-pass conversion: gatherInformation fills in
// title/language/favicon from the main page before any ZIM writing
// starts, Run then streams every record through the rewrite package
// into a zimwriter.Writer.
type Converter struct {
	cfg Config
	log zerolog.Logger

	mainURL      string
	title        string
	language     string
	faviconURL   string
	illustration []byte

	indexedURLs map[string]struct{}
	warcURLs    map[string]struct{}
	revisits    map[string]string // normalized url -> normalized target

	jsModules *rewrite.JSModuleSet

	httpClient *http.Client
	limiter    *rate.Limiter

	headTemplate   *template.Template
	wombatTemplate *template.Template
	statics        StaticAssets
	cssInsert      string

	writtenRecords, totalRecords int
	failedItems                  []string
}

// StaticAssets bundles the runtime support files shipped under a
// statics/ tree and emitted at archive path prefix "_zim_static/": the
// wombat.js sandbox that rewrite/js.go's rewritten
// scripts call into, the __wb_module_decl.js module shim, and a fallback
// illustration PNG used when no favicon could be found anywhere. Any
// field left nil/empty is simply not emitted, useful for tests.
type StaticAssets struct {
	WombatJS             []byte
	ModuleDeclJS         []byte
	FallbackIllustration []byte
}

// New builds a Converter for cfg. headTemplate renders the snippet
// spliced into every HTML page's <head> (templates/head_insert.html);
// wombatTemplate renders the playback-side fuzzy-rule static asset
// (templates/wombat_setup.js), fed zimpath.FuzzyRules() at render time.
// Either may be nil (no head splice / no static asset, respectively),
// useful for tests.
func New(cfg Config, headTemplate, wombatTemplate *template.Template, statics StaticAssets, logger zerolog.Logger) (*Converter, error) {
	mainURL := cfg.MainURL
	if mainURL != "" {
		if u, err := url.Parse(mainURL); err == nil && u.Path == "" {
			u.Path = "/"
			mainURL = u.String()
		}
		normalized, err := zimpath.Normalize(mainURL)
		if err != nil {
			return nil, fmt.Errorf("driver: normalize main url: %w", err)
		}
		mainURL = normalized
	}

	c := &Converter{
		cfg:            cfg,
		log:            logger,
		mainURL:        mainURL,
		title:          cfg.Title,
		language:       cfg.Language,
		faviconURL:     cfg.FaviconURL,
		indexedURLs:    map[string]struct{}{},
		warcURLs:       map[string]struct{}{},
		revisits:       map[string]string{},
		jsModules:      rewrite.NewJSModuleSet(),
		httpClient:     &http.Client{Timeout: 10 * time.Second},
		limiter:        rate.NewLimiter(rate.Limit(2), 1),
		headTemplate:   headTemplate,
		wombatTemplate: wombatTemplate,
		statics:        statics,
	}
	if cfg.CustomCSS != "" {
		c.cssInsert = fmt.Sprintf(`<link type="text/css" href="%s" rel="Stylesheet" />`, customCSSURL)
	}
	return c, nil
}

// Run performs the full conversion: gather info, open the writer,
// stream every WARC record through the rewriter, then resolve revisit
// aliases and finish the archive.
func (c *Converter) Run(ctx context.Context, w zimwriter.Writer) error {
	if len(c.cfg.Inputs) == 0 {
		return fmt.Errorf("driver: no WARC inputs given")
	}

	if err := c.cfg.validateMetadataLengths(); err != nil {
		return err
	}

	if err := c.gatherInformation(); err != nil {
		return err
	}

	if c.title == "" {
		c.title = "Untitled"
	}
	if len(c.title) > recommendedMaxTitleLength {
		c.title = string([]rune(c.title)[:recommendedMaxTitleLength-1]) + "…"
	}
	if c.language == "" {
		c.language = "eng"
	}

	if err := c.retrieveIllustration(ctx); err != nil {
		c.log.Warn().Err(err).Msg("unable to retrieve favicon, continuing without one")
	}
	if len(c.illustration) == 0 && len(c.statics.FallbackIllustration) > 0 {
		c.log.Debug().Msg("no favicon found in WARC or live, using bundled fallback illustration")
		c.illustration = c.statics.FallbackIllustration
	}

	if err := w.SetMainPath(c.mainURL); err != nil {
		return err
	}
	if err := w.ConfigMetadata(zimwriter.Metadata{
		Name: c.cfg.Name, Language: c.language, Title: c.title,
		Description: c.cfg.Description, LongDescription: c.cfg.LongDescription,
		Creator: c.cfg.Creator, Publisher: c.cfg.Publisher,
		Date: time.Now().Format("2006-01-02"), Illustration: c.illustration,
		Tags: strings.Join(c.cfg.normalizedTags(), ";"), Source: c.cfg.Source,
		Scraper: c.scraperName(),
	}); err != nil {
		return err
	}

	if err := c.addStaticAssets(w); err != nil {
		return err
	}
	if err := c.addWombatSetup(w); err != nil {
		return err
	}

	records, err := c.allRecords()
	if err != nil {
		return err
	}
	defer records.Close()

	for {
		rec, err := records.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return err
		}
		c.totalRecords++
		if err := c.addItemForRecord(rec, w); err != nil {
			c.log.Warn().Err(err).Str("url", rec.TargetURI).Msg("skipping record")
			c.failedItems = append(c.failedItems, rec.TargetURI)
			if !c.cfg.ContinueOnError {
				return fmt.Errorf("driver: processing %s: %w", rec.TargetURI, err)
			}
		}
		if err := c.writeProgress(); err != nil {
			c.log.Warn().Err(err).Msg("unable to write progress file")
		}
	}

	if err := c.writeFailedItems(); err != nil {
		c.log.Warn().Err(err).Msg("unable to write failed-items file")
	}

	for normalizedURL, target := range c.revisits {
		if _, ok := c.indexedURLs[normalizedURL]; ok {
			continue
		}
		if _, ok := c.indexedURLs[target]; !ok {
			// the record the revisit refers to was never actually written
			// (filtered, failed, or simply absent); an alias only gets
			// emitted if its target was.
			c.log.Debug().Str("from", normalizedURL).Str("to", target).Msg("alias target was never emitted, skipping")
			continue
		}
		c.log.Debug().Str("from", normalizedURL).Str("to", target).Msg("adding alias")
		if err := w.AddAlias(normalizedURL, "", target); err != nil {
			if errors.Is(err, zimwriter.ErrDuplicateEntry) {
				c.log.Debug().Err(err).Msg("ignoring duplicate alias")
				continue
			}
			return err
		}
		c.indexedURLs[normalizedURL] = struct{}{}
	}

	if err := c.writeProgress(); err != nil {
		c.log.Warn().Err(err).Msg("unable to write progress file")
	}

	c.log.Debug().Int("records", c.totalRecords).Int("written", c.writtenRecords).Msg("conversion complete")
	return w.Finish()
}

// addStaticAssets writes the fixed runtime support files (wombat.js,
// __wb_module_decl.js) under _zim_static/, the other half of the
// contract rewrite/js.go's rewritten scripts call into at replay time.
// The fallback illustration isn't written here; it's consumed directly
// as zimwriter.Metadata.Illustration.
func (c *Converter) addStaticAssets(w zimwriter.Writer) error {
	assets := []struct {
		path    string
		content []byte
	}{
		{"_zim_static/wombat.js", c.statics.WombatJS},
		{"_zim_static/__wb_module_decl.js", c.statics.ModuleDeclJS},
	}
	for _, a := range assets {
		if len(a.content) == 0 {
			continue
		}
		if err := w.AddItem(zimwriter.Item{
			Path:     a.path,
			MimeType: "text/javascript",
			Content:  a.content,
		}); err != nil {
			return fmt.Errorf("driver: add static asset %s: %w", a.path, err)
		}
	}
	return nil
}

// addWombatSetup renders and writes the playback-side fuzzy-rule static
// asset.
func (c *Converter) addWombatSetup(w zimwriter.Writer) error {
	if c.wombatTemplate == nil {
		return nil
	}
	var buf bytes.Buffer
	if err := c.wombatTemplate.Execute(&buf, struct{ FuzzyRules []zimpath.FuzzyRule }{FuzzyRules: zimpath.FuzzyRules()}); err != nil {
		return fmt.Errorf("driver: render wombat_setup.js: %w", err)
	}
	return w.AddItem(zimwriter.Item{
		Path:     "_zim_static/wombat_setup.js",
		MimeType: "text/javascript",
		Content:  buf.Bytes(),
	})
}

// scraperName is the Scraper metadata field, with the user's suffix
// appended verbatim.
func (c *Converter) scraperName() string {
	return "warc2zim-go" + c.cfg.ScraperSuffix
}

// writeFailedItems writes Config.FailedItemsFile, one failed URL per
// line.
func (c *Converter) writeFailedItems() error {
	if c.cfg.FailedItemsFile == "" || len(c.failedItems) == 0 {
		return nil
	}
	f, err := os.Create(c.cfg.FailedItemsFile)
	if err != nil {
		return err
	}
	defer f.Close()
	for _, u := range c.failedItems {
		if _, err := fmt.Fprintln(f, u); err != nil {
			return err
		}
	}
	return nil
}

// writeProgress overwrites Config.ProgressFile, a small JSON blob some
// callers poll for a progress bar.
func (c *Converter) writeProgress() error {
	if c.cfg.ProgressFile == "" {
		return nil
	}
	f, err := os.Create(c.cfg.ProgressFile)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(struct {
		Total   int `json:"total"`
		Written int `json:"written"`
	}{Total: c.totalRecords, Written: c.writtenRecords})
}

// allRecords iterates the custom-CSS synthetic record (if any) followed
// by every real WARC record.
func (c *Converter) allRecords() (warcsource.Iterator, error) {
	base, err := warcsource.Open(c.cfg.Inputs)
	if err != nil {
		return nil, err
	}
	if c.cfg.CustomCSS == "" {
		return base, nil
	}
	css, err := c.customCSSRecord()
	if err != nil {
		return nil, err
	}
	return &prependIterator{first: css, rest: base}, nil
}

type prependIterator struct {
	first *warcsource.Record
	rest  warcsource.Iterator
}

func (p *prependIterator) Next() (*warcsource.Record, error) {
	if p.first != nil {
		r := p.first
		p.first = nil
		return r, nil
	}
	return p.rest.Next()
}

func (p *prependIterator) Close() error { return p.rest.Close() }

// customCSSRecord builds a synthetic "response" record for the
// user-supplied custom stylesheet, fetched live (http/https) or read
// from disk, so it flows through the same dedup/rewrite path as a
// captured stylesheet.
func (c *Converter) customCSSRecord() (*warcsource.Record, error) {
	var payload []byte
	if strings.HasPrefix(c.cfg.CustomCSS, "http://") || strings.HasPrefix(c.cfg.CustomCSS, "https://") {
		body, err := c.fetch(context.Background(), c.cfg.CustomCSS)
		if err != nil {
			return nil, fmt.Errorf("driver: fetch custom css: %w", err)
		}
		payload = body
	} else {
		body, err := os.ReadFile(c.cfg.CustomCSS)
		if err != nil {
			return nil, fmt.Errorf("driver: read custom css: %w", err)
		}
		payload = body
	}
	return &warcsource.Record{
		Type:           warcsource.RecordResponse,
		TargetURI:      customCSSURL,
		HTTPStatusCode: 200,
		Content:        payload,
	}, nil
}

// gatherInformation scans every record once to build the known-URL set,
// find the main page and, from it, the title/language/favicon.
func (c *Converter) gatherInformation() error {
	records, err := warcsource.Open(c.cfg.Inputs)
	if err != nil {
		return err
	}
	defer records.Close()

	mainPageFound := false
	for {
		rec, err := records.Next()
		if err != nil {
			break
		}
		normalizedURL, err := zimpath.Normalize(rec.TargetURI)
		if err != nil {
			continue
		}
		c.warcURLs[normalizedURL] = struct{}{}

		if mainPageFound {
			continue
		}
		if rec.Type == warcsource.RecordRevisit {
			continue
		}

		mime := rec.MimeType()
		if c.mainURL == "" && mime == "text/html" && len(rec.Content) != 0 &&
			(rec.HTTPHeaders == nil || rec.HTTPStatusCode == 200) {
			c.mainURL = normalizedURL
		}

		if zimpath.WithoutFragment(c.mainURL) != normalizedURL {
			continue
		}

		if !htmlTypes[mime] {
			c.log.Warn().Str("mime", mime).Msg("main page is not HTML, skipping favicon/language detection")
			mainPageFound = true
			continue
		}

		if c.title == "" {
			c.title = extractTitle(rec.Content)
		}
		c.findIconAndLanguage(rec.Content)
		mainPageFound = true
	}

	if !mainPageFound {
		return fmt.Errorf("driver: unable to find WARC record for main page %q", c.mainURL)
	}
	return nil
}

var titleRx = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)

func extractTitle(content []byte) string {
	m := titleRx.FindSubmatch(content)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(html.UnescapeString(string(m[1])))
}

// findIconAndLanguage runs a lenient tree parse looking for
// <link rel=icon>, <html lang>, and the W3C and SEO language meta
// conventions.
func (c *Converter) findIconAndLanguage(content []byte) {
	doc, err := html.Parse(bytes.NewReader(content))
	if err != nil {
		return
	}

	var walk func(*html.Node)
	foundIcon, foundLang := c.faviconURL != "", c.language != ""
	walk = func(n *html.Node) {
		if foundIcon && foundLang {
			return
		}
		if n.Type == html.ElementNode {
			switch n.Data {
			case "link":
				if !foundIcon && isIconRel(attr(n, "rel")) {
					if href := attr(n, "href"); href != "" {
						c.faviconURL = resolveAgainstMain(c.mainURL, href)
						foundIcon = true
					}
				}
			case "html":
				if !foundLang {
					if lang := attr(n, "lang"); lang != "" {
						c.language = lang
						foundLang = true
					}
				}
			case "meta":
				if !foundLang {
					if strings.EqualFold(attr(n, "http-equiv"), "content-language") {
						if v := attr(n, "content"); v != "" {
							c.language = v
							foundLang = true
						}
					} else if strings.EqualFold(attr(n, "name"), "language") {
						if v := attr(n, "content"); v != "" {
							c.language = v
							foundLang = true
						}
					}
				}
			}
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(doc)

	if c.faviconURL == "" {
		c.faviconURL = resolveAgainstMain(c.mainURL, "/favicon.ico")
	}
}

func isIconRel(rel string) bool {
	rel = strings.ToLower(strings.TrimSpace(rel))
	return rel == "icon" || rel == "shortcut icon"
}

func attr(n *html.Node, name string) string {
	for _, a := range n.Attr {
		if a.Key == name {
			return a.Val
		}
	}
	return ""
}

func resolveAgainstMain(mainURL, ref string) string {
	base, err := url.Parse("https://" + mainURL)
	if err != nil {
		return ref
	}
	refURL, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return base.ResolveReference(refURL).String()
}

// retrieveIllustration looks for the favicon inside the WARC first, then
// falls back to a live, rate-limited fetch. The bytes are stored as-is:
// neither this package nor zimwriter.DirWriter resizes or converts them
// to the 48x48 PNG convention.
func (c *Converter) retrieveIllustration(ctx context.Context) error {
	if c.faviconURL == "" {
		return nil
	}

	records, err := warcsource.Open(c.cfg.Inputs)
	if err == nil {
		defer records.Close()
		for {
			rec, err := records.Next()
			if err != nil {
				break
			}
			if rec.Type == warcsource.RecordRevisit || rec.TargetURI != c.faviconURL {
				continue
			}
			if rec.HTTPStatusCode != 0 && rec.HTTPStatusCode != 200 {
				c.log.Warn().Msg("WARC record for favicon is unusable, skipping")
				return nil
			}
			c.illustration = rec.Content
			return nil
		}
	}

	body, err := c.fetch(ctx, c.faviconURL)
	if err != nil {
		c.log.Warn().Err(err).Msg("unable to retrieve favicon, using none")
		return nil
	}
	c.illustration = body
	return nil
}

// fetch does a single rate-limited GET, waiting on the limiter before
// every request the way a polite scraper would.
func (c *Converter) fetch(ctx context.Context, rawURL string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("driver: fetch %s: status %d", rawURL, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// addItemForRecord handles one record: revisit aliasing, self-redirect
// and duplicate-URL skipping, include-domain filtering, mode detection
// and rewriting, then writes the resulting item.
func (c *Converter) addItemForRecord(rec *warcsource.Record, w zimwriter.Writer) error {
	if rec.TargetURI == "" {
		return nil
	}
	if !c.domainIncluded(rec.TargetURI) {
		return nil
	}

	normalizedURL, err := zimpath.Normalize(rec.TargetURI)
	if err != nil || normalizedURL == "" {
		return nil
	}

	if rec.Type == warcsource.RecordRevisit {
		if rec.RefersToURI == "" {
			return nil
		}
		target, err := zimpath.Normalize(rec.RefersToURI)
		if err != nil || target == "" || target == normalizedURL {
			return nil
		}
		if _, exists := c.revisits[normalizedURL]; !exists {
			c.revisits[normalizedURL] = target
		}
		return nil
	}

	if _, exists := c.indexedURLs[normalizedURL]; exists {
		return nil
	}

	if isRedirectStatus(rec.HTTPStatusCode) && rec.HTTPHeaders != nil {
		if location := rec.HTTPHeaders.Get("Location"); location != "" {
			if absolute, err := resolveURLSimple(rec.TargetURI, location); err == nil {
				if target, err := zimpath.Normalize(absolute); err == nil && target == normalizedURL {
					return nil
				}
			}
		}
	}

	mime := rec.MimeType()
	mode := rewrite.DetectMode(mime, "GET", normalizedURL, rec.TargetURI)

	content := rec.Content
	title := ""

	if mode != rewrite.ModeNone && len(content) > 0 {
		decoded, err := encoding.ToString(content, encoding.HeaderEncoding(rec.ContentType()))
		if err != nil {
			return fmt.Errorf("driver: decode %s: %w", rec.TargetURI, err)
		}
		urlRewriter, err := rewrite.NewArticleURLRewriter(rec.TargetURI, c.warcURLs)
		if err != nil {
			return fmt.Errorf("driver: build url rewriter for %s: %w", rec.TargetURI, err)
		}
		ar := rewrite.NewArticleRewriter(normalizedURL, rec.TargetURI, urlRewriter, c.jsModules)
		result, err := ar.Rewrite([]byte(decoded.Text), mode, c.headTemplate, c.cssInsert)
		if err != nil {
			return fmt.Errorf("driver: rewrite %s: %w", rec.TargetURI, err)
		}
		content = result.Content
		title = result.Title
	}

	if err := w.AddItem(zimwriter.Item{Path: normalizedURL, MimeType: mime, Content: content, Title: title}); err != nil {
		if errors.Is(err, zimwriter.ErrDuplicateEntry) {
			c.log.Debug().Err(err).Str("url", rec.TargetURI).Msg("ignoring duplicate entry")
			return nil
		}
		return err
	}
	c.indexedURLs[normalizedURL] = struct{}{}
	c.writtenRecords++
	return nil
}

// isRedirectStatus reports whether code is a 3xx redirect eligible for
// the self-redirect skip. 300 (Multiple Choices) is not a redirect.
func isRedirectStatus(code int) bool {
	return code > 300 && code < 400
}

func resolveURLSimple(base, ref string) (string, error) {
	baseURL, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	refURL, err := url.Parse(ref)
	if err != nil {
		return "", err
	}
	return baseURL.ResolveReference(refURL).String(), nil
}

// domainIncluded reports whether targetURI's host matches one of
// IncludeDomains (or any subdomain of one); an empty IncludeDomains list
// means every domain is included.
func (c *Converter) domainIncluded(targetURI string) bool {
	if len(c.cfg.IncludeDomains) == 0 {
		return true
	}
	u, err := url.Parse(targetURI)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	for _, d := range c.cfg.IncludeDomains {
		d = strings.ToLower(d)
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}
