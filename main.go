package main

import (
	"bufio"
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/template"
	"time"

	"github.com/pmezard/go-difflib/difflib"
	"github.com/urfave/cli/v2"

	"github.com/kiwix/warc2zim-go/driver"
	"github.com/kiwix/warc2zim-go/internal/zlog"
	"github.com/kiwix/warc2zim-go/zimwriter"
)

//go:embed templates/head_insert.html templates/wombat_setup.js
var templateFS embed.FS

//go:embed statics/wombat.js statics/__wb_module_decl.js statics/fallback.png
var staticsFS embed.FS

func main() {
	app := &cli.App{
		Name:  "warc2zim-go",
		Usage: "Convert WARC files into an offline-browsable ZIM-shaped archive",
		Commands: []*cli.Command{
			convertCommand,
			listCommand,
			showCommand,
			diffCommand,
		},
	}
	if err := app.Run(os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var convertCommand = &cli.Command{
	Name:      "convert",
	Usage:     "convert one or more WARC files into an archive directory",
	ArgsUsage: "input.warc [input2.warc ...]",
	Action:    doConvert,
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "name", Required: true, Usage: "short machine-readable archive name"},
		&cli.StringFlag{Name: "output", Value: "/output", Usage: "output directory"},
		&cli.StringFlag{Name: "zim-file", Usage: `output filename template, "{name}"/"{period}" substituted`},
		&cli.StringFlag{Name: "url", Usage: "URL of the main page"},
		&cli.StringSliceFlag{Name: "include-domains", Usage: "restrict captured items to these domains (repeatable)"},
		&cli.StringFlag{Name: "favicon", Usage: "favicon URL"},
		&cli.StringFlag{Name: "custom-css", Usage: "URL or filesystem path to an extra stylesheet"},
		&cli.StringFlag{Name: "title", Usage: "archive title"},
		&cli.StringFlag{Name: "description", Usage: "short description, at most 30 characters"},
		&cli.StringFlag{Name: "long-description", Usage: "long description, at most 4000 characters"},
		&cli.StringFlag{Name: "tags", Usage: "\";\"-separated tag list"},
		&cli.StringFlag{Name: "lang", Usage: "ISO-639-3 language code"},
		&cli.StringFlag{Name: "publisher", Usage: "publisher name"},
		&cli.StringFlag{Name: "creator", Usage: "creator name"},
		&cli.StringFlag{Name: "source", Usage: "source URL or description"},
		&cli.StringFlag{Name: "progress-file", Usage: "write a JSON progress report to this path"},
		&cli.StringFlag{Name: "scraper-suffix", Usage: "appended to the Scraper metadata field"},
		&cli.BoolFlag{Name: "continue-on-error", Usage: "keep converting after a record fails to rewrite"},
		&cli.StringFlag{Name: "failed-items", Usage: "write URLs that failed to convert to this path"},
		&cli.BoolFlag{Name: "disable-metadata-checks", Usage: "skip description/long-description length validation"},
		&cli.BoolFlag{Name: "verbose"},
	},
}

func doConvert(c *cli.Context) error {
	inputs := c.Args().Slice()
	logger := zlog.WithComponent(zlog.Configure(c.Bool("verbose")), "convert")
	if len(inputs) == 0 {
		logger.Info().Msg("no inputs given, nothing to do")
		os.Exit(100)
	}

	var tags []string
	if t := c.String("tags"); t != "" {
		tags = strings.Split(t, ";")
	}

	cfg := driver.Config{
		Inputs:                inputs,
		Output:                c.String("output"),
		Name:                  c.String("name"),
		Title:                 c.String("title"),
		Description:           c.String("description"),
		LongDescription:       c.String("long-description"),
		Language:              c.String("lang"),
		Creator:               c.String("creator"),
		Publisher:             c.String("publisher"),
		Tags:                  tags,
		Source:                c.String("source"),
		MainURL:               c.String("url"),
		FaviconURL:            c.String("favicon"),
		CustomCSS:             c.String("custom-css"),
		IncludeDomains:        c.StringSlice("include-domains"),
		DisableMetadataChecks: c.Bool("disable-metadata-checks"),
		ProgressFile:          c.String("progress-file"),
		ScraperSuffix:         c.String("scraper-suffix"),
		ContinueOnError:       c.Bool("continue-on-error"),
		FailedItemsFile:       c.String("failed-items"),
		Verbose:               c.Bool("verbose"),
	}

	headTemplate, err := template.ParseFS(templateFS, "templates/head_insert.html")
	if err != nil {
		return fmt.Errorf("parse head insert template: %w", err)
	}
	wombatTemplate, err := template.ParseFS(templateFS, "templates/wombat_setup.js")
	if err != nil {
		return fmt.Errorf("parse wombat setup template: %w", err)
	}

	wombatJS, err := staticsFS.ReadFile("statics/wombat.js")
	if err != nil {
		return fmt.Errorf("read wombat.js: %w", err)
	}
	moduleDeclJS, err := staticsFS.ReadFile("statics/__wb_module_decl.js")
	if err != nil {
		return fmt.Errorf("read __wb_module_decl.js: %w", err)
	}
	fallbackIllustration, err := staticsFS.ReadFile("statics/fallback.png")
	if err != nil {
		return fmt.Errorf("read fallback.png: %w", err)
	}

	conv, err := driver.New(cfg, headTemplate, wombatTemplate, driver.StaticAssets{
		WombatJS:             wombatJS,
		ModuleDeclJS:         moduleDeclJS,
		FallbackIllustration: fallbackIllustration,
	}, logger)
	if err != nil {
		return err
	}

	outputDir := c.String("output")
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	w, err := zimwriter.NewDirWriter(outputDir)
	if err != nil {
		return err
	}

	period := time.Now().Format("2006-01")
	logger.Info().Str("filename", driver.ZimFilename(c.String("zim-file"), cfg.Name, period)).Msg("writing archive (directory-backed until a real ZIM container writer exists)")

	return conv.Run(context.Background(), w)
}

var listCommand = &cli.Command{
	Name:      "list",
	Usage:     "list the entries stored in an archive directory",
	ArgsUsage: "archivedir",
	Action:    doList,
	Flags: []cli.Flag{
		&cli.BoolFlag{Name: "titles", Usage: "also print each entry's title"},
	},
}

// indexEntry mirrors zimwriter.DirWriter's per-item index.jsonl record.
type indexEntry struct {
	Path     string `json:"path"`
	MimeType string `json:"mimetype"`
	Title    string `json:"title,omitempty"`
}

func readIndex(archiveDir string) ([]indexEntry, error) {
	f, err := os.Open(filepath.Join(archiveDir, "index.jsonl"))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var entries []indexEntry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	for scanner.Scan() {
		var e indexEntry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			return nil, fmt.Errorf("parse index entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, scanner.Err()
}

func doList(c *cli.Context) error {
	if c.Args().Len() < 1 {
		return fmt.Errorf("not enough arguments")
	}
	entries, err := readIndex(c.Args().First())
	if err != nil {
		return err
	}
	withTitles := c.Bool("titles")
	for _, e := range entries {
		if withTitles {
			fmt.Printf("%s\t%s\n", e.Path, e.Title)
			continue
		}
		fmt.Println(e.Path)
	}
	return nil
}

var showCommand = &cli.Command{
	Name:      "show",
	Usage:     "print one entry's mimetype and content",
	ArgsUsage: "archivedir path",
	Action:    doShow,
}

func doShow(c *cli.Context) error {
	if c.Args().Len() < 2 {
		return fmt.Errorf("not enough arguments")
	}
	archiveDir, path := c.Args().First(), c.Args().Get(1)

	entries, err := readIndex(archiveDir)
	if err != nil {
		return err
	}
	var found *indexEntry
	for i := range entries {
		if entries[i].Path == path {
			found = &entries[i]
			break
		}
	}
	if found == nil {
		return fmt.Errorf("%q not found in archive", path)
	}

	fmt.Printf("Path: %s\n", found.Path)
	fmt.Printf("MimeType: %s\n", found.MimeType)
	if found.Title != "" {
		fmt.Printf("Title: %s\n", found.Title)
	}
	fmt.Println()

	content, err := os.Open(filepath.Join(archiveDir, "content", filepath.FromSlash(path)))
	if err != nil {
		return err
	}
	defer content.Close()
	_, err = io.Copy(os.Stdout, content)
	return err
}

var diffCommand = &cli.Command{
	Name:      "diff",
	Usage:     "diff the entries of two archive directories",
	ArgsUsage: "archivedir-a archivedir-b",
	Action:    doDiff,
	Flags: []cli.Flag{
		&cli.BoolFlag{Name: "content", Usage: "also diff the content of entries present in both archives"},
	},
}

func doDiff(c *cli.Context) error {
	if c.Args().Len() < 2 {
		return fmt.Errorf("not enough arguments")
	}
	dirA, dirB := c.Args().First(), c.Args().Get(1)

	entriesA, err := readIndex(dirA)
	if err != nil {
		return err
	}
	entriesB, err := readIndex(dirB)
	if err != nil {
		return err
	}

	byPathA := map[string]indexEntry{}
	for _, e := range entriesA {
		byPathA[e.Path] = e
	}
	byPathB := map[string]indexEntry{}
	for _, e := range entriesB {
		byPathB[e.Path] = e
	}

	for path := range byPathA {
		if _, ok := byPathB[path]; !ok {
			fmt.Printf("- %s\n", path)
		}
	}
	for path := range byPathB {
		if _, ok := byPathA[path]; !ok {
			fmt.Printf("+ %s\n", path)
		}
	}

	if !c.Bool("content") {
		return nil
	}
	for path, a := range byPathA {
		b, ok := byPathB[path]
		if !ok || a.MimeType != b.MimeType {
			continue
		}
		contentA, err := os.ReadFile(filepath.Join(dirA, "content", filepath.FromSlash(path)))
		if err != nil {
			continue
		}
		contentB, err := os.ReadFile(filepath.Join(dirB, "content", filepath.FromSlash(path)))
		if err != nil {
			continue
		}
		if string(contentA) == string(contentB) {
			continue
		}
		diff := difflib.UnifiedDiff{
			A:        difflib.SplitLines(string(contentA)),
			B:        difflib.SplitLines(string(contentB)),
			FromFile: filepath.Join(dirA, path),
			ToFile:   filepath.Join(dirB, path),
			Context:  3,
		}
		text, err := difflib.GetUnifiedDiffString(diff)
		if err != nil {
			return err
		}
		fmt.Print(text)
	}
	return nil
}
