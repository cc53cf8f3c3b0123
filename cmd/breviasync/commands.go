package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/brevia-ai/brevia-sync/internal/brevia"
	"github.com/brevia-ai/brevia-sync/internal/catalog"
	"github.com/brevia-ai/brevia-sync/internal/config"
	"github.com/brevia-ai/brevia-sync/internal/importer"
	"github.com/brevia-ai/brevia-sync/internal/index"
)

// newImporter wires the store, client and index handler for a bulk
// command run. The returned cleanup closes the store.
func newImporter() (*importer.Importer, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	store, err := catalog.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, nil, fmt.Errorf("opening catalog: %w", err)
	}
	client, err := brevia.New(cfg.API)
	if err != nil {
		store.Close()
		return nil, nil, err
	}
	handler := index.NewHandler(client, store, index.LocalStreams{})
	return importer.New(client, store, handler), func() { store.Close() }, nil
}

// --- import-csv ---

var importCsvCmd = &cobra.Command{
	Use:   "import-csv",
	Short: "Import documents from a CSV file into a collection",
	Long: `Import documents from a CSV file into a collection.

The CSV must have a header row; the title, description and body columns
are read. Every record becomes a live document, associated to the
collection and indexed.

Example:
  breviasync import-csv --file ./docs.csv --collection main-kb`,
	RunE: func(cmd *cobra.Command, args []string) error {
		file, _ := cmd.Flags().GetString("file")
		collection, _ := cmd.Flags().GetString("collection")

		imp, cleanup, err := newImporter()
		if err != nil {
			return err
		}
		defer cleanup()

		printStep("Importing %s into %q", file, collection)
		n, err := imp.ImportCSV(context.Background(), file, collection)
		if err != nil {
			return err
		}
		printSuccess("Imported %d documents", n)
		return nil
	},
}

// --- import-sitemap ---

var importSitemapCmd = &cobra.Command{
	Use:   "import-sitemap",
	Short: "Import links from an XML sitemap into a collection",
	Long: `Import links from an XML sitemap into a collection.

Every new URL becomes a live link document; URLs already in the
collection, blacklisted, or outside the optional prefix are skipped.

Example:
  breviasync import-sitemap --sitemap https://example.com/sitemap.xml \
      --prefix https://example.com/docs --collection main-kb`,
	RunE: func(cmd *cobra.Command, args []string) error {
		sitemap, _ := cmd.Flags().GetString("sitemap")
		prefix, _ := cmd.Flags().GetString("prefix")
		blacklist, _ := cmd.Flags().GetString("black-list")
		collection, _ := cmd.Flags().GetString("collection")

		imp, cleanup, err := newImporter()
		if err != nil {
			return err
		}
		defer cleanup()

		printStep("Importing sitemap %s into %q", sitemap, collection)
		n, err := imp.ImportSitemap(context.Background(), importer.SitemapOptions{
			Source:        sitemap,
			Prefix:        prefix,
			BlacklistPath: blacklist,
			Collection:    collection,
		})
		if err != nil {
			return err
		}
		printSuccess("Links added: %d", n)
		return nil
	},
}

// --- import-files ---

var importFilesCmd = &cobra.Command{
	Use:   "import-files <path>...",
	Short: "Import local files into a collection",
	Long: `Import local files into a collection as file documents.

PDF files with readable text get their title from the first text line.
Uploads are deferred to the job worker unless --sync is given.

Example:
  breviasync import-files --collection main-kb ./manuals/*.pdf`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		collection, _ := cmd.Flags().GetString("collection")
		sync, _ := cmd.Flags().GetBool("sync")

		imp, cleanup, err := newImporter()
		if err != nil {
			return err
		}
		defer cleanup()

		printStep("Importing %d files into %q", len(args), collection)
		n, err := imp.ImportFiles(context.Background(), collection, args, !sync)
		if err != nil {
			return err
		}
		if sync {
			printSuccess("Imported and indexed %d files", n)
		} else {
			printSuccess("Imported %d files, uploads queued", n)
		}
		return nil
	},
}

// --- reindex ---

var reindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Re-push every document of a collection into the index",
	RunE: func(cmd *cobra.Command, args []string) error {
		collection, _ := cmd.Flags().GetString("collection")
		concurrency, _ := cmd.Flags().GetInt("concurrency")
		rps, _ := cmd.Flags().GetFloat64("rate")

		imp, cleanup, err := newImporter()
		if err != nil {
			return err
		}
		defer cleanup()

		printStep("Reindexing collection %q", collection)
		res, err := imp.Reindex(context.Background(), collection, importer.ReindexOptions{
			Concurrency:       concurrency,
			RequestsPerSecond: rps,
		})
		if err != nil {
			return err
		}
		if res.Failed > 0 {
			printWarning("Reindexed %d documents, %d failed", res.Indexed, res.Failed)
		} else {
			printSuccess("Reindexed %d documents", res.Indexed)
		}
		return nil
	},
}

// --- update-metadata ---

var updateMetadataCmd = &cobra.Command{
	Use:   "update-metadata",
	Short: "Backfill the file URL into remote metadata of file documents",
	RunE: func(cmd *cobra.Command, args []string) error {
		collection, _ := cmd.Flags().GetString("collection")

		imp, cleanup, err := newImporter()
		if err != nil {
			return err
		}
		defer cleanup()

		printStep("Updating metadata of collection %q", collection)
		n, err := imp.UpdateMetadata(context.Background(), collection)
		if err != nil {
			return err
		}
		printSuccess("Updated %d documents", n)
		return nil
	},
}

func init() {
	importCsvCmd.Flags().StringP("file", "f", "", "path of CSV file to import")
	importCsvCmd.Flags().StringP("collection", "c", "", "unique collection name")
	importCsvCmd.MarkFlagRequired("file")
	importCsvCmd.MarkFlagRequired("collection")

	importSitemapCmd.Flags().StringP("sitemap", "s", "", "file path or URL of sitemap to import")
	importSitemapCmd.Flags().StringP("prefix", "p", "", "optional path prefix of URLs to import")
	importSitemapCmd.Flags().StringP("black-list", "b", "", "text file with one excluded URL per line")
	importSitemapCmd.Flags().StringP("collection", "c", "", "unique collection name")
	importSitemapCmd.MarkFlagRequired("sitemap")
	importSitemapCmd.MarkFlagRequired("collection")

	importFilesCmd.Flags().StringP("collection", "c", "", "unique collection name")
	importFilesCmd.Flags().Bool("sync", false, "upload inline instead of queuing jobs")
	importFilesCmd.MarkFlagRequired("collection")

	reindexCmd.Flags().StringP("collection", "c", "", "unique collection name")
	reindexCmd.Flags().Int("concurrency", 4, "parallel index calls")
	reindexCmd.Flags().Float64("rate", 0, "max index calls per second (0 = unlimited)")
	reindexCmd.MarkFlagRequired("collection")

	updateMetadataCmd.Flags().StringP("collection", "c", "", "unique collection name")
	updateMetadataCmd.MarkFlagRequired("collection")

	rootCmd.AddCommand(importCsvCmd, importSitemapCmd, importFilesCmd, reindexCmd, updateMetadataCmd)
}
