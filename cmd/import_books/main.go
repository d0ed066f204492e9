// Command import_books loads a JSON catalog (books, their copies and
// members) into the configured library database.
package main

import (
	"context"
	"fmt"
	"os"

	jsoniter "github.com/json-iterator/go"
	"github.com/samber/do/v2"
	"github.com/spf13/pflag"

	"library-circulation/internal/config"
	"library-circulation/internal/di"
	"library-circulation/library"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// catalogFile is the import document.
type catalogFile struct {
	Books   []bookEntry         `json:"books"`
	Members []library.NewMember `json:"members"`
}

type bookEntry struct {
	library.NewBook
	Copies   int    `json:"copies"`
	Location string `json:"location"`
}

func main() {
	fs := pflag.NewFlagSet("import_books", pflag.ExitOnError)
	config.RegisterFlags(fs)
	file := fs.String("file", "catalog.json", "Catalog JSON file to import")
	fresh := fs.Bool("fresh", false, "Remove an existing SQLite database before importing")
	_ = fs.Parse(os.Args[1:])

	cfg, err := config.LoadConfig(fs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	if *fresh && cfg.Database.Driver == library.DriverSQLite {
		// Clean up any existing database files
		fmt.Println("Cleaning up existing database files...")
		for _, suffix := range []string{"", "-shm", "-wal"} {
			if err := os.Remove(cfg.Database.DSN + suffix); err != nil && !os.IsNotExist(err) {
				fmt.Printf("Warning: Could not remove %s: %v\n", cfg.Database.DSN+suffix, err)
			}
		}
	}

	doc, err := readCatalog(*file)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading %s: %v\n", *file, err)
		os.Exit(1)
	}

	injector := di.NewContainer(cfg)
	manager, err := do.Invoke[*library.LibraryManager](injector)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening database: %v\n", err)
		os.Exit(1)
	}

	ok, failed := importCatalog(context.Background(), manager, doc)
	if report := injector.Shutdown(); report != nil && !report.Succeed {
		fmt.Fprintf(os.Stderr, "Warning: shutdown: %v\n", report)
		failed++
	}

	fmt.Printf("\nImport complete!\n")
	fmt.Printf("Successfully imported: %d records\n", ok)
	fmt.Printf("Errors: %d\n", failed)
	if failed > 0 {
		os.Exit(1)
	}
}

func readCatalog(path string) (*catalogFile, error) {
	data, err := os.ReadFile(path) //#nosec G304 -- import path is an operator argument
	if err != nil {
		return nil, err
	}
	var doc catalogFile
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// importCatalog adds every book with its copies and every member, reporting
// progress as it goes. It keeps going past individual failures.
func importCatalog(ctx context.Context, manager *library.LibraryManager, doc *catalogFile) (ok, failed int) {
	importer := library.Actor{Role: library.RoleAdmin}

	for _, entry := range doc.Books {
		fmt.Printf("Importing: %s by %s... ", truncateString(entry.Title, 50), entry.Author)
		book, err := manager.AddBook(ctx, importer, entry.NewBook)
		if err != nil {
			fmt.Printf("ERROR - %s\n", library.Describe(err).Message)
			failed++
			continue
		}
		copies := entry.Copies
		if copies <= 0 {
			copies = 1
		}
		added := 0
		for range copies {
			if _, err := manager.AddCopy(ctx, importer, book.ID, entry.Location); err != nil {
				fmt.Printf("ERROR adding copy - %s ", library.Describe(err).Message)
				failed++
				continue
			}
			added++
		}
		fmt.Printf("SUCCESS (ID: %s, %d copies)\n", book.ID, added)
		ok++
	}

	for _, m := range doc.Members {
		fmt.Printf("Importing member: %s... ", m.Name)
		member, err := manager.AddMember(ctx, importer, m)
		if err != nil {
			fmt.Printf("ERROR - %s\n", library.Describe(err).Message)
			failed++
			continue
		}
		fmt.Printf("SUCCESS (ID: %s)\n", member.ID)
		ok++
	}
	return ok, failed
}

func truncateString(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(runes[:max(maxLen, 0)])
	}
	return string(runes[:maxLen-3]) + "..."
}
