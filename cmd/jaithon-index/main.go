package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"jaithonls/internal/config"
	"jaithonls/internal/logging"
	"jaithonls/internal/modules"
	"jaithonls/internal/symbols"
	"jaithonls/internal/workspace"
)

var logger *slog.Logger

const version = "0.1.0"

func main() {
	_ = godotenv.Load()
	logger = logging.Default("jaithon-index")

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "modules":
		runModules(os.Args[2:])

	case "symbols":
		runSymbols(os.Args[2:])

	case "outline":
		runOutline(os.Args[2:])

	case "export":
		runExport(os.Args[2:])

	case "version":
		fmt.Printf("jaithon-index v%s\n", version)

	case "help", "-h", "--help":
		printUsage()

	default:
		logger.Error("unknown command", "command", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

// openWorkspace builds a workspace over the given roots (default ".") with
// settings from configPath or the first root's .jaithon.toml.
func openWorkspace(roots []string, configPath string) *workspace.Workspace {
	if len(roots) == 0 {
		roots = []string{"."}
	}
	abs := make([]string, 0, len(roots))
	for _, r := range roots {
		p, err := filepath.Abs(r)
		if err != nil {
			logger.Error("invalid path", "path", r, "error", err)
			os.Exit(1)
		}
		abs = append(abs, p)
	}

	settings, used, err := config.Load(abs[0], configPath)
	if err != nil {
		logger.Error("loading settings failed", "error", err)
		os.Exit(1)
	}
	if used != "" {
		logger.Debug("loaded settings", "path", used)
	}

	ws := workspace.New(logger)
	ws.SetRoots(abs)
	ws.SetSettings(settings)
	return ws
}

func runModules(args []string) {
	fs := flag.NewFlagSet("modules", flag.ExitOnError)
	configPath := fs.String("config", "", "Settings file")
	fs.Parse(args)

	ws := openWorkspace(fs.Args(), *configPath)
	c := modules.NewCollector(ws, logger)
	if err := c.Refresh(context.Background()); err != nil {
		logger.Error("collecting modules failed", "error", err)
		os.Exit(1)
	}
	for _, p := range c.Paths() {
		fmt.Println(p)
	}
}

func buildIndex(ws *workspace.Workspace) *symbols.Index {
	store := symbols.NewStore(ws, logger)
	start := time.Now()
	if err := store.Refresh(context.Background()); err != nil {
		logger.Error("indexing failed", "error", err)
		os.Exit(1)
	}
	idx := store.Current()
	logger.Info("indexing complete", "symbols", idx.Len(), "duration", time.Since(start).Round(time.Millisecond))
	return idx
}

func runSymbols(args []string) {
	fs := flag.NewFlagSet("symbols", flag.ExitOnError)
	configPath := fs.String("config", "", "Settings file")
	prefix := fs.String("prefix", "", "Only names starting with this prefix")
	namesOnly := fs.Bool("names", false, "Print names only, one per line")
	fs.Parse(args)

	idx := buildIndex(openWorkspace(fs.Args(), *configPath))

	if *namesOnly {
		for _, name := range idx.Names() {
			if strings.HasPrefix(name, *prefix) {
				fmt.Println(name)
			}
		}
		return
	}

	out := make(map[string]symbols.Entry)
	idx.Each(func(name string, e symbols.Entry) {
		if strings.HasPrefix(name, *prefix) {
			out[name] = e
		}
	})
	printJSON(out)
}

func runOutline(args []string) {
	fs := flag.NewFlagSet("outline", flag.ExitOnError)
	fs.Parse(args)

	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: jaithon-index outline <file>")
		os.Exit(1)
	}
	content, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		logger.Error("reading file failed", "error", err)
		os.Exit(1)
	}
	defs := symbols.Extract(string(content))
	if defs == nil {
		defs = []symbols.Definition{}
	}
	printJSON(defs)
}

func runExport(args []string) {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	configPath := fs.String("config", "", "Settings file")
	dbPath := fs.String("db", "", "SQLite file to write (default: <root>/.jaithon/symbols.db)")
	fs.Parse(args)

	ws := openWorkspace(fs.Args(), *configPath)
	path := *dbPath
	if path == "" {
		path = filepath.Join(ws.Roots()[0], ".jaithon", "symbols.db")
	}

	idx := buildIndex(ws)
	rows, err := symbols.WriteDB(context.Background(), path, idx)
	if err != nil {
		logger.Error("export failed", "error", err)
		os.Exit(1)
	}
	db, err := symbols.OpenDB(path)
	if err != nil {
		logger.Warn("could not reopen database for stats", "error", err)
		logger.Info("export complete", "database", path, "rows", rows)
		return
	}
	defer db.Close()
	symbolCount, fileCount, err := symbols.Stats(db)
	if err != nil {
		logger.Warn("could not get stats", "error", err)
		logger.Info("export complete", "database", path, "rows", rows)
		return
	}
	logger.Info("export complete", "database", path, "rows", rows, "symbols", symbolCount, "files", fileCount)
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		logger.Error("writing output failed", "error", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`jaithon-index - inspect Jaithon workspaces without an editor

Usage:
  jaithon-index <command> [options] [root...]

Commands:
  modules   Print the import paths offered after "import"
  symbols   Print the symbol index as JSON
  outline   Print the definitions in one file as JSON
  export    Write the symbol index to a SQLite database
  version   Print version information
  help      Show this help message

Options:
  -config   Settings file (default: .jaithon.toml in the first root)
  -prefix   symbols: only names starting with this prefix
  -names    symbols: print names only, one per line
  -db       export: database path (default: <root>/.jaithon/symbols.db)

Environment Variables:
  JAITHON_LS_LOG_LEVEL    debug, info, warn, error (default: info)
  JAITHON_LS_LOG_FORMAT   text or json (default: text)
  JAITHON_PATH            Interpreter used by run commands

Examples:
  jaithon-index modules .
  jaithon-index symbols -prefix Vec ~/src/game
  jaithon-index export -db /tmp/symbols.db .`)
}
