package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"jaithonls/internal/logging"
	"jaithonls/internal/lsp"
)

const serverVersion = "0.1.0"

func main() {
	showVersion := flag.Bool("version", false, "Print version and exit")
	configPath := flag.String("config", "", "Settings file (default: .jaithon.toml in the first workspace folder)")
	noWatch := flag.Bool("no-watch", false, "Rely on editor file events instead of watching the workspace")
	flag.Bool("stdio", true, "Communicate over stdin/stdout (the only transport)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s v%s\n", lsp.ServerName, serverVersion)
		return
	}

	_ = godotenv.Load()

	logCfg := logging.LoadConfigFromEnv(lsp.ServerName)
	logger, closer, err := logging.Open(logCfg)
	if err != nil {
		logCfg.File = ""
		logger = logging.New(logCfg)
		logger.Warn("log file unavailable, using stderr", "error", err)
	} else {
		defer closer.Close()
	}

	svc := lsp.NewService(lsp.Options{
		Version:    serverVersion,
		ConfigPath: *configPath,
		Watch:      !*noWatch,
		Logger:     logger,
	})
	srv := lsp.NewServer(os.Stdin, os.Stdout, logger)
	svc.Register(srv)

	logger.Info("starting language server", "name", lsp.ServerName, "version", serverVersion, "watch", !*noWatch)

	serveErr := srv.Serve()
	svc.Close()
	if serveErr != nil {
		logger.Error("server error", "error", serveErr)
		os.Exit(1)
	}
	if !svc.ShutdownRequested() {
		logger.Warn("exit without shutdown")
		os.Exit(1)
	}
}
