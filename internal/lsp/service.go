package lsp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"jaithonls/internal/config"
	"jaithonls/internal/logging"
	"jaithonls/internal/modules"
	"jaithonls/internal/runner"
	"jaithonls/internal/symbols"
	"jaithonls/internal/watch"
	"jaithonls/internal/workspace"
)

// ServerName is reported in the initialize result.
const ServerName = "jaithon-ls"

// refreshTimeout bounds a refresh requested through jaithon.refresh.
const refreshTimeout = 2 * time.Minute

// Options configures a Service.
type Options struct {
	Version string
	// ConfigPath is an explicit settings file; empty means .jaithon.toml in
	// the first root.
	ConfigPath string
	// Watch enables the server-side fsnotify watcher. Without it the
	// service relies on workspace/didChangeWatchedFiles and didSave.
	Watch  bool
	Logger *slog.Logger
}

// Service holds workspace state and handles LSP requests.
type Service struct {
	opts   Options
	srv    *Server
	ws     *workspace.Workspace
	docs   *Documents
	mods   *modules.Collector
	syms   *symbols.Store
	sched  *watch.Scheduler
	runner *runner.Runner
	logger *slog.Logger

	mu       sync.Mutex
	base     config.Settings // defaults, file, environment and initializationOptions
	watcher  *watch.Watcher
	cancel   context.CancelFunc
	shutdown bool
}

// NewService creates a service and starts its refresh worker. Close
// releases it.
func NewService(opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	ws := workspace.New(logger)
	s := &Service{
		opts:   opts,
		ws:     ws,
		docs:   NewDocuments(),
		mods:   modules.NewCollector(ws, logger),
		syms:   symbols.NewStore(ws, logger),
		base:   config.Default(),
		logger: logger,
	}
	s.sched = watch.NewScheduler(s.mods, s.syms, s.base.Debounce(), logger)
	s.runner = runner.New(s, s, logger)
	s.sched.Start()
	return s
}

// Register wires all LSP handlers onto a Server.
func (s *Service) Register(srv *Server) {
	s.srv = srv
	srv.Handle("initialize", s.handleInitialize)
	srv.Handle("shutdown", s.handleShutdown)
	srv.Handle("textDocument/completion", s.handleCompletion)
	srv.Handle("textDocument/definition", s.handleDefinition)
	srv.Handle("textDocument/documentSymbol", s.handleDocumentSymbol)
	srv.Handle("textDocument/codeLens", s.handleCodeLens)
	srv.Handle("workspace/symbol", s.handleWorkspaceSymbol)
	srv.Handle("workspace/executeCommand", s.handleExecuteCommand)

	srv.OnNotify("initialized", s.handleInitialized)
	srv.OnNotify("exit", func(params json.RawMessage) { srv.Stop() })
	srv.OnNotify("textDocument/didOpen", s.handleDidOpen)
	srv.OnNotify("textDocument/didChange", s.handleDidChange)
	srv.OnNotify("textDocument/didClose", s.handleDidClose)
	srv.OnNotify("textDocument/didSave", s.handleDidSave)
	srv.OnNotify("workspace/didChangeConfiguration", s.handleDidChangeConfiguration)
	srv.OnNotify("workspace/didChangeWatchedFiles", s.handleDidChangeWatchedFiles)
}

// Close stops the watcher, the refresh worker and any captured runs.
func (s *Service) Close() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	if s.watcher != nil {
		s.watcher.Close()
		s.watcher = nil
	}
	s.mu.Unlock()
	s.sched.Stop()
	s.runner.Close()
}

func (s *Service) handleInitialize(params json.RawMessage) (any, error) {
	var p InitializeParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, err
	}

	s.ws.SetRoots(rootsFrom(p))
	roots := s.ws.Roots()
	s.logger.Info("initializing", "roots", roots)

	firstRoot := ""
	if len(roots) > 0 {
		firstRoot = roots[0]
	}
	base, used, err := config.Load(firstRoot, s.opts.ConfigPath)
	if err != nil {
		s.logger.Warn("using default settings", "error", err)
		base = config.Default().WithEnv()
	} else if used != "" {
		s.logger.Info("loaded settings", "path", used)
	}

	settings := base
	if opts := initOptions(p.InitializationOptions); opts != nil {
		merged, err := base.Merge(opts)
		if err != nil {
			s.logger.Warn("ignoring initializationOptions", "error", err)
		} else {
			settings = merged
		}
	}

	s.mu.Lock()
	s.base = settings
	s.mu.Unlock()
	s.applySettings(settings)

	return InitializeResult{
		Capabilities: ServerCapabilities{
			TextDocumentSync: &TextDocumentSyncOptions{
				OpenClose: true,
				Change:    SyncFull,
				Save:      &SaveOptions{},
			},
			CompletionProvider:      &CompletionOptions{TriggerCharacters: []string{"/"}},
			DefinitionProvider:      true,
			DocumentSymbolProvider:  true,
			WorkspaceSymbolProvider: true,
			CodeLensProvider:        &CodeLensOptions{},
			ExecuteCommandProvider:  &ExecuteCommandOptions{Commands: runner.Commands},
		},
		ServerInfo: &ServerInfo{Name: ServerName, Version: s.opts.Version},
	}, nil
}

// rootsFrom picks the workspace roots: every workspace folder, else
// rootUri, else rootPath.
func rootsFrom(p InitializeParams) []string {
	var roots []string
	for _, f := range p.WorkspaceFolders {
		roots = append(roots, uriToPath(f.URI))
	}
	if len(roots) == 0 && p.RootURI != "" {
		roots = append(roots, uriToPath(p.RootURI))
	}
	if len(roots) == 0 && p.RootPath != "" {
		roots = append(roots, p.RootPath)
	}
	return roots
}

// initOptions accepts initializationOptions either as the settings object
// itself or wrapped in a "jaithon" key.
func initOptions(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if section := config.SectionFrom(raw); section != nil {
		return section
	}
	return raw
}

func (s *Service) applySettings(settings config.Settings) {
	s.ws.SetSettings(settings)
	s.sched.SetDebounce(settings.Debounce())
}

func (s *Service) handleInitialized(params json.RawMessage) {
	if s.opts.Watch {
		s.startWatcher()
	}
	go func() {
		if err := s.sched.Flush(context.Background(), workspace.Modules|workspace.Symbols); err != nil && !errors.Is(err, watch.ErrStopped) {
			s.logger.Error("initial refresh failed", "error", err)
		}
	}()
}

func (s *Service) startWatcher() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.watcher != nil {
		return
	}
	w, err := watch.NewWatcher(s.ws, s.sched, s.logger)
	if err != nil {
		s.logger.Warn("file watching disabled", "error", err)
		return
	}
	if err := w.WatchRoots(); err != nil {
		s.logger.Warn("watching roots", "error", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.watcher = w
	s.cancel = cancel
	go w.Run(ctx)
}

func (s *Service) handleShutdown(params json.RawMessage) (any, error) {
	s.mu.Lock()
	s.shutdown = true
	s.mu.Unlock()
	s.logger.Info("shutdown requested")
	return nil, nil
}

// ShutdownRequested reports whether the client sent shutdown before exit.
func (s *Service) ShutdownRequested() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shutdown
}

func (s *Service) handleDidOpen(params json.RawMessage) {
	var p DidOpenTextDocumentParams
	if err := json.Unmarshal(params, &p); err != nil {
		s.logger.Warn("bad didOpen params", "error", err)
		return
	}
	s.docs.Open(p.TextDocument)
}

func (s *Service) handleDidChange(params json.RawMessage) {
	var p DidChangeTextDocumentParams
	if err := json.Unmarshal(params, &p); err != nil {
		s.logger.Warn("bad didChange params", "error", err)
		return
	}
	s.docs.Change(p.TextDocument, p.ContentChanges)
}

func (s *Service) handleDidClose(params json.RawMessage) {
	var p DidCloseTextDocumentParams
	if err := json.Unmarshal(params, &p); err != nil {
		s.logger.Warn("bad didClose params", "error", err)
		return
	}
	s.docs.Close(p.TextDocument.URI)
}

func (s *Service) handleDidSave(params json.RawMessage) {
	var p DidSaveTextDocumentParams
	if err := json.Unmarshal(params, &p); err != nil {
		s.logger.Warn("bad didSave params", "error", err)
		return
	}
	if targets := s.ws.Classify(uriToPath(p.TextDocument.URI)); targets != 0 {
		s.sched.Trigger(targets)
	}
}

func (s *Service) handleDidChangeConfiguration(params json.RawMessage) {
	var p DidChangeConfigurationParams
	if err := json.Unmarshal(params, &p); err != nil {
		s.logger.Warn("bad didChangeConfiguration params", "error", err)
		return
	}
	s.mu.Lock()
	base := s.base
	s.mu.Unlock()

	current := s.ws.Settings()
	settings := current
	// Pull-model clients send no section; keep what is in force.
	if section := config.SectionFrom(p.Settings); section != nil {
		merged, err := base.Merge(section)
		if err != nil {
			s.logger.Warn("rejected settings", "error", err)
			s.showMessage(MessageError, fmt.Sprintf("Jaithon: %v", err))
			return
		}
		settings = merged
	}

	if !settings.Equal(current) {
		s.applySettings(settings)
		s.mu.Lock()
		w := s.watcher
		s.mu.Unlock()
		if w != nil {
			if err := w.WatchRoots(); err != nil {
				s.logger.Warn("rewatching roots", "error", err)
			}
		}
	}
	s.sched.Trigger(workspace.Modules | workspace.Symbols)
}

func (s *Service) handleDidChangeWatchedFiles(params json.RawMessage) {
	var p DidChangeWatchedFilesParams
	if err := json.Unmarshal(params, &p); err != nil {
		s.logger.Warn("bad didChangeWatchedFiles params", "error", err)
		return
	}
	var targets workspace.Targets
	for _, c := range p.Changes {
		targets |= s.ws.Classify(uriToPath(c.URI))
	}
	if targets != 0 {
		s.sched.Trigger(targets)
	}
}

func (s *Service) handleCompletion(params json.RawMessage) (any, error) {
	var p TextDocumentPositionParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, err
	}
	doc, err := s.docs.Read(p.TextDocument.URI)
	if err != nil {
		return nil, nil
	}
	line := lineAt(doc.Text, p.Position.Line)
	col := byteOffset(line, p.Position.Character)

	if paths, ok := s.mods.CompletionCandidates(line[:col]); ok {
		items := make([]CompletionItem, 0, len(paths))
		for _, mod := range paths {
			items = append(items, CompletionItem{
				Label:      mod,
				Kind:       CIKModule,
				Detail:     "Jaithon module",
				InsertText: mod,
			})
		}
		return CompletionList{Items: items}, nil
	}

	candidates, ok := s.syms.Current().Complete(symbols.PrefixAt(line, col))
	if !ok {
		return nil, nil
	}
	items := make([]CompletionItem, 0, len(candidates))
	for _, c := range candidates {
		items = append(items, CompletionItem{
			Label:  c.Name,
			Kind:   completionKind(c.Kind),
			Detail: fmt.Sprintf("%s · %s", c.Kind, s.ws.Rel(c.Location.Path)),
		})
	}
	return CompletionList{IsIncomplete: len(items) == symbols.MaxCompletions, Items: items}, nil
}

func (s *Service) handleDefinition(params json.RawMessage) (any, error) {
	var p TextDocumentPositionParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, err
	}
	doc, err := s.docs.Read(p.TextDocument.URI)
	if err != nil {
		return nil, nil
	}
	line := lineAt(doc.Text, p.Position.Line)
	word := symbols.WordAt(line, byteOffset(line, p.Position.Character))

	locs, ok := s.syms.Current().Resolve(word, doc.Text, doc.Path)
	if !ok {
		return nil, nil
	}
	result := make([]Location, 0, len(locs))
	for _, loc := range locs {
		result = append(result, toLocation(loc, len(word)))
	}
	return result, nil
}

func (s *Service) handleDocumentSymbol(params json.RawMessage) (any, error) {
	var p struct {
		TextDocument TextDocumentIdentifier `json:"textDocument"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, err
	}
	doc, err := s.docs.Read(p.TextDocument.URI)
	if err != nil {
		return []DocumentSymbol{}, nil
	}

	defs := s.docs.Outline(doc)
	result := make([]DocumentSymbol, 0, len(defs))
	for _, d := range defs {
		r := nameRange(d.Line, d.Column, len(d.Name))
		result = append(result, DocumentSymbol{
			Name:           d.Name,
			Detail:         d.Kind.String(),
			Kind:           symbolKind(d.Kind),
			Range:          Range{Start: Position{Line: d.Line}, End: Position{Line: d.Line, Character: utf16Col(lineAt(doc.Text, d.Line))}},
			SelectionRange: r,
		})
	}
	return result, nil
}

func (s *Service) handleWorkspaceSymbol(params json.RawMessage) (any, error) {
	var p WorkspaceSymbolParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, err
	}

	query := strings.ToLower(p.Query)
	results := []SymbolInformation{}
	s.syms.Current().Each(func(name string, e symbols.Entry) {
		if query != "" && !strings.Contains(strings.ToLower(name), query) {
			return
		}
		for _, loc := range e.Locations {
			if len(results) >= symbols.MaxCompletions {
				return
			}
			results = append(results, SymbolInformation{
				Name:          name,
				Kind:          symbolKind(e.Kind),
				Location:      toLocation(loc, len(name)),
				ContainerName: s.ws.Rel(loc.Path),
			})
		}
	})
	return results, nil
}

func (s *Service) handleCodeLens(params json.RawMessage) (any, error) {
	var p CodeLensParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, err
	}
	if !strings.EqualFold(extOf(p.TextDocument.URI), config.SourceExt) {
		return []CodeLens{}, nil
	}
	top := Range{}
	return []CodeLens{
		{Range: top, Command: &Command{Title: "▶ Run", Command: runner.CmdRun, Arguments: []any{p.TextDocument.URI}}},
		{Range: top, Command: &Command{Title: "Debug", Command: runner.CmdDebug, Arguments: []any{p.TextDocument.URI}}},
	}, nil
}

// ExecuteResult is returned for commands that start the interpreter.
type ExecuteResult struct {
	RunID       string `json:"runId"`
	CommandLine string `json:"commandLine"`
	InTerminal  bool   `json:"inTerminal"`
}

func (s *Service) handleExecuteCommand(params json.RawMessage) (any, error) {
	var p ExecuteCommandParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, err
	}

	if p.Command == runner.CmdRefresh {
		ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
		defer cancel()
		if err := s.sched.Flush(ctx, workspace.Modules|workspace.Symbols); err != nil {
			return nil, err
		}
		return nil, nil
	}

	file := ""
	if len(p.Arguments) > 0 {
		var uri string
		if err := json.Unmarshal(p.Arguments[0], &uri); err != nil {
			return nil, fmt.Errorf("%s: first argument must be a document URI: %w", p.Command, err)
		}
		file = uriToPath(uri)
	}

	settings := s.ws.Settings()
	inv, err := runner.Build(p.Command, settings, s.ws.Roots(), file)
	if err != nil {
		return nil, err
	}
	runID, err := s.runner.Start(inv, settings.RunInTerminal)
	if err != nil {
		return nil, err
	}
	return ExecuteResult{RunID: runID, CommandLine: inv.CommandLine(), InTerminal: settings.RunInTerminal}, nil
}

// RunInTerminal asks the client to run commandLine in the named terminal.
func (s *Service) RunInTerminal(name, commandLine, dir string) error {
	return s.srv.Notify("jaithon/runInTerminal", RunInTerminalParams{Name: name, CommandLine: commandLine, Cwd: dir})
}

// Line streams one line of captured output to the client's log.
func (s *Service) Line(runID, text string) {
	if err := s.srv.Notify("window/logMessage", MessageParams{Type: MessageLog, Message: text}); err != nil {
		s.logger.Debug("dropping output line", "run_id", runID, "error", err)
	}
}

// Exited tells the user how a captured run ended.
func (s *Service) Exited(runID string, code int) {
	switch {
	case code == 0:
		s.showMessage(MessageInfo, "Jaithon exited with code 0")
	case code < 0:
		s.showMessage(MessageError, "Jaithon could not be started; see the output log")
	default:
		s.showMessage(MessageWarning, fmt.Sprintf("Jaithon exited with code %d", code))
	}
}

func (s *Service) showMessage(typ int, message string) {
	if err := s.srv.Notify("window/showMessage", MessageParams{Type: typ, Message: message}); err != nil {
		s.logger.Debug("dropping message", "error", err)
	}
}

func toLocation(loc symbols.Location, nameLen int) Location {
	return Location{URI: pathToURI(loc.Path), Range: nameRange(loc.Line, loc.Column, nameLen)}
}

// nameRange spans an identifier. Definition columns only ever follow ASCII
// whitespace, so byte and UTF-16 columns agree.
func nameRange(line, col, n int) Range {
	return Range{
		Start: Position{Line: line, Character: col},
		End:   Position{Line: line, Character: col + n},
	}
}

func utf16Col(line string) int {
	n := 0
	for _, r := range line {
		if r >= 0x10000 {
			n += 2
		} else {
			n++
		}
	}
	return n
}

func completionKind(k symbols.Kind) int {
	switch k {
	case symbols.Function:
		return CIKFunction
	case symbols.Type:
		return CIKClass
	case symbols.Namespace:
		return CIKModule
	}
	panic(fmt.Sprintf("unhandled symbol kind %d", int(k)))
}

func symbolKind(k symbols.Kind) int {
	switch k {
	case symbols.Function:
		return SKFunction
	case symbols.Type:
		return SKClass
	case symbols.Namespace:
		return SKNamespace
	}
	panic(fmt.Sprintf("unhandled symbol kind %d", int(k)))
}

func extOf(uri string) string {
	i := strings.LastIndexByte(uri, '.')
	if i < 0 || strings.ContainsAny(uri[i:], "/\\") {
		return ""
	}
	return uri[i:]
}
