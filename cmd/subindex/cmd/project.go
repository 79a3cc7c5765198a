package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/Aman-CERP/subindex/internal/config"
	ierrors "github.com/Aman-CERP/subindex/internal/errors"
	"github.com/Aman-CERP/subindex/internal/logging"
	"github.com/Aman-CERP/subindex/internal/manager"
	"github.com/Aman-CERP/subindex/internal/store"
)

// maxDocumentSize skips files too large to be useful search documents.
const maxDocumentSize = 4 << 20

// project is an opened subindex project: its configuration, store and
// manager. Close releases all of them.
type project struct {
	dir     string
	cfg     *config.Config
	store   *store.Store
	manager *manager.Manager
	logger  *slog.Logger
}

// setupLogging installs the default logger: JSON lines appended to
// ~/.subindex/logs/subindex.log at the configured level, or at debug level
// mirrored to stderr with --debug.
func setupLogging(opts *globalOptions) (func(), error) {
	cfg := logging.DefaultConfig()
	if opts.debug {
		cfg = logging.DebugConfig()
	} else if _, projectCfg, err := loadProject(opts); err == nil {
		cfg.Level = projectCfg.Logging.Level
	}

	cleanup, err := logging.SetupDefault(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to setup logging: %w", err)
	}
	slog.Debug("logging_enabled",
		slog.String("log_file", cfg.FilePath),
		slog.String("level", cfg.Level))
	return cleanup, nil
}

// loadProject finds the project root from opts.dir and loads its
// configuration.
func loadProject(opts *globalOptions) (string, *config.Config, error) {
	root, err := config.FindProjectRoot(opts.dir)
	if err != nil {
		return "", nil, ierrors.ConfigError("failed to locate project", err)
	}
	cfg, err := config.Load(root)
	if err != nil {
		return "", nil, err
	}
	return root, cfg, nil
}

// openProject loads the configuration, opens the store and wraps it in a
// manager. Manager options are appended after the logger option.
func openProject(opts *globalOptions, mopts ...manager.Option) (*project, error) {
	root, cfg, err := loadProject(opts)
	if err != nil {
		return nil, err
	}
	return openStoreAt(root, cfg, cfg.StoreRoot(root), mopts...)
}

func openStoreAt(dir string, cfg *config.Config, storeRoot string, mopts ...manager.Option) (*project, error) {
	logger := slog.Default()
	st, err := store.Open(store.Config{Root: storeRoot, Partitions: cfg.Store.Partitions})
	if err != nil {
		return nil, err
	}
	mgr, err := manager.New(st, cfg.ManagerSettings(), append([]manager.Option{manager.WithLogger(logger)}, mopts...)...)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	return &project{dir: dir, cfg: cfg, store: st, manager: mgr, logger: logger}, nil
}

// requireIndex fails when the store has not been initialized.
func (p *project) requireIndex(ctx context.Context) error {
	exists, err := p.manager.IndexExists(ctx)
	if err != nil {
		return err
	}
	if !exists {
		return ierrors.New(ierrors.ErrCodeIndexNotFound,
			fmt.Sprintf("no index found at %s", p.store.Root()), nil).
			WithSuggestion("Run 'subindex init' first")
	}
	return nil
}

func (p *project) Close() error {
	return p.manager.Close()
}

// readDocuments collects documents from paths. A .jsonl file holds one
// {"id","content"} object per line; any other file becomes one document
// whose ID is its slash-separated path relative to base. Directories are
// walked, skipping hidden entries.
func readDocuments(base string, paths []string) ([]store.Document, error) {
	var docs []store.Document
	for _, path := range paths {
		if !filepath.IsAbs(path) {
			path = filepath.Join(base, path)
		}
		info, err := os.Stat(path)
		if err != nil {
			return nil, ierrors.ValidationError(fmt.Sprintf("cannot read %s", path), err)
		}
		if !info.IsDir() {
			found, err := readFile(base, path)
			if err != nil {
				return nil, err
			}
			docs = append(docs, found...)
			continue
		}

		err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if p != path && strings.HasPrefix(d.Name(), ".") {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if d.IsDir() || !d.Type().IsRegular() {
				return nil
			}
			found, err := readFile(base, p)
			if err != nil {
				return err
			}
			docs = append(docs, found...)
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return docs, nil
}

func readFile(base, path string) ([]store.Document, error) {
	if strings.EqualFold(filepath.Ext(path), ".jsonl") {
		return readJSONL(path)
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.Size() > maxDocumentSize {
		slog.Debug("document_skipped", slog.String("path", path), slog.Int64("size", info.Size()))
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	id, err := filepath.Rel(base, path)
	if err != nil || strings.HasPrefix(id, "..") {
		id = path
	}
	return []store.Document{{ID: filepath.ToSlash(id), Content: string(data)}}, nil
}

func readJSONL(path string) ([]store.Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	var docs []store.Document
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxDocumentSize)
	for line := 1; scanner.Scan(); line++ {
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		var doc store.Document
		if err := json.Unmarshal([]byte(text), &doc); err != nil {
			return nil, ierrors.ValidationError(fmt.Sprintf("%s:%d: invalid JSON", path, line), err)
		}
		if doc.ID == "" {
			return nil, ierrors.ValidationError(fmt.Sprintf("%s:%d: document has no id", path, line), nil)
		}
		docs = append(docs, doc)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return docs, nil
}

// groupByPartition splits docs by the partition their ID hashes to,
// keeping input order within a partition.
func groupByPartition(st *store.Store, docs []store.Document) map[string][]store.Document {
	groups := make(map[string][]store.Document)
	for _, doc := range docs {
		p := st.PartitionFor(doc.ID)
		groups[p] = append(groups[p], doc)
	}
	return groups
}
