package cmd

import (
	"os"

	"github.com/spf13/afero"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/meridianvfx/avf/pkg/core"
	"github.com/meridianvfx/avf/pkg/dlogger"
	"github.com/meridianvfx/avf/pkg/repository/sqlite"
	"github.com/meridianvfx/avf/pkg/storage"
	"github.com/meridianvfx/avf/pkg/storage/branch"
	"github.com/meridianvfx/avf/pkg/storage/changelist"
	"github.com/meridianvfx/avf/pkg/storage/disk"
)

// backendEntry keeps configured backends in declaration order
type backendEntry struct {
	name    string
	backend storage.Backend
}

func newLogger() *zap.Logger {
	logger, err := dlogger.GetLogger(viper.GetString("log_level"))
	if err != nil {
		wrapFatalln("initialize logger", err)
		return nil
	}
	return logger
}

// newBackends builds every backend the config declares.
//
// Config keys: disk_root, git_repo + git_prefix, p4_port + p4_user +
// p4_client (+ p4_charset, p4_depot).
func newBackends(logger *zap.Logger) ([]backendEntry, error) {
	entries := make([]backendEntry, 0, 3)

	if root := viper.GetString("disk_root"); root != "" {
		if err := os.MkdirAll(root, 0755); err != nil {
			return nil, err
		}
		fs := afero.NewBasePathFs(afero.NewOsFs(), root)
		entries = append(entries, backendEntry{"disk", storage.Logged(logger, disk.New(fs))})
	}
	if repoPath := viper.GetString("git_repo"); repoPath != "" {
		b, err := branch.New(repoPath,
			branch.Prefix(viper.GetString("git_prefix")),
			branch.Logger(logger))
		if err != nil {
			return nil, err
		}
		entries = append(entries, backendEntry{"git", storage.Logged(logger, b)})
	}
	if port := viper.GetString("p4_port"); port != "" {
		cfg := changelist.Config{
			Port:      port,
			User:      viper.GetString("p4_user"),
			Client:    viper.GetString("p4_client"),
			Charset:   viper.GetString("p4_charset"),
			DepotRoot: viper.GetString("p4_depot"),
		}
		entries = append(entries, backendEntry{"p4", storage.Logged(logger, changelist.New(cfg))})
	}
	return entries, nil
}

// newAssetVersions wires the orchestrator from the loaded config. The
// returned cleanup closes the repository handle.
func newAssetVersions() (*core.AssetVersions, func(), error) {
	logger := newLogger()
	entries, err := newBackends(logger)
	if err != nil {
		return nil, nil, err
	}

	opts := make([]core.Option, 0, len(entries)+2)
	opts = append(opts, core.Logger(logger))
	for _, entry := range entries {
		opts = append(opts, core.Backend(entry.name, entry.backend))
	}

	cleanup := func() {}
	if path := viper.GetString("repository"); path != "" {
		repo, err := sqlite.Open(path, sqlite.Logger(logger))
		if err != nil {
			return nil, nil, err
		}
		cleanup = func() { _ = repo.Close() }
		opts = append(opts, core.Repository(repo))
	}
	return core.New(opts...), cleanup, nil
}
