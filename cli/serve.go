package cli

import (
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"captiongen/config"
	"captiongen/media"
	"captiongen/server"
	"captiongen/session"
	"captiongen/transcribe"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the captioning web service",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			// Credentials are the one fatal startup error: no listener is
			// opened without them.
			return err
		}

		logger := NewLogger(cfg.Log)

		store, release, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer release()
		defer store.Close()

		extractor := media.NewExtractor(cfg.Media.FFmpegDir, cfg.Media.ScratchDir, nil, logger)
		transcriber := transcribe.NewOpenAITranscriber(cfg.OpenAI, logger)

		srv := server.New(cfg, store, extractor, transcriber, logger)
		return srv.Listen(cfg.Server.Addr)
	},
}

// openStore builds the configured session store. The sqlite store takes a
// file lock on the data dir so two instances never share one database.
func openStore(cfg *config.Config) (session.Store, func(), error) {
	switch cfg.Session.Store {
	case "sqlite":
		if err := os.MkdirAll(cfg.Session.DataDir, 0o755); err != nil {
			return nil, nil, errors.Wrap(err, "ensure data directory")
		}
		lock := flock.New(filepath.Join(cfg.Session.DataDir, "captiongen.lock"))
		locked, err := lock.TryLock()
		if err != nil {
			return nil, nil, errors.Wrap(err, "locking data directory")
		}
		if !locked {
			return nil, nil, errors.Errorf("another captiongen instance is using %s", cfg.Session.DataDir)
		}
		store, err := session.OpenSQLite(cfg.Session.DataDir)
		if err != nil {
			_ = lock.Unlock()
			return nil, nil, err
		}
		return store, func() { _ = lock.Unlock() }, nil
	default:
		return session.NewMemoryStore(), func() {}, nil
	}
}
