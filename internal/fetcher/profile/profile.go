// Package profile seeds browser user-data directories from a template profile.
package profile

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// StealthSuffix names the sibling directory used by the stealth browser.
// Chrome locks a user-data-dir, so two engines never share one.
const StealthSuffix = "-stealth"

// Config describes one profile directory to prepare.
type Config struct {
	// Dir is the user-data-dir handed to the browser.
	Dir string
	// Template is copied into Dir when Dir does not exist yet.
	Template string
	// Reset discards an existing Dir before seeding it again.
	Reset bool
}

// StealthDir returns the stealth engine's directory for a primary profile dir.
func StealthDir(dir string) string {
	if dir == "" {
		return ""
	}
	return filepath.Clean(dir) + StealthSuffix
}

// Prepare makes cfg.Dir ready for a browser launch.
func Prepare(cfg Config, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Dir == "" {
		return nil
	}
	dir := filepath.Clean(cfg.Dir)
	if cfg.Template != "" && filepath.Clean(cfg.Template) == dir {
		return fmt.Errorf("profile template and directory are the same: %s", dir)
	}

	if _, err := os.Stat(dir); err == nil {
		if !cfg.Reset {
			logger.Debug("using existing browser profile", zap.String("dir", dir))
			return nil
		}
		logger.Info("resetting browser profile", zap.String("dir", dir))
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("reset profile %s: %w", dir, err)
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("stat profile %s: %w", dir, err)
	}

	if cfg.Template == "" {
		return os.MkdirAll(dir, 0o700)
	}
	logger.Info("copying browser profile",
		zap.String("template", cfg.Template),
		zap.String("dir", dir))
	if err := copyTree(cfg.Template, dir); err != nil {
		_ = os.RemoveAll(dir)
		return fmt.Errorf("copy profile %s: %w", cfg.Template, err)
	}
	return nil
}

// copyTree copies regular files and directories. Symlinks and Chrome's
// Singleton lock files are skipped; they belong to a running browser.
func copyTree(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", src)
	}
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		switch {
		case d.IsDir():
			return os.MkdirAll(target, 0o700)
		case d.Type()&fs.ModeSymlink != 0, strings.HasPrefix(d.Name(), "Singleton"):
			return nil
		case !d.Type().IsRegular():
			return nil
		}
		return copyFile(path, target)
	})
}

func copyFile(src, dst string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); err == nil {
			err = cerr
		}
	}()
	_, err = io.Copy(out, in)
	return err
}
