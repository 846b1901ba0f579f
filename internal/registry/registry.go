// Package registry implements the shared provider registry: a line-oriented
// file of provider URLs that providers append themselves to on startup, and
// the small HTTP server that serves it to shells.
package registry

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DefaultPath returns the conventional registry location, ~/.sa/saps.txt.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("registry: resolve home dir: %w", err)
	}
	return filepath.Join(home, ".sa", "saps.txt"), nil
}

// Read returns the registered provider URLs, skipping blank lines and
// #-comments. A missing file reads as empty.
func Read(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("registry: open %s: %w", path, err)
	}
	defer f.Close()

	var entries []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		entries = append(entries, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("registry: read %s: %w", path, err)
	}
	return entries, nil
}

// Register appends url to the registry file unless it is already present.
// The parent directory is created on demand. Write-only: nothing in the
// provider ever reads the file back.
func Register(path, url string) error {
	existing, err := Read(path)
	if err != nil {
		return err
	}
	for _, e := range existing {
		if e == url {
			return nil
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("registry: create dir: %w", err)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("registry: open %s for append: %w", path, err)
	}
	defer f.Close()

	// Keep the file line-oriented even if the previous writer left no
	// trailing newline.
	line := url + "\n"
	if info, err := f.Stat(); err == nil && info.Size() > 0 {
		line = "\n" + url + "\n"
	}
	if _, err := f.WriteString(line); err != nil {
		return fmt.Errorf("registry: append to %s: %w", path, err)
	}
	return nil
}
