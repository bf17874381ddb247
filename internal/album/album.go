// Package album lists the finished pictures of a tag. It reads the same
// upload tree the pipeline writes, skipping derivative files and anything
// the per-tag blacklist names.
package album

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/photobooth/backend/internal/picture"
)

const blacklistFile = "blacklist.txt"

// Picture is one finished capture as served to listing clients: the three
// public URLs for its derivatives.
type Picture struct {
	Basename string `json:"basename"`
	Original string `json:"original"`
	Medium   string `json:"medium"`
	Small    string `json:"small"`
}

// Registry resolves tags against the upload tree.
type Registry struct {
	root       string
	publicHost string

	// mu serializes blacklist appends; directory scans read a consistent
	// file snapshot.
	mu sync.Mutex
}

func NewRegistry(root, publicHost string) *Registry {
	return &Registry{root: root, publicHost: publicHost}
}

// LastPictures returns up to limit of the tag's most recent pictures, in
// chronological order. Timestamped basenames sort lexically, so directory
// order is capture order. A tag with no directory yet is an empty album,
// not an error.
func (r *Registry) LastPictures(tag string, limit int) ([]Picture, error) {
	dir := picture.DirForTag(r.root, tag)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading album %s: %w", tag, err)
	}

	blacklisted, err := r.blacklisted(tag)
	if err != nil {
		return nil, err
	}

	baseURL := picture.BaseURL(r.publicHost, tag)
	var pics []Picture
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || name == blacklistFile {
			continue
		}
		// Only originals are listed; derivatives hang off them.
		if strings.Contains(name, picture.MediumSuffix) || strings.Contains(name, picture.SmallSuffix) {
			continue
		}
		if blacklisted[name] {
			continue
		}

		base, ext := picture.SplitExt(name)
		pics = append(pics, Picture{
			Basename: name,
			Original: baseURL + name,
			Medium:   baseURL + base + picture.MediumSuffix + "." + ext,
			Small:    baseURL + base + picture.SmallSuffix + "." + ext,
		})
	}

	if limit > 0 && len(pics) > limit {
		pics = pics[len(pics)-limit:]
	}
	return pics, nil
}

// Blacklist appends a discarded picture's basename to the tag's
// blacklist file. The file is only ever appended to by the booth and
// consumed by listings.
func (r *Registry) Blacklist(tag, basename string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	dir := picture.DirForTag(r.root, tag)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating album dir: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(dir, blacklistFile), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening blacklist: %w", err)
	}
	if _, err := f.WriteString(basename + "\n"); err != nil {
		f.Close()
		return fmt.Errorf("appending to blacklist: %w", err)
	}
	return f.Close()
}

func (r *Registry) blacklisted(tag string) (map[string]bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, err := os.Open(filepath.Join(picture.DirForTag(r.root, tag), blacklistFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading blacklist: %w", err)
	}
	defer f.Close()

	names := make(map[string]bool)
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			names[line] = true
		}
	}
	return names, sc.Err()
}
