package session

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"beam/internal/protocol"
)

// outgoingItem pairs a manifest entry with what the sender needs to stream
// it: the source path in chunked mode, a prebuilt compressed blob otherwise.
type outgoingItem struct {
	srcPath string
	blob    []byte
	rawSize int64
	item    protocol.Item
}

// buildManifest enumerates the transfer arguments into manifest items, in the
// exact order they will be streamed. Directory arguments are walked
// recursively with paths kept relative to the argument's parent, so the
// directory's own name survives on the receiving side.
func buildManifest(args []string, mode protocol.Mode, chunkSize int64) (*protocol.Manifest, []outgoingItem, error) {
	var outgoing []outgoingItem

	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, nil, &ConfigError{Msg: fmt.Sprintf("file or directory does not exist: %s", arg)}
		}

		if info.IsDir() {
			items, err := scanDir(arg, mode, chunkSize)
			if err != nil {
				return nil, nil, err
			}
			outgoing = append(outgoing, items...)
			continue
		}

		item, err := scanFile(arg, filepath.Base(filepath.Clean(arg)), mode, chunkSize)
		if err != nil {
			return nil, nil, err
		}
		outgoing = append(outgoing, item)
	}

	manifest := &protocol.Manifest{Version: mode.Version(), Items: make([]protocol.Item, 0, len(outgoing))}
	for _, out := range outgoing {
		manifest.Items = append(manifest.Items, out.item)
	}
	return manifest, outgoing, nil
}

func scanDir(arg string, mode protocol.Mode, chunkSize int64) ([]outgoingItem, error) {
	root, name, err := resolveDir(arg)
	if err != nil {
		return nil, err
	}

	if mode == protocol.ModeArchive {
		item, err := archiveDir(root, name)
		if err != nil {
			return nil, err
		}
		return []outgoingItem{item}, nil
	}

	parent := filepath.Dir(root)
	var items []outgoingItem
	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(parent, path)
		if err != nil {
			return err
		}
		item, err := scanFile(path, filepath.ToSlash(rel), mode, chunkSize)
		if err != nil {
			return err
		}
		items = append(items, item)
		return nil
	})
	if walkErr != nil {
		return nil, fmt.Errorf("walking %s: %w", arg, walkErr)
	}
	return items, nil
}

func scanFile(path, relPath string, mode protocol.Mode, chunkSize int64) (outgoingItem, error) {
	f, err := os.Open(path)
	if err != nil {
		return outgoingItem{}, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	if mode == protocol.ModeChunked {
		info, err := f.Stat()
		if err != nil {
			return outgoingItem{}, err
		}
		digest, err := protocol.HashFile(f)
		if err != nil {
			return outgoingItem{}, fmt.Errorf("hashing %s: %w", path, err)
		}
		size := info.Size()
		return outgoingItem{
			srcPath: path,
			rawSize: size,
			item: protocol.Item{
				Path:      relPath,
				Size:      size,
				SHA256:    digest,
				NumChunks: protocol.TotalChunks(size, chunkSize),
			},
		}, nil
	}

	// Whole-item: one compressed blob per file; the manifest declares the
	// post-compression size.
	raw, err := io.ReadAll(f)
	if err != nil {
		return outgoingItem{}, fmt.Errorf("reading %s: %w", path, err)
	}
	digest, err := protocol.HashFile(bytes.NewReader(raw))
	if err != nil {
		return outgoingItem{}, err
	}
	blob, err := protocol.Compress(raw)
	if err != nil {
		return outgoingItem{}, err
	}
	return outgoingItem{
		blob:    blob,
		rawSize: int64(len(raw)),
		item: protocol.Item{
			Path:   relPath,
			Size:   int64(len(blob)),
			SHA256: digest,
		},
	}, nil
}

// archiveDir packs the directory into one tar blob, compressed as a whole.
// Archive items declare no content hash.
func archiveDir(root, name string) (outgoingItem, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(zw)

	parent := filepath.Dir(root)
	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(parent, path)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		hdr := &tar.Header{
			Name: filepath.ToSlash(rel),
			Mode: 0o644,
			Size: info.Size(),
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
	if walkErr != nil {
		return outgoingItem{}, fmt.Errorf("archiving %s: %w", root, walkErr)
	}
	if err := tw.Close(); err != nil {
		return outgoingItem{}, err
	}
	if err := zw.Close(); err != nil {
		return outgoingItem{}, err
	}

	blob := buf.Bytes()
	return outgoingItem{
		blob:    blob,
		rawSize: int64(len(blob)),
		item: protocol.Item{
			Path: name,
			Size: int64(len(blob)),
			Dir:  true,
		},
	}, nil
}

// resolveDir cleans a directory argument and resolves ".", ".." and empty
// base names to the actual directory name, falling back to a literal "root".
func resolveDir(arg string) (root, name string, err error) {
	root = filepath.Clean(arg)
	name = filepath.Base(root)
	if name == "." || name == ".." || name == string(filepath.Separator) || name == "" {
		abs, absErr := filepath.Abs(arg)
		if absErr != nil {
			return "", "", absErr
		}
		root = abs
		name = filepath.Base(abs)
		if name == "." || name == string(filepath.Separator) || name == "" {
			name = "root"
		}
	}
	return root, name, nil
}
