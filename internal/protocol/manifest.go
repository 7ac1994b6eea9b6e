package protocol

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
)

// Item describes one transferred entry. Path is slash-separated and relative;
// Size is raw bytes in chunked mode and post-compression bytes otherwise.
// Dir marks a directory archive, which carries no content hash.
type Item struct {
	Path      string `json:"path"`
	Size      int64  `json:"size"`
	SHA256    string `json:"sha256,omitempty"`
	NumChunks int    `json:"num_chunks,omitempty"`
	Dir       bool   `json:"dir,omitempty"`
}

// Manifest is built once by the sender and immutable afterwards. Item order
// equals streaming order.
type Manifest struct {
	Version string `json:"version"`
	Items   []Item `json:"items"`
}

func (m *Manifest) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// TotalSize sums the declared item sizes.
func (m *Manifest) TotalSize() int64 {
	var total int64
	for _, item := range m.Items {
		total += item.Size
	}
	return total
}

// ParseManifest validates the received manifest bytes structurally: the top
// level must be an object, the version must map to a known strategy, items
// must be an array of objects each carrying the fields its strategy requires.
func ParseManifest(data []byte) (*Manifest, Mode, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil {
		return nil, 0, fmt.Errorf("manifest is not a JSON object: %w", err)
	}

	rawVersion, ok := top["version"]
	if !ok {
		return nil, 0, fmt.Errorf("manifest is missing the version field")
	}
	var version string
	if err := json.Unmarshal(rawVersion, &version); err != nil {
		return nil, 0, fmt.Errorf("manifest version is not a string: %w", err)
	}
	mode, known := ModeForVersion(version)
	if !known {
		return nil, 0, fmt.Errorf("version mismatch: peer sent %q, this build supports %q, %q, %q",
			version, VersionChunked, VersionWhole, VersionArchive)
	}

	rawItems, ok := top["items"]
	if !ok {
		return nil, 0, fmt.Errorf("manifest is missing the items field")
	}
	var rawList []json.RawMessage
	if err := json.Unmarshal(rawItems, &rawList); err != nil {
		return nil, 0, fmt.Errorf("manifest items is not an array: %w", err)
	}

	manifest := &Manifest{Version: version, Items: make([]Item, 0, len(rawList))}
	for i, raw := range rawList {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(raw, &obj); err != nil {
			return nil, 0, fmt.Errorf("manifest item %d is not an object: %w", i, err)
		}
		var item Item
		if err := json.Unmarshal(raw, &item); err != nil {
			return nil, 0, fmt.Errorf("manifest item %d is malformed: %w", i, err)
		}
		if err := validateItem(item, obj, mode); err != nil {
			return nil, 0, fmt.Errorf("manifest item %d: %w", i, err)
		}
		manifest.Items = append(manifest.Items, item)
	}

	return manifest, mode, nil
}

func validateItem(item Item, fields map[string]json.RawMessage, mode Mode) error {
	if _, ok := fields["path"]; !ok {
		return fmt.Errorf("missing path")
	}
	if item.Path == "" {
		return fmt.Errorf("empty path")
	}
	if _, ok := fields["size"]; !ok {
		return fmt.Errorf("missing size")
	}
	if item.Size < 0 {
		return fmt.Errorf("negative size %d", item.Size)
	}

	if mode == ModeArchive && item.Dir {
		// Directory archives carry no content hash. Known gap.
		return nil
	}
	if item.SHA256 == "" {
		return fmt.Errorf("missing sha256")
	}
	if len(item.SHA256) != sha256.Size*2 {
		return fmt.Errorf("sha256 is not a 64-char hex digest")
	}
	if mode == ModeChunked && item.NumChunks < 1 {
		return fmt.Errorf("num_chunks must be at least 1, got %d", item.NumChunks)
	}
	return nil
}

// TotalChunks is the ceiling of size over chunkSize. Zero-length files still
// occupy one chunk so the receiver always gets at least one message per item.
func TotalChunks(size, chunkSize int64) int {
	if chunkSize <= 0 {
		return 0
	}
	n := int((size + chunkSize - 1) / chunkSize)
	if n < 1 {
		return 1
	}
	return n
}

// HashFile computes the hex SHA-256 digest of everything readable from r.
func HashFile(r io.Reader) (string, error) {
	hash := sha256.New()
	if _, err := io.Copy(hash, r); err != nil {
		return "", err
	}
	return fmt.Sprintf("%x", hash.Sum(nil)), nil
}
