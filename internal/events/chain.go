package events

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/ngce-pmdm/contour-builder/internal/util"
)

var ErrNoChainHead = errors.New("no chain head")

// ComputeEventHash hashes the canonical JSON of evt with its own hash blanked.
func ComputeEventHash(evt *RunEvent) string {
	clone := *evt
	clone.Chain.EventHash = ""

	data, err := json.Marshal(clone)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(sum[:])
}

// GenerateEventID returns a random event identifier.
func GenerateEventID() string {
	return uuid.NewString()
}

// ChainTracker persists the last event hash per chain key.
type ChainTracker struct {
	mu       sync.Mutex
	heads    map[string]string
	filePath string
}

// NewChainTracker loads chain heads from dir, creating it when missing.
func NewChainTracker(dir string) (*ChainTracker, error) {
	if err := util.EnsureDir(dir); err != nil {
		return nil, fmt.Errorf("create chain dir: %w", err)
	}

	t := &ChainTracker{
		heads:    make(map[string]string),
		filePath: filepath.Join(dir, "contour-chain-heads.json"),
	}

	data, err := os.ReadFile(t.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return t, nil
		}
		return nil, fmt.Errorf("read chain heads: %w", err)
	}
	if err := json.Unmarshal(data, &t.heads); err != nil {
		return nil, fmt.Errorf("parse chain heads: %w", err)
	}
	return t, nil
}

// GetHead returns the last hash for key, or ErrNoChainHead.
func (t *ChainTracker) GetHead(key string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	head, ok := t.heads[key]
	if !ok {
		return "", ErrNoChainHead
	}
	return head, nil
}

// SetHead records hash as the head of key and saves all heads.
func (t *ChainTracker) SetHead(key, hash string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.heads[key] = hash
	data, err := json.MarshalIndent(t.heads, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal chain heads: %w", err)
	}
	return util.WriteFileAtomic(t.filePath, data)
}
