// ABOUTME: Embedded assets for the chat client
// ABOUTME: Holds the desktop notification icon
package assets

import (
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
)

//go:embed icon.png
var IconPNG []byte

const (
	iconFile    = "notification-icon.png"
	iconHashKey = "notification_icon_hash"
)

// ConfigStore is the key/value store used to remember which icon was last written
type ConfigStore interface {
	GetConfig(key string) (string, error)
	SetConfig(key, value string) error
}

// NotificationIcon returns the path of the notification icon inside dataDir,
// rewriting it when the file is missing or the embedded icon has changed
func NotificationIcon(dataDir string, store ConfigStore) (string, error) {
	path := filepath.Join(dataDir, iconFile)
	want := hashOf(IconPNG)

	stored, _ := store.GetConfig(iconHashKey)
	_, statErr := os.Stat(path)
	if statErr == nil && stored == want {
		return path, nil
	}

	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create %s: %w", dataDir, err)
	}
	if err := os.WriteFile(path, IconPNG, 0o644); err != nil {
		return "", fmt.Errorf("failed to write notification icon: %w", err)
	}
	_ = store.SetConfig(iconHashKey, want)

	return path, nil
}

func hashOf(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
