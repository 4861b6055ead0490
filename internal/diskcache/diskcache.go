// Package diskcache persists the last-known-good config envelope to a
// local file so a process can bootstrap without contacting the
// network. Writes are best-effort; a cache miss or corrupt file is
// never fatal to the caller.
package diskcache

import (
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/reforgehq/reforge-go/internal/wire"
)

const formatVersion = 1

type fileEnvelope struct {
	FormatVersion int    `json:"format_version"`
	Payload       string `json:"payload"`
}

// CachePath derives the path of the cache file for the given key:
// $XDG_CACHE_HOME, else $HOME/.cache, else caching is disabled
// (ok=false). The filename embeds apiKeyID so multiple
// SDK keys on the same machine don't collide; localOnly clients use a
// fixed "local" filename since they never resolve an api_key_id.
func CachePath(sdkKey string, apiKeyID string, localOnly bool) (path string, ok bool) {
	_ = sdkKey
	dir := os.Getenv("XDG_CACHE_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil || home == "" {
			return "", false
		}
		dir = filepath.Join(home, ".cache")
	}

	name := "prefab.cache.local.json"
	if !localOnly {
		name = "prefab.cache." + apiKeyID + ".json"
	}
	return filepath.Join(dir, name), true
}

// Write persists cfgs to path atomically: encode, write to a temp file
// in the same directory, then rename over the target so a concurrent
// reader never observes a partial file. Errors are logged, not
// returned — a failed cache write must never fail startup.
func Write(path string, codec wire.Codec, cfgs wire.Configs, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "diskcache")

	payload, err := codec.Encode(cfgs)
	if err != nil {
		logger.Warn("failed to encode config for disk cache", "error", err)
		return
	}

	env := fileEnvelope{FormatVersion: formatVersion, Payload: base64.StdEncoding.EncodeToString(payload)}
	data, err := json.Marshal(env)
	if err != nil {
		logger.Warn("failed to marshal disk cache envelope", "error", err)
		return
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		logger.Warn("failed to create disk cache directory", "dir", dir, "error", err)
		return
	}

	tmp, err := os.CreateTemp(dir, ".prefab.cache.*.tmp")
	if err != nil {
		logger.Warn("failed to create disk cache temp file", "error", err)
		return
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once the rename below succeeds

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		logger.Warn("failed to write disk cache temp file", "error", err)
		return
	}
	if err := tmp.Close(); err != nil {
		logger.Warn("failed to close disk cache temp file", "error", err)
		return
	}

	if err := os.Rename(tmpPath, path); err != nil {
		logger.Warn("failed to rename disk cache temp file into place", "path", path, "error", err)
		return
	}
	logger.Debug("config written to disk cache", "path", path, "entries", len(cfgs.Configs))
}

// Read loads and decodes the cache file at path. A missing file, an
// unreadable file, or one that doesn't decode as a valid envelope all
// report (Configs{}, false) rather than an error — the caller treats
// every failure mode the same way (fall through to the next source).
func Read(path string, codec wire.Codec, logger *slog.Logger) (wire.Configs, bool) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "diskcache")

	raw, err := os.ReadFile(path)
	if err != nil {
		return wire.Configs{}, false
	}

	var env fileEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		logger.Debug("disk cache file is not valid JSON, ignoring", "path", path, "error", err)
		return wire.Configs{}, false
	}
	if env.FormatVersion != formatVersion {
		logger.Debug("disk cache file has unsupported format version, ignoring", "path", path, "version", env.FormatVersion)
		return wire.Configs{}, false
	}

	payload, err := base64.StdEncoding.DecodeString(env.Payload)
	if err != nil {
		logger.Debug("disk cache payload is not valid base64, ignoring", "path", path, "error", err)
		return wire.Configs{}, false
	}

	cfgs, err := codec.Decode(payload)
	if err != nil {
		logger.Debug("disk cache payload failed to decode, ignoring", "path", path, "error", err)
		return wire.Configs{}, false
	}
	return cfgs, true
}
