package gate

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/lomi/client/internal/config"
)

// HostPlatformTelegram is the only host the client runs inside.
const HostPlatformTelegram = "telegram"

// InitDataEnv is the variable the host launcher exports the init data blob in.
const InitDataEnv = "LOMI_INIT_DATA"

// PlatformDetector reports whether the client was launched by the host
// platform.
type PlatformDetector struct {
	Platform string
	// HasInitData is set when an init data blob or file was configured.
	HasInitData bool
}

// NewPlatformDetector builds a detector from gate configuration.
func NewPlatformDetector(cfg config.GateConfig) PlatformDetector {
	return PlatformDetector{
		Platform:    cfg.HostPlatform,
		HasInitData: cfg.InitData != "" || cfg.InitDataFile != "",
	}
}

// InHostEnvironment implements Detector.
func (d PlatformDetector) InHostEnvironment(context.Context) bool {
	return strings.EqualFold(d.Platform, HostPlatformTelegram) || d.HasInitData
}

// EnvSource reads the credential from an environment variable on every call.
type EnvSource struct {
	Key string
}

// Credential implements CredentialSource.
func (s EnvSource) Credential(context.Context) (string, error) {
	key := s.Key
	if key == "" {
		key = InitDataEnv
	}
	blob := strings.TrimSpace(os.Getenv(key))
	if blob == "" {
		return "", ErrCredentialUnavailable
	}
	return blob, nil
}

// FileSource reads the credential from a file the host launcher writes once
// its bridge script has loaded. A missing or empty file means "not yet".
type FileSource struct {
	Path string
}

// Credential implements CredentialSource.
func (s FileSource) Credential(context.Context) (string, error) {
	raw, err := os.ReadFile(s.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", ErrCredentialUnavailable
		}
		return "", fmt.Errorf("read init data: %w", err)
	}
	blob := strings.TrimSpace(string(raw))
	if blob == "" {
		return "", ErrCredentialUnavailable
	}
	return blob, nil
}

// StaticSource always returns the same blob.
type StaticSource string

// Credential implements CredentialSource.
func (s StaticSource) Credential(context.Context) (string, error) {
	if s == "" {
		return "", ErrCredentialUnavailable
	}
	return string(s), nil
}

// NewCredentialSource picks a source from gate configuration: the init data
// file when set, otherwise the environment.
func NewCredentialSource(cfg config.GateConfig) CredentialSource {
	if cfg.InitDataFile != "" {
		return FileSource{Path: cfg.InitDataFile}
	}
	return EnvSource{Key: InitDataEnv}
}
