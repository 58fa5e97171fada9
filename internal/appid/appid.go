package appid

import (
	"context"
	"errors"
	"os"
	"strings"

	"github.com/fulmenhq/gofulmen/appidentity"
)

const (
	BinaryName  = "floodgate"
	EnvPrefix   = "FLOODGATE_"
	ConfigName  = "floodgate"
	Description = "Flood control and redirect resolution service"
)

// Default returns the built-in identity used when no .fulmen/app.yaml is found.
func Default() *appidentity.Identity {
	return &appidentity.Identity{
		BinaryName:  BinaryName,
		EnvPrefix:   EnvPrefix,
		ConfigName:  ConfigName,
		Description: Description,
	}
}

// Get resolves the application identity. An explicit identity path in the
// environment stays authoritative; otherwise a missing identity file falls
// back to Default.
func Get(ctx context.Context) (*appidentity.Identity, error) {
	identity, err := appidentity.Get(ctx)
	if err == nil && identity != nil {
		return identity, nil
	}

	var notFound *appidentity.NotFoundError
	if err != nil && !errors.As(err, &notFound) {
		return nil, err
	}
	if err != nil && strings.TrimSpace(os.Getenv(appidentity.EnvIdentityPath)) != "" {
		return nil, err
	}

	return Default(), nil
}
