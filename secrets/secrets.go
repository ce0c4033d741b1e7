// Package secrets resolves the GPG private key material a repository
// transaction signs with. The AWS Lambda entrypoint originally read
// this straight from SSM Parameter Store; this module generalizes
// that one call behind a Loader so a deployment can instead point at
// Infisical, or simply at environment variables for local use.
package secrets

import (
	"context"
	"fmt"

	infisical "github.com/infisical/go-sdk"

	"github.com/repoup/repoup/internal/envconfig"
)

// KeyMaterial is the GPG signing material resolved for a transaction.
type KeyMaterial struct {
	// PrivateKeyArmored is the armored private key block.
	PrivateKeyArmored string
	// Password unlocks the private key, if any.
	Password string
}

// Loader resolves GPG key material from some external secret store.
type Loader interface {
	Load(ctx context.Context) (KeyMaterial, error)
}

// EnvLoader reads key material directly from the process environment,
// the same GPG_PRIVATE_KEY/GPG_PASSWORD variables RepositoryBase read
// at module import time, now resolved when Load is called (once per
// process, by dispatch.InitGPG).
type EnvLoader struct {
	cfg *envconfig.EnvConfig
}

// NewEnvLoader builds an EnvLoader.
func NewEnvLoader() *EnvLoader {
	return &EnvLoader{cfg: envconfig.New("")}
}

// Load implements Loader.
func (l *EnvLoader) Load(ctx context.Context) (KeyMaterial, error) {
	return KeyMaterial{
		PrivateKeyArmored: l.cfg.GetString("GPG_PRIVATE_KEY", ""),
		Password:          l.cfg.GetString("GPG_PASSWORD", ""),
	}, nil
}

// InfisicalLoader fetches key material from an Infisical project,
// identified by INFISICAL_PROJECT_ID/INFISICAL_ENVIRONMENT, under the
// secret names given by INFISICAL_GPG_PRIVATE_KEY_SECRET/
// INFISICAL_GPG_PASSWORD_SECRET (default GPG_PRIVATE_KEY/GPG_PASSWORD).
type InfisicalLoader struct {
	client      infisical.InfisicalClientInterface
	projectID   string
	environment string
	keyPath     string
	passwordKey string
}

// NewInfisicalLoader builds an InfisicalLoader authenticated with a
// universal-auth client ID/secret pair, as evalgo-org-eve wires other
// cloud SDKs through environment-sourced credentials.
func NewInfisicalLoader(ctx context.Context, clientID, clientSecret string) (*InfisicalLoader, error) {
	cfg := envconfig.New("INFISICAL_")
	client := infisical.NewInfisicalClient(ctx, infisical.Config{
		SiteUrl: cfg.GetString("SITE_URL", "https://app.infisical.com"),
	})

	_, err := client.Auth().UniversalAuthLogin(clientID, clientSecret)
	if err != nil {
		return nil, fmt.Errorf("secrets: infisical universal auth login: %w", err)
	}

	return &InfisicalLoader{
		client:      client,
		projectID:   cfg.MustGetString("PROJECT_ID"),
		environment: cfg.GetString("ENVIRONMENT", "prod"),
		keyPath:     cfg.GetString("GPG_PRIVATE_KEY_SECRET", "GPG_PRIVATE_KEY"),
		passwordKey: cfg.GetString("GPG_PASSWORD_SECRET", "GPG_PASSWORD"),
	}, nil
}

// Load implements Loader.
func (l *InfisicalLoader) Load(ctx context.Context) (KeyMaterial, error) {
	key, err := l.client.Secrets().Retrieve(infisical.RetrieveSecretOptions{
		SecretKey:   l.keyPath,
		ProjectID:   l.projectID,
		Environment: l.environment,
	})
	if err != nil {
		return KeyMaterial{}, fmt.Errorf("secrets: retrieving %s: %w", l.keyPath, err)
	}

	password, err := l.client.Secrets().Retrieve(infisical.RetrieveSecretOptions{
		SecretKey:   l.passwordKey,
		ProjectID:   l.projectID,
		Environment: l.environment,
	})
	if err != nil {
		// Password is optional: an unprotected private key has none.
		return KeyMaterial{PrivateKeyArmored: key.SecretValue}, nil
	}

	return KeyMaterial{
		PrivateKeyArmored: key.SecretValue,
		Password:          password.SecretValue,
	}, nil
}
