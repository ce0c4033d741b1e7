// Command repoup-lambda decodes a single S3-event-shaped JSON
// document from stdin and dispatches it through event.Dispatch,
// standing in for the real AWS Lambda runtime (out of scope per spec
// §1) the way repoup/entrypoint/aws_lambda.py's handler is invoked by
// the actual Lambda service: GPG key material is resolved once, at
// process start, from whichever secrets.Loader the environment
// selects, exactly as aws_lambda.py's module-level _init_gpg ran once
// per container instead of once per invocation.
package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/repoup/repoup/event"
	"github.com/repoup/repoup/internal/dispatch"
	"github.com/repoup/repoup/internal/envconfig"
	"github.com/repoup/repoup/internal/storageopen"
	"github.com/repoup/repoup/secrets"
)

func main() {
	log := logrus.New()
	if os.Getenv("REPOUP_LOG_FORMAT") == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	}

	ctx := context.Background()

	gpg, err := dispatch.InitGPG(ctx, secretsLoader(ctx))
	if err != nil {
		log.WithError(err).Fatal("initializing gpg session")
	}

	payload, err := io.ReadAll(os.Stdin)
	if err != nil {
		log.WithError(err).Fatal("reading event payload from stdin")
	}

	records, err := event.Decode(payload)
	if err != nil {
		log.WithError(err).Fatal("decoding event payload")
	}

	dispatcher := dispatch.New(dispatch.LoadConfig(), storageopen.Open, gpg, log)
	if err := event.Dispatch(ctx, records, dispatcher.Handle); err != nil {
		log.WithError(err).Fatal("handling event")
	}
}

// secretsLoader selects InfisicalLoader when INFISICAL_CLIENT_ID/
// INFISICAL_CLIENT_SECRET are configured, falling back to EnvLoader
// (GPG_PRIVATE_KEY/GPG_PASSWORD read as key content, not a path — the
// Lambda-side equivalent of aws_lambda.py reading the key content
// SSM handed it), matching secrets.Loader's pluggable design.
func secretsLoader(ctx context.Context) secrets.Loader {
	cfg := envconfig.New("INFISICAL_")
	clientID, hasID := cfg.LookupString("CLIENT_ID")
	clientSecret, hasSecret := cfg.LookupString("CLIENT_SECRET")
	if hasID && hasSecret {
		loader, err := secrets.NewInfisicalLoader(ctx, clientID, clientSecret)
		if err == nil {
			return loader
		}
		fmt.Fprintf(os.Stderr, "repoup-lambda: infisical loader unavailable, falling back to env: %v\n", err)
	}
	return secrets.NewEnvLoader()
}
