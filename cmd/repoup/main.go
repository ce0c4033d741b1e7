// Command repoup drives a single add/remove against a package
// repository from the local filesystem or CI, without a real storage
// trigger — the manual counterpart to cmd/repoup-lambda, following
// repoup/entrypoint/aws_lambda.py's handler but reading its GPG key
// directly off disk per spec §6 (GPG_PRIVATE_KEY as a file path)
// instead of fetching it from a secret store.
package main

import (
	"context"
	"fmt"
	"os"

	flag "github.com/spf13/pflag"
	"github.com/sirupsen/logrus"

	"github.com/repoup/repoup/event"
	"github.com/repoup/repoup/gpgsession"
	"github.com/repoup/repoup/internal/dispatch"
	"github.com/repoup/repoup/internal/envconfig"
	"github.com/repoup/repoup/internal/storageopen"
)

func main() {
	var (
		action = flag.StringP("action", "a", "", `repository action: "add" or "remove"`)
		bucket = flag.String("bucket", "", "bucket name substituted for $bucket in a BASEURL/URL template")
		format = flag.String("log-format", "text", `log output format: "text" or "json"`)
	)
	flag.Parse()

	log := logrus.New()
	if *format == "json" || os.Getenv("REPOUP_LOG_FORMAT") == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	}

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: repoup --action=add|remove [--bucket=...] <package-file-or-name>")
		os.Exit(2)
	}
	arg := flag.Arg(0)

	var act event.Action
	switch *action {
	case "add":
		act = event.ActionAdd
	case "remove":
		act = event.ActionRemove
	default:
		fmt.Fprintf(os.Stderr, "repoup: --action must be \"add\" or \"remove\", got %q\n", *action)
		os.Exit(2)
	}

	ctx := context.Background()
	gpg := gpgFromEnv()
	dispatcher := dispatch.New(dispatch.LoadConfig(), storageopen.Open, gpg, log)

	vars := map[string]string{}
	if *bucket != "" {
		vars["bucket"] = *bucket
	}

	var key string
	var err error
	switch act {
	case event.ActionAdd:
		key, err = dispatcher.Stage(ctx, arg, vars)
	case event.ActionRemove:
		key = arg
	}
	if err != nil {
		log.WithError(err).Fatal("staging package")
	}

	if err := dispatcher.Handle(ctx, *bucket, key, act); err != nil {
		log.WithError(err).Fatal("repository transaction failed")
	}
}

// gpgFromEnv builds the process's GPG session directly from
// GPG_PRIVATE_KEY/GPG_PASSWORD/GPG_EXECUTABLE, the literal env
// contract spec §6 documents for the core: GPG_PRIVATE_KEY here is
// already a path to a key file on disk, unlike the Lambda entrypoint,
// which receives armored key content from a secret store and writes
// it to disk itself.
func gpgFromEnv() *gpgsession.Session {
	cfg := envconfig.New("GPG_")
	return gpgsession.New(cfg.GetString("PRIVATE_KEY", ""), cfg.GetString("PASSWORD", ""), true)
}
