// Package event decodes the storage-event payload that triggers a
// repository update (an S3 "ObjectCreated"/"ObjectRemoved" notification
// in production, delivered as a Lambda event; a synthetic event for
// the local CLI) and dispatches it to the matching repository action.
package event

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
)

// Action is the repository operation a storage event triggers.
type Action string

const (
	// ActionAdd adds the object's key to its repository.
	ActionAdd Action = "add"
	// ActionRemove removes the object's key from its repository.
	ActionRemove Action = "remove"
	// ActionIgnore means the event does not map to any repository action.
	ActionIgnore Action = ""
)

// Record is one decoded notification record: what happened, and to
// which bucket/key.
type Record struct {
	Action Action
	Bucket string
	Key    string
}

// s3Notification mirrors the subset of the AWS S3 event notification
// schema this system reads: Records[].eventName and
// Records[].s3.{bucket.name,object.key}.
type s3Notification struct {
	Records []struct {
		EventName string `json:"eventName"`
		S3        struct {
			Bucket struct {
				Name string `json:"name"`
			} `json:"bucket"`
			Object struct {
				Key string `json:"key"`
			} `json:"object"`
		} `json:"s3"`
	} `json:"Records"`
}

// Decode parses a raw Lambda event payload into its Records, each
// classified to an Action. Records whose eventName does not start
// with "ObjectCreated:" or "ObjectRemoved:" decode to ActionIgnore
// rather than failing; Dispatch logs and skips them.
func Decode(payload []byte) ([]Record, error) {
	var notification s3Notification
	if err := json.Unmarshal(payload, &notification); err != nil {
		return nil, fmt.Errorf("event: decoding payload: %w", err)
	}

	records := make([]Record, 0, len(notification.Records))
	for _, r := range notification.Records {
		records = append(records, Record{
			Action: classify(r.EventName),
			Bucket: r.S3.Bucket.Name,
			Key:    r.S3.Object.Key,
		})
	}
	return records, nil
}

func classify(eventName string) Action {
	switch {
	case strings.HasPrefix(eventName, "ObjectCreated:"):
		return ActionAdd
	case strings.HasPrefix(eventName, "ObjectRemoved:"):
		return ActionRemove
	default:
		return ActionIgnore
	}
}

// Handler resolves and runs the add/remove action for a single key
// against whatever repository find_repository/get_repository would
// return for it. Kept as a func type rather than an interface so
// callers can pass a method value such as dispatch.Dispatcher.Handle
// without an import cycle.
type Handler func(ctx context.Context, bucket, key string, action Action) error

// Dispatch runs handle for every record whose Action is not
// ActionIgnore, stopping and returning the first error encountered.
// Ignored records are logged at info level and skipped.
func Dispatch(ctx context.Context, records []Record, handle Handler) error {
	for _, r := range records {
		if r.Action == ActionIgnore {
			logrus.WithFields(logrus.Fields{"bucket": r.Bucket, "key": r.Key}).
				Info("ignoring unsupported storage event")
			continue
		}
		if err := handle(ctx, r.Bucket, r.Key, r.Action); err != nil {
			return fmt.Errorf("event: handling s3://%s/%s: %w", r.Bucket, r.Key, err)
		}
	}
	return nil
}
