package event

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	payload := []byte(`{
		"Records": [
			{
				"eventName": "ObjectCreated:Put",
				"s3": {"bucket": {"name": "repo-bucket"}, "object": {"key": "pool/main/h/hello/hello_1.0-1_amd64.deb"}}
			},
			{
				"eventName": "ObjectRemoved:Delete",
				"s3": {"bucket": {"name": "repo-bucket"}, "object": {"key": "rpm/8/x86_64/hello-1.0-1.el8.x86_64.rpm"}}
			},
			{
				"eventName": "ObjectRestore:Completed",
				"s3": {"bucket": {"name": "repo-bucket"}, "object": {"key": "ignored.txt"}}
			}
		]
	}`)

	records, err := Decode(payload)
	require.NoError(t, err)
	require.Len(t, records, 3)

	assert.Equal(t, ActionAdd, records[0].Action)
	assert.Equal(t, "repo-bucket", records[0].Bucket)
	assert.Equal(t, "pool/main/h/hello/hello_1.0-1_amd64.deb", records[0].Key)

	assert.Equal(t, ActionRemove, records[1].Action)
	assert.Equal(t, "rpm/8/x86_64/hello-1.0-1.el8.x86_64.rpm", records[1].Key)

	assert.Equal(t, ActionIgnore, records[2].Action)
}

func TestDecode_InvalidJSON(t *testing.T) {
	_, err := Decode([]byte("not json"))
	assert.Error(t, err)
}

func TestDispatch_SkipsIgnoredAndStopsOnFirstError(t *testing.T) {
	records := []Record{
		{Action: ActionIgnore, Bucket: "b", Key: "skip.txt"},
		{Action: ActionAdd, Bucket: "b", Key: "one.deb"},
		{Action: ActionRemove, Bucket: "b", Key: "two.deb"},
	}

	var handled []string
	err := Dispatch(context.Background(), records, func(_ context.Context, bucket, key string, action Action) error {
		handled = append(handled, key)
		if key == "two.deb" {
			return assert.AnError
		}
		return nil
	})

	assert.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, []string{"one.deb", "two.deb"}, handled)
}

func TestDispatch_NoRecords(t *testing.T) {
	err := Dispatch(context.Background(), nil, func(context.Context, string, string, Action) error {
		t.Fatal("handle should not be called")
		return nil
	})
	assert.NoError(t, err)
}
