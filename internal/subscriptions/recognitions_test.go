package subscriptions

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHistory_FetchesAndCaches(t *testing.T) {
	backend := newFakeBackend()
	backend.responses[endpointRecognitions] = `{
		"status": "fetched",
		"message": {
			"all_recognition_entries": [
				{
					"recognized_specie_name": "blue jay",
					"earth_timestamp": "2026-08-20 14:03:11",
					"presigned_thumbnail_url": "https://cdn.example/t1.jpg"
				}
			]
		}
	}`

	history := NewHistory(backend, staticIdentity{id: "user-1"})

	entries, err := history.Entries(context.Background(), "1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "blue jay", entries[0].SpeciesName)

	// Second access must come from the cache, not the backend.
	_, err = history.Entries(context.Background(), "1")
	require.NoError(t, err)
	assert.Len(t, backend.calls, 1)
}

func TestHistory_EmptyListCachedAsEmpty(t *testing.T) {
	backend := newFakeBackend()
	backend.responses[endpointRecognitions] = `{
		"status": "fetched",
		"message": {"all_recognition_entries": []}
	}`

	history := NewHistory(backend, staticIdentity{id: "user-1"})

	entries, err := history.Entries(context.Background(), "1")
	require.NoError(t, err)
	assert.Empty(t, entries)

	_, err = history.Entries(context.Background(), "1")
	require.NoError(t, err)
	assert.Len(t, backend.calls, 1, "empty result must still be cached")
}

func TestHistory_ClearForcesRefetch(t *testing.T) {
	backend := newFakeBackend()
	backend.responses[endpointRecognitions] = `{
		"status": "fetched",
		"message": {"all_recognition_entries": []}
	}`

	history := NewHistory(backend, staticIdentity{id: "user-1"})

	_, err := history.Entries(context.Background(), "1")
	require.NoError(t, err)

	history.Clear()

	_, err = history.Entries(context.Background(), "1")
	require.NoError(t, err)
	assert.Len(t, backend.calls, 2)
}

func TestRecognition_DisplayName(t *testing.T) {
	r := Recognition{SpeciesName: "northern cardinal"}
	assert.Equal(t, "Northern Cardinal", r.DisplayName())
}
