package eventstore

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Abhaysoft-inc/library-management-app-sub000/internal/postgres"
)

type bookAdded struct {
	Title string `json:"title"`
}

func Test_NewEvent_EncodesPayload(t *testing.T) {
	event, err := NewEvent("BookAdded", bookAdded{Title: "Dune"})
	require.NoError(t, err)

	var decoded bookAdded
	require.NoError(t, event.Decode(&decoded))
	assert.Equal(t, "Dune", decoded.Title)
	assert.Equal(t, "BookAdded", event.EventType)
}

func Test_WithActor_DoesNotShareMetadata(t *testing.T) {
	base, err := NewEvent("BookAdded", bookAdded{})
	require.NoError(t, err)
	actor := uuid.New()

	tagged := base.WithActor(actor)

	assert.Nil(t, base.Metadata)
	assert.Equal(t, actor.String(), tagged.Metadata["actor"])
}

func Test_Append_AssignsSequentialVersions(t *testing.T) {
	db := postgres.OpenTestDB(t)
	es := New()
	ctx := context.Background()
	id := uuid.New()

	first, _ := NewEvent("BookAdded", bookAdded{Title: "Dune"})
	second, _ := NewEvent("BookRetired", struct{}{})

	err := postgres.WithTx(ctx, db, func(tx *sqlx.Tx) error {
		return es.Append(ctx, tx, id, AggregateBook, 0, first.WithActor(uuid.New()), second)
	})
	require.NoError(t, err)

	events, err := es.Load(ctx, db, id, 1, 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, 1, events[0].Version)
	assert.Equal(t, 2, events[1].Version)
	assert.Contains(t, events[0].Metadata, "actor")

	events, err = es.Load(ctx, db, id, 1, 1)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func Test_Append_RejectsStaleVersion(t *testing.T) {
	db := postgres.OpenTestDB(t)
	es := New()
	ctx := context.Background()
	id := uuid.New()
	event, _ := NewEvent("BookAdded", bookAdded{})

	require.NoError(t, es.Append(ctx, db, id, AggregateBook, 0, event))

	err := es.Append(ctx, db, id, AggregateBook, 0, event)
	assert.ErrorIs(t, err, ErrConcurrencyConflict)
}

func Test_Append_ConcurrentWritersOneWins(t *testing.T) {
	db := postgres.OpenTestDB(t)
	es := New()
	ctx := context.Background()
	id := uuid.New()
	event, _ := NewEvent("BookAdded", bookAdded{})

	const writers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := postgres.WithTx(ctx, db, func(tx *sqlx.Tx) error {
				return es.Append(ctx, tx, id, AggregateBook, 0, event)
			})
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	version, err := es.CurrentVersion(ctx, db, id)
	require.NoError(t, err)
	assert.Equal(t, 1, version)
}
