package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/scholarmarket-backend/pkg/db/dbtest"
	"github.com/angelmondragon/scholarmarket-backend/pkg/enums"
	"github.com/angelmondragon/scholarmarket-backend/pkg/outbox/payloads"
)

func TestEmitWritesEnvelopeOnlyOnCommit(t *testing.T) {
	client := dbtest.Open(t)
	repo := NewRepository(client.DB())
	svc := NewService(repo, nil)
	ctx := context.Background()

	require.NoError(t, client.WithTx(ctx, func(tx *gorm.DB) error {
		return svc.Emit(ctx, tx, DomainEvent{
			EventType:     enums.EventWorkApproved,
			AggregateType: enums.AggregateWork,
			AggregateID:   "7",
			Actor:         &ActorRef{UserID: 1, Role: "admin"},
			Data:          payloads.Publication{WorkID: 7, Title: "Thesis", Price: 100000},
		})
	}))

	rolledBack := client.WithTx(ctx, func(tx *gorm.DB) error {
		if err := svc.Emit(ctx, tx, DomainEvent{
			EventType:     enums.EventWorkRejected,
			AggregateType: enums.AggregateWork,
			AggregateID:   "8",
		}); err != nil {
			return err
		}
		return errors.New("abort")
	})
	require.Error(t, rolledBack)

	rows, err := repo.FetchUnpublished(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	var env PayloadEnvelope
	require.NoError(t, json.Unmarshal(rows[0].Payload, &env))
	assert.Equal(t, 1, env.Version)
	assert.Equal(t, enums.EventWorkApproved, env.EventType)
	assert.Equal(t, rows[0].ID.String(), env.EventID)

	var pub payloads.Publication
	require.NoError(t, json.Unmarshal(env.Data, &pub))
	assert.Equal(t, "Thesis", pub.Title)
	assert.Equal(t, "1000.00", pub.Price.String())
}

func TestEmitValidation(t *testing.T) {
	client := dbtest.Open(t)
	svc := NewService(NewRepository(client.DB()), nil)
	err := svc.Emit(context.Background(), nil, DomainEvent{})
	assert.Error(t, err)

	err = svc.Emit(context.Background(), client.DB(), DomainEvent{EventType: "bogus", AggregateType: enums.AggregateWork, AggregateID: "1"})
	assert.Error(t, err)

	err = svc.Emit(context.Background(), client.DB(), DomainEvent{EventType: enums.EventWorkApproved, AggregateType: enums.AggregatePayout, AggregateID: "1"})
	assert.ErrorContains(t, err, "cannot describe")

	require.NoError(t, svc.Emit(context.Background(), client.DB(), DomainEvent{EventType: enums.EventPayoutRequested, AggregateID: "1"}))
	rows, err := svc.repo.ListByAggregate(context.Background(), enums.AggregatePayout, "1")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, enums.AggregatePayout, rows[0].AggregateType)
}

func TestMarkFailedStopsAfterMaxAttempts(t *testing.T) {
	client := dbtest.Open(t)
	repo := NewRepository(client.DB())
	svc := NewService(repo, nil)
	ctx := context.Background()

	require.NoError(t, svc.Emit(ctx, client.DB(), DomainEvent{
		EventType:     enums.EventPurchaseSettled,
		AggregateType: enums.AggregatePurchase,
		AggregateID:   "p-1",
	}))

	rows, err := repo.FetchUnpublished(ctx, 10, 2)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	id := rows[0].ID

	require.NoError(t, repo.MarkFailed(ctx, id, errors.New("redis down")))
	require.NoError(t, repo.MarkFailed(ctx, id, errors.New("redis down")))

	rows, err = repo.FetchUnpublished(ctx, 10, 2)
	require.NoError(t, err)
	assert.Empty(t, rows)

	rows, err = repo.FetchUnpublished(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.NotNil(t, rows[0].LastError)
	assert.Equal(t, "redis down", *rows[0].LastError)

	require.NoError(t, repo.MarkPublished(ctx, id))
	rows, err = repo.FetchUnpublished(ctx, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, rows)

	history, err := repo.ListByAggregate(ctx, enums.AggregatePurchase, "p-1")
	require.NoError(t, err)
	assert.Len(t, history, 1)
}
