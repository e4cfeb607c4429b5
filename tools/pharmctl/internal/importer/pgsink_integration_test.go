//go:build integration

package importer

import (
	"context"
	"testing"
	"time"

	"github.com/md-rashed-zaman/mspharm/libs/db/dbtest"
	"github.com/md-rashed-zaman/mspharm/libs/outbox"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPgSink(t *testing.T) {
	pool := dbtest.Start(t)
	sink := NewPgSink(pool, outbox.NewRepository())
	ctx := context.Background()

	ok, err := sink.InsertCustomer(ctx, Customer{Code: "00001", Name: "홍길동", Phone: "010-1234-5678"}, "hash")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = sink.InsertCustomer(ctx, Customer{Code: "00001", Name: "다른이름"}, "hash")
	require.NoError(t, err)
	assert.False(t, ok, "existing code is left alone")

	id, err := sink.EnsureCustomer(ctx, "00001", "hash")
	require.NoError(t, err)
	placeholder, err := sink.EnsureCustomer(ctx, "00002", "hash")
	require.NoError(t, err)
	assert.NotEqual(t, id, placeholder)

	var name string
	require.NoError(t, pool.QueryRow(ctx, `SELECT name FROM customers WHERE id = $1`, placeholder).Scan(&name))
	assert.Equal(t, PlaceholderName("00002"), name)

	c := Consultation{
		ConsultationID: "00001_001",
		ConsultDate:    time.Date(2026, 3, 2, 10, 0, 0, 0, KST),
		Symptoms:       "두통",
	}
	ok, err = sink.InsertConsultation(ctx, id, c)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = sink.InsertConsultation(ctx, id, c)
	require.NoError(t, err)
	assert.False(t, ok)

	var count int
	var images []string
	require.NoError(t, pool.QueryRow(ctx, `
		SELECT cu.consultation_count, co.image_urls
		FROM customers cu JOIN consultations co ON co.customer_id = cu.id
		WHERE cu.id = $1
	`, id).Scan(&count, &images))
	assert.Equal(t, 1, count)
	assert.Empty(t, images)

	ids, err := sink.ConsultationIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"00001_001": true}, ids)

	customers, consultations, err := sink.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, customers)
	assert.Equal(t, 1, consultations)

	var events int
	require.NoError(t, pool.QueryRow(ctx, `SELECT count(*) FROM outbox_events`).Scan(&events))
	assert.Equal(t, 3, events, "two customers and one consultation")
}
