package outbox

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/commonsportal-backend/pkg/db/models"
	"github.com/angelmondragon/commonsportal-backend/pkg/enums"
)

func TestSealThenOpenKeepsEventID(t *testing.T) {
	id := uuid.New()
	at := time.Date(2026, 10, 1, 9, 30, 0, 0, time.FixedZone("X", 3600))
	_, raw, err := seal(id, DomainEvent{
		EventType:  enums.EventListingDeleted,
		Data:       map[string]string{"listing_id": "abc"},
		OccurredAt: at,
	})
	require.NoError(t, err)

	env, err := OpenEnvelope(raw)
	require.NoError(t, err)
	assert.Equal(t, id.String(), env.EventID)
	assert.Equal(t, EnvelopeVersion, env.Version)
	assert.Equal(t, time.UTC, env.OccurredAt.Location())
	assert.True(t, env.OccurredAt.Equal(at))
}

func TestOpenEnvelopeRejectsBadPayloads(t *testing.T) {
	_, err := OpenEnvelope([]byte(`{"version":1,"eventId":"x","data":null}`))
	assert.ErrorIs(t, err, ErrEmptyPayload)

	_, err = OpenEnvelope([]byte(`{"version":9,"eventId":"x","data":{}}`))
	assert.ErrorContains(t, err, "not supported")

	_, err = OpenEnvelope([]byte(`not json`))
	assert.Error(t, err)
}

func TestNewDLQEntryTruncatesOnRuneBoundary(t *testing.T) {
	event := models.OutboxEvent{ID: uuid.New(), EventType: enums.EventOrderCreated, AttemptCount: 4}
	cause := errors.New("x" + strings.Repeat("é", maxDLQErrorBytes))

	entry := NewDLQEntry(event, enums.OutboxDLQReasonMaxAttempts, cause, time.Now())
	require.NotNil(t, entry.ErrorMessage)
	assert.LessOrEqual(t, len(*entry.ErrorMessage), maxDLQErrorBytes)
	assert.True(t, strings.HasPrefix(*entry.ErrorMessage, "xé"))
	assert.False(t, strings.HasSuffix(*entry.ErrorMessage, "\xc3"))
	assert.Equal(t, event.ID, entry.EventID)
	assert.Equal(t, 4, entry.AttemptCount)
}
