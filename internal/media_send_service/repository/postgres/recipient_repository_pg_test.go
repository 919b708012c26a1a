package postgres

import (
	"context"
	"testing"

	coreDomain "github.com/aradsms/media_delivery_services/internal/core_media/domain"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPgRecipientRepository_GetRecipient(t *testing.T) {
	t.Run("Stored", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()
		repo := NewPgRecipientRepository(mockPool, testLogger())

		mockPool.ExpectQuery(`SELECT profile_key, profile_sharing, unidentified_access_mode`).
			WithArgs("+15550002222").
			WillReturnRows(mockPool.NewRows([]string{"profile_key", "profile_sharing", "unidentified_access_mode", "relay"}).
				AddRow([]byte{9, 9}, true, int16(2), ""))

		rec, err := repo.GetRecipient(context.Background(), "+15550002222")
		require.NoError(t, err)
		assert.True(t, rec.HasProfileKey())
		assert.True(t, rec.ProfileSharing)
		assert.Equal(t, coreDomain.UnidentifiedAccessEnabled, rec.UnidentifiedAccessMode)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("MissingIsUnknown", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()
		repo := NewPgRecipientRepository(mockPool, testLogger())

		mockPool.ExpectQuery(`SELECT profile_key, profile_sharing, unidentified_access_mode`).
			WithArgs("+15550003333").
			WillReturnError(pgx.ErrNoRows)

		rec, err := repo.GetRecipient(context.Background(), "+15550003333")
		require.NoError(t, err)
		assert.Equal(t, coreDomain.Address("+15550003333"), rec.Address)
		assert.False(t, rec.HasProfileKey())
		assert.Equal(t, coreDomain.UnidentifiedAccessUnknown, rec.UnidentifiedAccessMode)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestPgRecipientRepository_CompareAndSetUnidentifiedAccessMode(t *testing.T) {
	t.Run("FromUnknownUpserts", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()
		repo := NewPgRecipientRepository(mockPool, testLogger())

		mockPool.ExpectExec(`INSERT INTO recipients .* ON CONFLICT \(address\) DO UPDATE`).
			WithArgs("+15550002222", int16(0), int16(3)).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		ok, err := repo.CompareAndSetUnidentifiedAccessMode(context.Background(), "+15550002222",
			coreDomain.UnidentifiedAccessUnknown, coreDomain.UnidentifiedAccessUnrestricted)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("LostRace", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()
		repo := NewPgRecipientRepository(mockPool, testLogger())

		mockPool.ExpectExec(`UPDATE recipients SET unidentified_access_mode = \$3 WHERE address = \$1 AND unidentified_access_mode = \$2`).
			WithArgs("+15550002222", int16(2), int16(1)).
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))

		ok, err := repo.CompareAndSetUnidentifiedAccessMode(context.Background(), "+15550002222",
			coreDomain.UnidentifiedAccessEnabled, coreDomain.UnidentifiedAccessDisabled)
		require.NoError(t, err)
		assert.False(t, ok)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}
