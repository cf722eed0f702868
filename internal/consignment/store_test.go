package consignment

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parcelops/scan-engine/internal/taxonomy"
)

func newTestStore() *Store {
	return NewStore(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func testConsignment(awb string) *Consignment {
	return &Consignment{
		AWB:               awb,
		ServiceType:       "Ground",
		CreatedAt:         time.Date(2024, 6, 10, 8, 0, 0, 0, time.UTC),
		EstimatedDelivery: time.Date(2024, 6, 12, 17, 0, 0, 0, time.UTC),
	}
}

func TestUpsert(t *testing.T) {
	s := newTestStore()

	assert.True(t, s.Upsert(testConsignment("AWB001")))
	assert.Equal(t, 1, s.Len())

	got, err := s.Get("AWB001")
	require.NoError(t, err)
	assert.Equal(t, StatusCreated, got.Status, "status defaults to CREATED")

	// A second upsert for the same AWB is a no-op.
	dup := testConsignment("AWB001")
	dup.ServiceType = "Overnight"
	assert.False(t, s.Upsert(dup))

	got, err = s.Get("AWB001")
	require.NoError(t, err)
	assert.Equal(t, "Ground", got.ServiceType)
}

func TestGetUnknownAWB(t *testing.T) {
	_, err := newTestStore().Get("AWB404")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetReturnsSnapshot(t *testing.T) {
	s := newTestStore()
	s.Upsert(testConsignment("AWB001"))
	require.NoError(t, s.AppendScan("AWB001", Scan{Type: taxonomy.TypePickup, Timestamp: time.Now()}))

	snap, err := s.Get("AWB001")
	require.NoError(t, err)
	snap.Scans[0].Type = "TAMPERED"
	snap.Status = StatusDelivered

	fresh, err := s.Get("AWB001")
	require.NoError(t, err)
	assert.Equal(t, taxonomy.TypePickup, fresh.Scans[0].Type)
	assert.NotEqual(t, StatusDelivered, fresh.Status)
}

func TestAppendScan(t *testing.T) {
	t.Run("Preserves Order And Assigns IDs", func(t *testing.T) {
		s := newTestStore()
		s.Upsert(testConsignment("AWB001"))

		types := []string{taxonomy.TypePickup, taxonomy.TypeDepartedFacility, taxonomy.TypeArrivedFacility}
		for _, st := range types {
			require.NoError(t, s.AppendScan("AWB001", Scan{Type: st, Timestamp: time.Now()}))
		}

		got, err := s.Get("AWB001")
		require.NoError(t, err)
		require.Len(t, got.Scans, 3)
		for i, scan := range got.Scans {
			assert.Equal(t, types[i], scan.Type)
			assert.NotEmpty(t, scan.ID)
		}
	})

	t.Run("Keeps Supplied Scan ID", func(t *testing.T) {
		s := newTestStore()
		s.Upsert(testConsignment("AWB001"))
		require.NoError(t, s.AppendScan("AWB001", Scan{ID: "scan-1", Type: taxonomy.TypePickup}))

		got, _ := s.Get("AWB001")
		assert.Equal(t, "scan-1", got.Scans[0].ID)
	})

	t.Run("Unknown AWB", func(t *testing.T) {
		err := newTestStore().AppendScan("AWB404", Scan{Type: taxonomy.TypePickup})
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestStatusDerivation(t *testing.T) {
	cases := []struct {
		name     string
		scanType string
		want     Status
	}{
		{"Pickup Moves To In Transit", taxonomy.TypePickup, StatusInTransit},
		{"Out For Delivery", taxonomy.TypeOutForDelivery, StatusOutForDelivery},
		{"Delivered", taxonomy.TypeDelivered, StatusDelivered},
		{"Delivery Exception", taxonomy.TypeDeliveryException, StatusException},
		{"Return To Origin", taxonomy.TypeReturnToOrigin, StatusException},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := newTestStore()
			s.Upsert(testConsignment("AWB001"))
			require.NoError(t, s.AppendScan("AWB001", Scan{Type: tc.scanType, Timestamp: time.Now()}))

			got, err := s.Get("AWB001")
			require.NoError(t, err)
			assert.Equal(t, tc.want, got.Status)
		})
	}

	t.Run("Intermediate Scan Does Not Regress Status", func(t *testing.T) {
		s := newTestStore()
		s.Upsert(testConsignment("AWB001"))
		require.NoError(t, s.AppendScan("AWB001", Scan{Type: taxonomy.TypeOutForDelivery}))
		require.NoError(t, s.AppendScan("AWB001", Scan{Type: taxonomy.TypeInTransit}))

		got, _ := s.Get("AWB001")
		assert.Equal(t, StatusOutForDelivery, got.Status)
	})
}

func TestUpdateRunsInCriticalSection(t *testing.T) {
	s := newTestStore()
	s.Upsert(testConsignment("AWB001"))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Update("AWB001", func(c *Consignment) error {
				Append(c, Scan{Type: taxonomy.TypeInTransit, Timestamp: time.Now()})
				return nil
			})
		}()
	}
	wg.Wait()

	got, err := s.Get("AWB001")
	require.NoError(t, err)
	assert.Len(t, got.Scans, 50)
}

func TestUpdateUnknownAWB(t *testing.T) {
	err := newTestStore().Update("AWB404", func(c *Consignment) error { return nil })
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestWorking(t *testing.T) {
	s := newTestStore()
	for i := 0; i < 4; i++ {
		s.Upsert(testConsignment(fmt.Sprintf("AWB%03d", i)))
	}
	require.NoError(t, s.AppendScan("AWB002", Scan{Type: taxonomy.TypeDelivered}))

	working := s.Working()
	assert.Equal(t, []string{"AWB000", "AWB001", "AWB003"}, working)
}

func TestConsignmentHelpers(t *testing.T) {
	c := testConsignment("AWB001")

	assert.Nil(t, c.LastScan())
	assert.Empty(t, c.CurrentLocation())

	Append(c, Scan{Type: taxonomy.TypePickup, Location: "Oslo", Timestamp: time.Now()})
	Append(c, Scan{Type: taxonomy.TypeDepartedFacility, Location: "Bergen", Timestamp: time.Now()})

	last := c.LastScan()
	require.NotNil(t, last)
	assert.Equal(t, taxonomy.TypeDepartedFacility, last.Type)
	assert.Equal(t, "Bergen", c.CurrentLocation())
	assert.True(t, c.HasScanType(taxonomy.TypePickup))
	assert.False(t, c.HasScanType(taxonomy.TypeDelivered))
}
