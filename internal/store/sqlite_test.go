package store

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"lpbf-planner/internal/db"
	"lpbf-planner/internal/model"
	"lpbf-planner/internal/pricing"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// newSQLiteStore opens a private in-memory database for one test.
func newSQLiteStore(t *testing.T) (Store, *gorm.DB) {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	gormDB, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := gormDB.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, db.Migrate(gormDB))
	return NewGormStore(gormDB), gormDB
}

func seedRun(t *testing.T, s Store, number, usable string) *model.ProductionRun {
	t.Helper()
	run := &model.ProductionRun{
		RunNumber:        number,
		Name:             "Job " + number,
		Machine:          "M2",
		MaterialGroup:    "IN718_IN625",
		UsableAreaCM2:    dec(usable),
		ConsumedAreaCM2:  decimal.Zero,
		AvailableAreaCM2: dec(usable),
		TotalPriceEUR:    decimal.Zero,
		TotalBuildTimeH:  decimal.Zero,
		Status:           model.RunOpen,
	}
	require.NoError(t, s.CreateRun(context.Background(), run))
	return run
}

func seedPart(t *testing.T, s Store, customer, inquiry, name, area, price string) *model.PartRequest {
	t.Helper()
	part := &model.PartRequest{
		CustomerNumber:      customer,
		InquiryNumber:       inquiry,
		PartName:            name,
		Quantity:            1,
		PartVolumeCM3:       dec("10"),
		SupportVolumeCM3:    dec("2"),
		PartHeightMM:        dec("40"),
		ProjectedAreaCM2:    dec(area),
		Machine:             "M2",
		Material:            "IN718",
		MaterialGroup:       "IN718_IN625",
		EstimatedPriceEUR:   decimal.NewNullDecimal(dec(price)),
		EstimatedBuildTimeH: decimal.NewNullDecimal(dec("10")),
		Status:              model.PartAccepted,
	}
	require.NoError(t, s.CreatePart(context.Background(), part))
	return part
}

func repricing() Repricing {
	return Repricing{
		Calculator: pricing.NewAmortizedCalculator(pricing.RateTable{
			Rates: map[string]pricing.Rate{"M2_IN718_IN625": {PlatformSetupEUR: dec("40"), SharedTimeH: dec("2")}},
		}),
		Threshold: pricing.Threshold{MinEUR: dec("0.01")},
	}
}

func allocation(part *model.PartRequest, run *model.ProductionRun, version int64) Allocation {
	return Allocation{
		PartRequestID: part.ID,
		RunID:         run.ID,
		RunVersion:    version,
		AreaCM2:       part.RequiredAreaCM2(),
		Entry:         model.DecisionLogEntry{AttemptID: fmt.Sprintf("attempt-%d-%d", part.ID, version), ReasoningSummary: "test", DecidedAt: time.Now()},
		Repricing:     repricing(),
		Now:           time.Now(),
	}
}
