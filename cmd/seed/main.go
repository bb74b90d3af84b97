package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/hackgods/telehealth-slot-reservation/internal/catalog"
	"github.com/hackgods/telehealth-slot-reservation/internal/config"
	"github.com/hackgods/telehealth-slot-reservation/internal/db"
	"github.com/hackgods/telehealth-slot-reservation/internal/logger"
)

var specialties = []string{
	"Dermatology",
	"Cardiology",
	"General Practice",
	"Orthopedics",
	"Endocrinology",
	"Neurology",
	"Pediatrics",
	"Psychiatry",
	"Ophthalmology",
	"ENT",
}

// Weekly shapes a seeded doctor can work.
var shifts = [][]catalog.Window{
	{{Start: catalog.MustTimeOfDay("09:00"), End: catalog.MustTimeOfDay("12:00")}, {Start: catalog.MustTimeOfDay("13:00"), End: catalog.MustTimeOfDay("17:00")}},
	{{Start: catalog.MustTimeOfDay("08:00"), End: catalog.MustTimeOfDay("14:00")}},
	{{Start: catalog.MustTimeOfDay("14:00"), End: catalog.MustTimeOfDay("20:00")}},
	{{Start: catalog.MustTimeOfDay("10:00"), End: catalog.MustTimeOfDay("13:30")}},
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}
	log, err := logger.New(cfg.LogLevel, cfg.IsDev())
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, cfg.PostgresMaxConn)
	if err != nil {
		log.Fatal("connect postgres", zap.Error(err))
	}
	defer pool.Close()

	if err := db.Migrate(ctx, pool); err != nil {
		log.Fatal("migrate", zap.Error(err))
	}

	count := 100
	if v := os.Getenv("SEED_DOCTORS"); v != "" {
		if _, err := fmt.Sscanf(v, "%d", &count); err != nil {
			log.Fatal("invalid SEED_DOCTORS", zap.String("value", v))
		}
	}

	faker := gofakeit.New(uint64(time.Now().UnixNano()))
	if err := seedDoctors(ctx, pool, faker, count, log); err != nil {
		log.Fatal("seed doctors", zap.Error(err))
	}
	log.Info("seed complete", zap.Int("doctors", count))
}

// seedDoctors upserts doctors D1..Dn with a random profile and weekly template.
func seedDoctors(ctx context.Context, pool *pgxpool.Pool, faker *gofakeit.Faker, count int, log *zap.Logger) error {
	dir := catalog.NewPgDirectory(pool)

	for i := 1; i <= count; i++ {
		id := fmt.Sprintf("D%d", i)
		specs := []string{specialties[faker.Number(0, len(specialties)-1)]}
		if faker.Bool() {
			specs = append(specs, specialties[faker.Number(0, len(specialties)-1)])
		}
		modes := []string{string(catalog.ModeOnline), string(catalog.ModeInPerson)}
		if faker.Number(0, 3) == 0 {
			modes = modes[:1]
		}
		fee := int64(faker.Number(3, 15) * 100)

		_, err := pool.Exec(ctx, `
			INSERT INTO doctors (id, name, specializations, modes, fee, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, now(), now())
			ON CONFLICT (id) DO UPDATE SET
				name = EXCLUDED.name,
				specializations = EXCLUDED.specializations,
				modes = EXCLUDED.modes,
				fee = EXCLUDED.fee,
				updated_at = now()
		`, id, "Dr. "+faker.LastName(), specs, modes, fee)
		if err != nil {
			return fmt.Errorf("upsert doctor %s: %w", id, err)
		}

		tmpl := catalog.WeeklyTemplate{}
		for day := time.Monday; day <= time.Saturday; day++ {
			if day == time.Saturday && faker.Bool() {
				continue
			}
			tmpl[day] = shifts[faker.Number(0, len(shifts)-1)]
		}
		if err := dir.SaveAvailability(ctx, id, tmpl); err != nil {
			return fmt.Errorf("save availability %s: %w", id, err)
		}

		if i%25 == 0 || i == count {
			log.Info("doctors seeded", zap.Int("done", i), zap.Int("total", count))
		}
	}
	return nil
}
