package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	natsadapter "github.com/codewandler/aggr-go/adapters/nats"
	"github.com/codewandler/aggr-go/adapters/sqlite"
	"github.com/codewandler/aggr-go/core/agg"
)

// === Config ===

// NOTE: run nats: docker run -v "/tmp/nats/jetstream:/tmp/nats/jetstream" --net=host nats:latest -js

type Config struct {
	N             int           `env:"N" envDefault:"50000"`
	BatchSize     int           `env:"B" envDefault:"1000"`
	Backend       string        `env:"BACKEND" envDefault:"memory"` // memory | sqlite | nats
	Snapshot      bool          `env:"SNAPSHOT" envDefault:"true"`
	LoadAfterSave bool          `env:"LOAD_AFTER_SAVE" envDefault:"false"`
	SQLitePath    string        `env:"SQLITE_PATH" envDefault:"loadtest.db"`
	ScenarioFile  string        `env:"SCENARIO"`
	Timeout       time.Duration `env:"TIMEOUT" envDefault:"120s"`
}

// Scenario is an optional YAML file describing the write workload. When no
// file is given a single stage is derived from the env config.
type Scenario struct {
	Stages []Stage `yaml:"stages"`
}

type Stage struct {
	Name       string `yaml:"name"`
	Aggregates int    `yaml:"aggregates"`
	Events     int    `yaml:"events"`
	Snapshot   bool   `yaml:"snapshot"`
}

func loadScenario(cfg Config) (Scenario, error) {
	if cfg.ScenarioFile == "" {
		return Scenario{Stages: []Stage{{
			Name:       "default",
			Aggregates: 1,
			Events:     cfg.N,
			Snapshot:   cfg.Snapshot,
		}}}, nil
	}

	data, err := os.ReadFile(cfg.ScenarioFile)
	if err != nil {
		return Scenario{}, fmt.Errorf("read scenario: %w", err)
	}
	var s Scenario
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Scenario{}, fmt.Errorf("parse scenario: %w", err)
	}
	if len(s.Stages) == 0 {
		return Scenario{}, fmt.Errorf("scenario has no stages")
	}
	return s, nil
}

// === Projection ===

type countingHandler struct {
	TotalEvents int
}

func (m *countingHandler) Handle(_ agg.MsgCtx) error {
	m.TotalEvents++
	return nil
}

var _ agg.Handler = (*countingHandler)(nil)

// === Domain ===

type (
	User struct {
		Name  string `json:"name"`
		Email string `json:"email"`
	}

	NameChanged  struct{ NewName string }
	EmailChanged struct{ NewEmail string }
)

var (
	nameChanged  = agg.NewDef[NameChanged]("name_changed")
	emailChanged = agg.NewDef[EmailChanged]("email_changed")
)

func userReducer() *agg.Reducer[User] {
	b := agg.NewBuilder[User]().WithInitialState(func() User { return User{} })
	b = agg.On(b, nameChanged, func(s User, p NameChanged) User {
		s.Name = p.NewName
		return s
	})
	b = agg.On(b, emailChanged, func(s User, p EmailChanged) User {
		s.Email = p.NewEmail
		return s
	})
	r, err := b.Reducer()
	checkErr(err)
	return r
}

func main() {
	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	var cfg Config
	checkErr(env.Parse(&cfg))

	scenario, err := loadScenario(cfg)
	checkErr(err)

	fmt.Printf("Backend:  %s\n", cfg.Backend)
	fmt.Printf("Snapshot: %t\n", cfg.Snapshot)
	fmt.Printf("Stages:   %d\n", len(scenario.Stages))

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()

	counting := &countingHandler{}

	var e *agg.Env
	switch cfg.Backend {
	case "nats":
		e = createNatsEnv(log, counting)
	case "sqlite":
		e = createSqliteEnv(log, cfg.SQLitePath)
	default:
		e = createMemEnv(ctx, log, counting)
	}
	defer e.Shutdown()

	reducer := userReducer()
	repo := agg.NewRepositoryIn(e, "user", reducer, agg.WithRepoCacheLRU(1_000))

	// === START ===

	log.Info("==================================")
	log.Info("Starting ...")

	startAt := time.Now()
	total := 0

	for _, stage := range scenario.Stages {
		fmt.Printf("--- stage %q: %d aggregates x %d events ---\n", stage.Name, stage.Aggregates, stage.Events)
		total += runStage(ctx, cfg, stage, repo, reducer)
	}

	// === stats ===
	println("")
	println("==========================================")

	doneAt := time.Now()
	took := doneAt.Sub(startAt)
	runtime.GC()

	fmt.Printf("total runtime: %.3f seconds\n", took.Seconds())
	fmt.Printf(" total events: %d\n", total)
	if counting.TotalEvents > 0 {
		fmt.Printf("     consumed: %d\n", counting.TotalEvents)
	}
	fmt.Printf("avg. writes/s: %d\n", int(float64(total)/took.Seconds()))
}

func runStage(
	ctx context.Context,
	cfg Config,
	stage Stage,
	repo *agg.Repository[User],
	reducer *agg.Reducer[User],
) int {
	if stage.Aggregates == 0 {
		stage.Aggregates = 1
	}

	lastTime := time.Now()
	written := 0

	for i := 0; i < stage.Events; i++ {
		userID := fmt.Sprintf("user-%d", i%stage.Aggregates)

		a, err := repo.GetOrNew(ctx, userID)
		checkErr(err)

		a, err = reducer.Apply(a, emailChanged.New(EmailChanged{NewEmail: fmt.Sprintf("user@host-%d.com", i)}))
		checkErr(err)

		_, err = repo.Save(ctx, a, agg.WithSnapshot(stage.Snapshot))
		checkErr(err)
		written++

		if cfg.LoadAfterSave {
			loaded, err := repo.Load(ctx, userID, agg.WithUseCache(false), agg.WithSnapshot(stage.Snapshot))
			checkErr(err)
			checkTrue(loaded.Version == a.Version)
		}

		if i == 0 {
			continue
		}
		if i%100 == 0 {
			print(".")
		}
		if i%cfg.BatchSize == 0 {
			mu := getMemUsage()

			n := time.Now()
			took := n.Sub(lastTime)
			fmt.Printf(" | %5d events | %6d ms |  %6d events/s | (%d / %d) MiB mem (sys) |\n", cfg.BatchSize, took.Milliseconds(), int(float64(cfg.BatchSize)/took.Seconds()), mu.Alloc/1024/1024, mu.Sys/1024/1024)
			lastTime = n
		}
	}

	return written
}

// === stats helpers ===

type MemUsage struct {
	Alloc      uint64 // bytes allocated and not yet freed (heap)
	TotalAlloc uint64 // cumulative bytes allocated
	Sys        uint64 // total bytes obtained from OS
	NumGC      uint32 // gc cycles
}

func getMemUsage() MemUsage {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return MemUsage{
		Alloc:      m.Alloc,
		TotalAlloc: m.TotalAlloc,
		Sys:        m.Sys,
		NumGC:      m.NumGC,
	}
}

// === Env ===

func createMemEnv(ctx context.Context, log *slog.Logger, counting agg.Handler) (e *agg.Env) {
	var err error
	e, err = agg.NewEnv(
		agg.WithCtx(ctx),
		agg.WithLog(log),
		agg.WithInMemory(),
		agg.WithDef(nameChanged),
		agg.WithDef(emailChanged),
		agg.WithConsumer(counting, agg.WithConsumerName("counting")),
	)
	checkErr(err)
	return e
}

// createSqliteEnv wires the file-backed store. The sqlite store has no
// subscriptions, so no consumers are attached.
func createSqliteEnv(log *slog.Logger, path string) (e *agg.Env) {
	store, err := sqlite.Open(path)
	checkErr(err)

	e, err = agg.NewEnv(
		agg.WithLog(log),
		agg.WithStore(store),
		agg.WithSnapshotter(store),
		agg.WithDef(nameChanged),
		agg.WithDef(emailChanged),
	)
	checkErr(err)
	return e
}

func createNatsEnv(log *slog.Logger, counting agg.Handler) (e *agg.Env) {
	connectNats := natsadapter.ReuseConnection(natsadapter.ConnectDefault())

	store, err := natsadapter.NewEventStore(natsadapter.EventStoreConfig{
		Log:           log,
		Connect:       connectNats,
		SubjectPrefix: "aggr.loadtest",
		StreamSubjects: []string{
			"aggr.>",
		},
		StreamName: "AGGR_LOADTEST",
	})
	checkErr(err)

	snapshotter, err := natsadapter.NewSnapshotter(natsadapter.KvConfig{
		Connect: connectNats,
		Bucket:  "loadtest_snapshots",
	})
	checkErr(err)

	// === wire env ===

	e, err = agg.NewEnv(
		agg.WithLog(log),
		agg.WithStore(store),
		agg.WithSnapshotter(snapshotter),
		agg.WithDef(nameChanged),
		agg.WithDef(emailChanged),
		agg.WithConsumer(counting, agg.WithConsumerName("counting")),
	)
	checkErr(err)
	return e
}

// === Helpers ===

func checkErr(err error) {
	if err != nil {
		panic(err)
	}
}

func checkTrue(v bool) {
	if !v {
		panic("check failed")
	}
}
