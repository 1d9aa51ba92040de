package pollengine

import (
	"log/slog"
	"time"

	httpadapter "agora/contexts/governance/poll-engine/adapters/http"
	"agora/contexts/governance/poll-engine/adapters/memory"
	"agora/contexts/governance/poll-engine/application/commands"
	"agora/contexts/governance/poll-engine/application/queries"
	"agora/contexts/governance/poll-engine/application/workers"
	"agora/contexts/governance/poll-engine/domain/entities"
	"agora/contexts/governance/poll-engine/ports"
)

type Module struct {
	Handler httpadapter.Handler
	Sweeper workers.Sweeper
	Relay   workers.OutboxRelay
	Store   *memory.Store
	Ledger  ports.Ledger
}

type Dependencies struct {
	Polls          ports.PollRepository
	Votes          ports.VoteRepository
	Operations     ports.OperationStore
	Ledger         ports.Ledger
	Outbox         ports.OutboxWriter
	OutboxRepo     ports.OutboxRepository
	Publisher      ports.EventPublisher
	Clock          ports.Clock
	IDGen          ports.IDGenerator
	PendingAge     time.Duration
	SweepBatchSize int
	DriftCheckSize int
	Logger         *slog.Logger
}

func NewModule(deps Dependencies) Module {
	pollUseCase := commands.PollUseCase{
		Polls:      deps.Polls,
		Operations: deps.Operations,
		Ledger:     deps.Ledger,
		Outbox:     deps.Outbox,
		Clock:      deps.Clock,
		IDGen:      deps.IDGen,
		Logger:     deps.Logger,
	}
	voteUseCase := commands.VoteUseCase{
		Polls:      deps.Polls,
		Votes:      deps.Votes,
		Operations: deps.Operations,
		Ledger:     deps.Ledger,
		Outbox:     deps.Outbox,
		Clock:      deps.Clock,
		IDGen:      deps.IDGen,
		Logger:     deps.Logger,
	}
	pollQueries := queries.PollQueries{
		Polls:  deps.Polls,
		Votes:  deps.Votes,
		Outbox: deps.Outbox,
		Clock:  deps.Clock,
		IDGen:  deps.IDGen,
		Logger: deps.Logger,
	}
	return Module{
		Handler: httpadapter.Handler{
			Polls:   pollUseCase,
			Votes:   voteUseCase,
			Queries: pollQueries,
			Logger:  deps.Logger,
		},
		Sweeper: workers.Sweeper{
			Polls:          deps.Polls,
			Votes:          deps.Votes,
			Operations:     deps.Operations,
			Ledger:         deps.Ledger,
			Outbox:         deps.Outbox,
			Clock:          deps.Clock,
			IDGen:          deps.IDGen,
			PendingAge:     deps.PendingAge,
			BatchSize:      deps.SweepBatchSize,
			DriftCheckSize: deps.DriftCheckSize,
			Logger:         deps.Logger,
		},
		Relay: workers.OutboxRelay{
			Outbox:    deps.OutboxRepo,
			Publisher: deps.Publisher,
			Clock:     deps.Clock,
			Logger:    deps.Logger,
		},
		Ledger: deps.Ledger,
	}
}

// NewInMemoryModule wires the engine against the in-memory store and fake
// ledger. Tests and local development use this composition.
func NewInMemoryModule(seed []entities.Poll, publisher ports.EventPublisher, logger *slog.Logger) Module {
	store := memory.NewStore(seed)
	ledger := memory.NewLedger(store)
	module := NewModule(Dependencies{
		Polls:          store,
		Votes:          store,
		Operations:     store,
		Ledger:         ledger,
		Outbox:         store,
		OutboxRepo:     store,
		Publisher:      publisher,
		Clock:          store,
		IDGen:          store,
		PendingAge:     5 * time.Minute,
		SweepBatchSize: 100,
		DriftCheckSize: 25,
		Logger:         logger,
	})
	module.Store = store
	return module
}
