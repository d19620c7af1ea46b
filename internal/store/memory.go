package store

import (
	"context"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// MemoryStore is an in-memory implementation of the repository interfaces,
// used in dev mode and in tests. Withdraw holds the store mutex across the
// read-modify-write, giving the same serialization guarantee as the
// conditional update in the relational store.
type MemoryStore struct {
	mu        sync.Mutex
	node      *snowflake.Node
	projects  map[snowflake.ID]*Project
	endpoints map[string]*Endpoint
	credits   map[creditKey]*CreditBalance
	audits    map[snowflake.ID]*RequestAudit
}

type creditKey struct {
	endpointID snowflake.ID
	payer      string
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(node *snowflake.Node) *MemoryStore {
	return &MemoryStore{
		node:      node,
		projects:  make(map[snowflake.ID]*Project),
		endpoints: make(map[string]*Endpoint),
		credits:   make(map[creditKey]*CreditBalance),
		audits:    make(map[snowflake.ID]*RequestAudit),
	}
}

// AddProject registers a project for slug lookups.
func (s *MemoryStore) AddProject(p *Project) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == 0 {
		p.ID = s.node.Generate()
	}
	cp := *p
	s.projects[p.ID] = &cp
}

// AddEndpoint registers an endpoint for slug lookups.
func (s *MemoryStore) AddEndpoint(e *Endpoint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.ID == 0 {
		e.ID = s.node.Generate()
	}
	ce := *e
	s.endpoints[e.Slug] = &ce
}

// FindBySlug returns the active endpoint with its active project.
func (s *MemoryStore) FindBySlug(ctx context.Context, slug string) (*Endpoint, *Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	endpoint, ok := s.endpoints[slug]
	if !ok || !endpoint.Active {
		return nil, nil, ErrNotFound
	}
	project, ok := s.projects[endpoint.ProjectID]
	if !ok || !project.Active {
		return nil, nil, ErrNotFound
	}

	e, p := *endpoint, *project
	return &e, &p, nil
}

// Get returns the credit balance for an (endpoint, payer) pair.
func (s *MemoryStore) Get(ctx context.Context, endpointID snowflake.ID, payerAddress string) (*CreditBalance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	balance, ok := s.credits[creditKey{endpointID, NormalizeAddress(payerAddress)}]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *balance
	return &cp, nil
}

// Deposit adds amount to balance and totalDeposited, creating the row lazily.
func (s *MemoryStore) Deposit(ctx context.Context, projectID, endpointID snowflake.ID, payerAddress string, amount decimal.Decimal, txRef string) (*CreditBalance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := creditKey{endpointID, NormalizeAddress(payerAddress)}
	now := time.Now()

	balance, ok := s.credits[key]
	if !ok {
		balance = &CreditBalance{
			ID:           s.node.Generate(),
			ProjectID:    projectID,
			EndpointID:   endpointID,
			PayerAddress: key.payer,
			Balance:      decimal.Zero,
			CreatedAt:    now,
		}
		s.credits[key] = balance
	}

	balance.Balance = balance.Balance.Add(amount)
	balance.TotalDeposited = balance.TotalDeposited.Add(amount)
	balance.LastTopupAmount = amount
	balance.LastTopupTxHash = txRef
	balance.UpdatedAt = now

	cp := *balance
	return &cp, nil
}

// Withdraw deducts amount when the balance covers it, rejecting wholesale
// otherwise.
func (s *MemoryStore) Withdraw(ctx context.Context, endpointID snowflake.ID, payerAddress string, amount decimal.Decimal) (*CreditBalance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := creditKey{endpointID, NormalizeAddress(payerAddress)}
	balance, ok := s.credits[key]
	if !ok || balance.Balance.LessThan(amount) {
		return nil, ErrInsufficientCredits
	}

	balance.Balance = balance.Balance.Sub(amount)
	balance.TotalSpent = balance.TotalSpent.Add(amount)
	balance.UpdatedAt = time.Now()

	cp := *balance
	return &cp, nil
}

// Insert stores a new audit record.
func (s *MemoryStore) Insert(ctx context.Context, audit *RequestAudit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if audit.ID == 0 {
		audit.ID = s.node.Generate()
	}
	cp := *audit
	s.audits[audit.ID] = &cp
	return nil
}

// Update overwrites an existing audit record.
func (s *MemoryStore) Update(ctx context.Context, audit *RequestAudit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *audit
	s.audits[audit.ID] = &cp
	return nil
}

// Audit returns a stored audit record, for tests.
func (s *MemoryStore) Audit(id snowflake.ID) (*RequestAudit, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	audit, ok := s.audits[id]
	if !ok {
		return nil, false
	}
	cp := *audit
	return &cp, true
}
