package repo

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"

	"github.com/ovaphlow/pitchfork/service-account/internal/account/entity"
	"github.com/ovaphlow/pitchfork/service-account/pkg/utilities"
)

// MemoryRepo keeps accounts in process memory. Check-and-insert happens under
// one lock, so of two racing inserts with the same email exactly one wins.
type MemoryRepo struct {
	mu          sync.RWMutex
	node        *snowflake.Node
	uniqueNames bool
	byID        map[int64]*entity.Account
	order       []int64
}

func NewMemoryRepo(nodeID int64, uniqueNames bool) (*MemoryRepo, error) {
	node, err := utilities.NewSnowflakeNode(nodeID)
	if err != nil {
		return nil, fmt.Errorf("snowflake node %d: %w", nodeID, err)
	}
	return &MemoryRepo{node: node, uniqueNames: uniqueNames, byID: map[int64]*entity.Account{}}, nil
}

func (r *MemoryRepo) Insert(ctx context.Context, a *entity.Account) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.conflict(a); err != nil {
		return 0, err
	}
	id := r.node.Generate().Int64()
	c := a.Clone()
	c.ID = id
	c.Policy = nil
	r.byID[id] = c
	r.order = append(r.order, id)
	return id, nil
}

func (r *MemoryRepo) FindBy(ctx context.Context, field, value string) (*entity.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if field == entity.FieldID {
		id, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return nil, entity.ErrNotFound
		}
		if a, ok := r.byID[id]; ok {
			return a.Clone(), nil
		}
		return nil, entity.ErrNotFound
	}
	if _, ok := lookupColumns[field]; !ok {
		return nil, fmt.Errorf("unsupported lookup field %q", field)
	}
	for _, id := range r.order {
		a := r.byID[id]
		if fieldEqual(field, fieldValue(a, field), value) {
			return a.Clone(), nil
		}
	}
	return nil, entity.ErrNotFound
}

func (r *MemoryRepo) RecordLogin(ctx context.Context, id int64, at time.Time, digest string) error {
	return r.modify(ctx, id, func(a *entity.Account) error {
		if !a.IsActive || a.PasswordHash != digest {
			return entity.ErrStale
		}
		t := at
		a.LastLogin = &t
		return nil
	})
}

func (r *MemoryRepo) UpdatePassword(ctx context.Context, id int64, hash, algo, expect string) error {
	return r.modify(ctx, id, func(a *entity.Account) error {
		if expect != "" && a.PasswordHash != expect {
			return entity.ErrStale
		}
		a.PasswordHash, a.PasswordAlgo = hash, algo
		return nil
	})
}

func (r *MemoryRepo) UpdateTier(ctx context.Context, id int64, tier entity.Tier) error {
	return r.modify(ctx, id, func(a *entity.Account) error {
		a.Tier = tier
		return nil
	})
}

func (r *MemoryRepo) SetActive(ctx context.Context, id int64, active bool) error {
	return r.modify(ctx, id, func(a *entity.Account) error {
		a.IsActive = active
		return nil
	})
}

// modify applies fn to the stored account under the write lock. The stored
// value is left untouched when fn fails.
func (r *MemoryRepo) modify(ctx context.Context, id int64, fn func(*entity.Account) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.byID[id]
	if !ok {
		return entity.ErrNotFound
	}
	c := a.Clone()
	if err := fn(c); err != nil {
		return err
	}
	r.byID[id] = c
	return nil
}

// Len reports the number of stored accounts.
func (r *MemoryRepo) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// conflict checks unique fields in store order. Callers hold the lock.
func (r *MemoryRepo) conflict(a *entity.Account) error {
	for _, field := range uniqueOrder(r.uniqueNames) {
		v := fieldValue(a, field)
		for _, other := range r.byID {
			if fieldEqual(field, fieldValue(other, field), v) {
				return &entity.DuplicateFieldError{Field: field}
			}
		}
	}
	return nil
}

func fieldValue(a *entity.Account, field string) string {
	switch field {
	case entity.FieldEmail:
		return a.Email
	case entity.FieldUsername:
		return a.Username
	case entity.FieldFirstName:
		return a.FirstName
	case entity.FieldLastName:
		return a.LastName
	}
	return ""
}

// fieldEqual mirrors the column types: email is CITEXT, the rest compare exactly.
func fieldEqual(field, a, b string) bool {
	if field == entity.FieldEmail {
		return strings.EqualFold(a, b)
	}
	return a == b
}
