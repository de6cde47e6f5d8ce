package repo

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ovaphlow/pitchfork/service-account/internal/account/entity"
)

func newMemory(t *testing.T, uniqueNames bool) *MemoryRepo {
	t.Helper()
	r, err := NewMemoryRepo(3, uniqueNames)
	require.NoError(t, err)
	return r
}

func sample(email, username, first, last string) *entity.Account {
	return &entity.Account{
		Email: email, Username: username, FirstName: first, LastName: last,
		PasswordHash: "digest", IsActive: true,
	}
}

func TestMemoryInsertAndFind(t *testing.T) {
	ctx := context.Background()
	r := newMemory(t, false)

	id, err := r.Insert(ctx, sample("a@x.com", "alice", "Ada", "Lovelace"))
	require.NoError(t, err)
	assert.NotZero(t, id)

	byID, err := r.FindBy(ctx, entity.FieldID, strconv.FormatInt(id, 10))
	require.NoError(t, err)
	assert.Equal(t, "alice", byID.Username)

	byEmail, err := r.FindBy(ctx, entity.FieldEmail, "A@X.COM")
	require.NoError(t, err)
	assert.Equal(t, id, byEmail.ID)

	_, err = r.FindBy(ctx, entity.FieldUsername, "Alice")
	assert.ErrorIs(t, err, entity.ErrNotFound)
	_, err = r.FindBy(ctx, entity.FieldID, "not-a-number")
	assert.ErrorIs(t, err, entity.ErrNotFound)
	_, err = r.FindBy(ctx, entity.FieldLastName, "Lovelace")
	assert.Error(t, err)
	assert.False(t, errors.Is(err, entity.ErrNotFound))
}

func TestMemoryReturnsCopies(t *testing.T) {
	ctx := context.Background()
	r := newMemory(t, false)
	in := sample("a@x.com", "alice", "Ada", "Lovelace")
	id, err := r.Insert(ctx, in)
	require.NoError(t, err)

	in.Username = "mallory"
	got, err := r.FindBy(ctx, entity.FieldID, strconv.FormatInt(id, 10))
	require.NoError(t, err)
	got.Email = "changed@x.com"

	again, err := r.FindBy(ctx, entity.FieldID, strconv.FormatInt(id, 10))
	require.NoError(t, err)
	assert.Equal(t, "alice", again.Username)
	assert.Equal(t, "a@x.com", again.Email)
}

func TestMemoryUniquenessOrder(t *testing.T) {
	ctx := context.Background()
	r := newMemory(t, true)
	_, err := r.Insert(ctx, sample("a@x.com", "alice", "Ada", "Lovelace"))
	require.NoError(t, err)

	cases := []struct {
		in    *entity.Account
		field string
	}{
		{sample("a@x.com", "alice", "Ada", "Lovelace"), entity.FieldEmail},
		{sample("b@x.com", "alice", "Ada", "Lovelace"), entity.FieldUsername},
		{sample("b@x.com", "alice2", "Ada", "Lovelace"), entity.FieldLastName},
		{sample("b@x.com", "alice2", "Ada", "Byron"), entity.FieldFirstName},
	}
	for _, tc := range cases {
		_, err := r.Insert(ctx, tc.in)
		var dup *entity.DuplicateFieldError
		require.ErrorAs(t, err, &dup)
		assert.Equal(t, tc.field, dup.Field)
	}
	assert.Equal(t, 1, r.Len())
}

func TestMemoryConcurrentInsertSameEmail(t *testing.T) {
	ctx := context.Background()
	r := newMemory(t, false)

	const n = 32
	var wg sync.WaitGroup
	var mu sync.Mutex
	var won int
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := r.Insert(ctx, sample("race@x.com", "user"+strconv.Itoa(i), "F", "L"))
			if err == nil {
				mu.Lock()
				won++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, won)
	assert.Equal(t, 1, r.Len())
}

func TestMemoryTargetedWrites(t *testing.T) {
	ctx := context.Background()
	r := newMemory(t, false)
	id, err := r.Insert(ctx, sample("a@x.com", "alice", "Ada", "Lovelace"))
	require.NoError(t, err)
	key := strconv.FormatInt(id, 10)

	require.NoError(t, r.UpdateTier(ctx, id, entity.TierStaff))
	require.NoError(t, r.SetActive(ctx, id, false))
	got, err := r.FindBy(ctx, entity.FieldID, key)
	require.NoError(t, err)
	assert.Equal(t, entity.TierStaff, got.Tier, "activation change keeps the tier")
	assert.False(t, got.IsActive)

	assert.ErrorIs(t, r.RecordLogin(ctx, id, time.Now(), "digest"), entity.ErrStale, "inactive accounts record no login")
	require.NoError(t, r.SetActive(ctx, id, true))
	assert.ErrorIs(t, r.RecordLogin(ctx, id, time.Now(), "other"), entity.ErrStale)
	require.NoError(t, r.RecordLogin(ctx, id, time.Now(), "digest"))

	assert.ErrorIs(t, r.UpdatePassword(ctx, id, "new", "argon2id", "other"), entity.ErrStale)
	require.NoError(t, r.UpdatePassword(ctx, id, "new", "argon2id", "digest"))
	require.NoError(t, r.UpdatePassword(ctx, id, "newer", "argon2id", ""))
	got, err = r.FindBy(ctx, entity.FieldID, key)
	require.NoError(t, err)
	assert.Equal(t, "newer", got.PasswordHash)
	assert.NotNil(t, got.LastLogin)
	assert.True(t, got.IsActive)
	assert.Equal(t, entity.TierStaff, got.Tier)

	assert.ErrorIs(t, r.SetActive(ctx, 99, true), entity.ErrNotFound)
	assert.ErrorIs(t, r.UpdateTier(ctx, 99, entity.TierUser), entity.ErrNotFound)
	assert.ErrorIs(t, r.RecordLogin(ctx, 99, time.Now(), "digest"), entity.ErrNotFound)
	assert.ErrorIs(t, r.UpdatePassword(ctx, 99, "h", "a", ""), entity.ErrNotFound)
}

func TestMemoryHonoursCancelledContext(t *testing.T) {
	r := newMemory(t, false)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := r.Insert(ctx, sample("a@x.com", "alice", "Ada", "Lovelace"))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, r.Len())
}

func TestNewMemoryRepoRejectsBadNode(t *testing.T) {
	_, err := NewMemoryRepo(1<<20, false)
	assert.Error(t, err)
}
