package billing

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storyforge-api/internal/domain/entity"
	apperrors "storyforge-api/pkg/errors"
)

// fakeTransactor 直接执行闭包，测试里不需要真事务
type fakeTransactor struct{}

func (fakeTransactor) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// rollbackTransactor 闭包失败时把账户恢复到执行前的快照，模拟真事务回滚
type rollbackTransactor struct {
	repo *fakeCreditRepo
}

func (t rollbackTransactor) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	snapshot := *t.repo.account
	if err := fn(ctx); err != nil {
		*t.repo.account = snapshot
		return err
	}
	return nil
}

// fakeCreditRepo 内存版账户仓储，复刻守卫更新的语义
type fakeCreditRepo struct {
	account        *entity.CreditAccount
	holds          map[string]*entity.CreditHold
	nextID         int
	failUpdateHold bool
}

func newFakeCreditRepo(balance int64) *fakeCreditRepo {
	return &fakeCreditRepo{
		account: &entity.CreditAccount{UserID: "user-1", Balance: balance},
		holds:   map[string]*entity.CreditHold{},
	}
}

func (r *fakeCreditRepo) GetAccount(ctx context.Context, userID string) (*entity.CreditAccount, error) {
	if userID != r.account.UserID {
		return nil, apperrors.ErrAccountNotFound
	}
	return r.account, nil
}

func (r *fakeCreditRepo) CreateAccount(ctx context.Context, account *entity.CreditAccount) error {
	r.account = account
	return nil
}

func (r *fakeCreditRepo) TryReserve(ctx context.Context, userID string, amount int64) (bool, error) {
	if r.account.Balance-r.account.Reserved < amount {
		return false, nil
	}
	r.account.Reserved += amount
	return true, nil
}

func (r *fakeCreditRepo) ApplySettlement(ctx context.Context, userID string, held, actual int64) error {
	if r.account.Reserved < held {
		return apperrors.ErrConflict
	}
	r.account.Balance -= actual
	r.account.Reserved -= held
	return nil
}

func (r *fakeCreditRepo) ApplyRelease(ctx context.Context, userID string, held int64) error {
	r.account.Reserved -= held
	return nil
}

func (r *fakeCreditRepo) AddBalance(ctx context.Context, userID string, amount int64) error {
	r.account.Balance += amount
	return nil
}

func (r *fakeCreditRepo) CreateHold(ctx context.Context, hold *entity.CreditHold) error {
	r.nextID++
	hold.ID = fmt.Sprintf("hold-%d", r.nextID)
	r.holds[hold.ID] = hold
	return nil
}

func (r *fakeCreditRepo) GetHold(ctx context.Context, id string) (*entity.CreditHold, error) {
	return r.holds[id], nil
}

func (r *fakeCreditRepo) UpdateHold(ctx context.Context, hold *entity.CreditHold) error {
	if r.failUpdateHold {
		return errors.New("connection reset by peer")
	}
	r.holds[hold.ID] = hold
	return nil
}

func (r *fakeCreditRepo) ListOpenHolds(ctx context.Context, userID string) ([]*entity.CreditHold, error) {
	var open []*entity.CreditHold
	for _, h := range r.holds {
		if h.IsOpen() {
			open = append(open, h)
		}
	}
	return open, nil
}

func TestLedger_ReserveAndSettle_RefundsDifference(t *testing.T) {
	repo := newFakeCreditRepo(100)
	ledger := NewLedger(repo, fakeTransactor{})
	ctx := context.Background()

	hold, err := ledger.Reserve(ctx, "user-1", "story-1", entity.KindArcs, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(100), repo.account.Balance)
	assert.Equal(t, int64(10), repo.account.Reserved)
	assert.Equal(t, int64(90), repo.account.Available())

	// 实际只花 6 点：余额扣 6，预留的 10 退回
	require.NoError(t, ledger.Settle(ctx, hold, 6))
	assert.Equal(t, int64(94), repo.account.Balance)
	assert.Equal(t, int64(0), repo.account.Reserved)
	assert.Equal(t, entity.HoldStatusSettled, hold.Status)
	require.NotNil(t, hold.ActualAmount)
	assert.Equal(t, int64(6), *hold.ActualAmount)
}

func TestLedger_Settle_OverrunMayGoNegative(t *testing.T) {
	repo := newFakeCreditRepo(5)
	ledger := NewLedger(repo, fakeTransactor{})
	ctx := context.Background()

	hold, err := ledger.Reserve(ctx, "user-1", "story-1", entity.KindChapter, 4)
	require.NoError(t, err)

	// 实际输出超出预估：完成的生成永远计费，余额允许为负
	require.NoError(t, ledger.Settle(ctx, hold, 9))
	assert.Equal(t, int64(-4), repo.account.Balance)
	assert.Equal(t, int64(0), repo.account.Reserved)
}

func TestLedger_Reserve_InsufficientCredits(t *testing.T) {
	repo := newFakeCreditRepo(10)
	ledger := NewLedger(repo, fakeTransactor{})
	ctx := context.Background()

	// 先占掉 7 点，可用只剩 3 点
	_, err := ledger.Reserve(ctx, "user-1", "story-1", entity.KindMeta, 7)
	require.NoError(t, err)

	_, err = ledger.Reserve(ctx, "user-1", "story-1", entity.KindMeta, 4)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrInsufficientCredits))

	// 失败的预留不留痕迹
	assert.Equal(t, int64(7), repo.account.Reserved)
	open, _ := repo.ListOpenHolds(ctx, "user-1")
	assert.Len(t, open, 1)
}

func TestLedger_Release_RefundsFullHold(t *testing.T) {
	repo := newFakeCreditRepo(50)
	ledger := NewLedger(repo, fakeTransactor{})
	ctx := context.Background()

	hold, err := ledger.Reserve(ctx, "user-1", "story-1", entity.KindSummaries, 12)
	require.NoError(t, err)

	require.NoError(t, ledger.Release(ctx, hold))
	assert.Equal(t, int64(50), repo.account.Balance)
	assert.Equal(t, int64(0), repo.account.Reserved)
	assert.Equal(t, entity.HoldStatusReleased, hold.Status)
}

func TestLedger_ResolvedHoldIsFinal(t *testing.T) {
	repo := newFakeCreditRepo(50)
	ledger := NewLedger(repo, fakeTransactor{})
	ctx := context.Background()

	hold, err := ledger.Reserve(ctx, "user-1", "story-1", entity.KindArcs, 5)
	require.NoError(t, err)
	require.NoError(t, ledger.Settle(ctx, hold, 5))

	// 已结算的预留既不能再结算也不能再释放
	err = ledger.Settle(ctx, hold, 5)
	assert.True(t, errors.Is(err, apperrors.ErrConflict))
	err = ledger.Release(ctx, hold)
	assert.True(t, errors.Is(err, apperrors.ErrConflict))

	assert.Equal(t, int64(45), repo.account.Balance)
	assert.Equal(t, int64(0), repo.account.Reserved)
}

func TestLedger_Release_IsIdempotent(t *testing.T) {
	repo := newFakeCreditRepo(50)
	ledger := NewLedger(repo, fakeTransactor{})
	ctx := context.Background()

	hold, err := ledger.Reserve(ctx, "user-1", "story-1", entity.KindChapterGuide, 8)
	require.NoError(t, err)
	require.NoError(t, ledger.Release(ctx, hold))

	// 失败路径可能重复走释放，第二次必须是无副作用的成功
	require.NoError(t, ledger.Release(ctx, hold))
	assert.Equal(t, int64(50), repo.account.Balance)
	assert.Equal(t, int64(0), repo.account.Reserved)
	assert.Equal(t, entity.HoldStatusReleased, hold.Status)
}

func TestLedger_Settle_RollbackKeepsHoldOpen(t *testing.T) {
	repo := newFakeCreditRepo(50)
	ledger := NewLedger(repo, rollbackTransactor{repo: repo})
	ctx := context.Background()

	hold, err := ledger.Reserve(ctx, "user-1", "story-1", entity.KindChapter, 10)
	require.NoError(t, err)

	// 结算事务回滚后预留必须保持 open，否则这笔预留会永久占住额度
	repo.failUpdateHold = true
	require.Error(t, ledger.Settle(ctx, hold, 6))
	assert.Equal(t, entity.HoldStatusOpen, hold.Status)
	assert.Nil(t, hold.ActualAmount)
	assert.Equal(t, int64(50), repo.account.Balance)
	assert.Equal(t, int64(10), repo.account.Reserved)

	repo.failUpdateHold = false
	require.NoError(t, ledger.Release(ctx, hold))
	assert.Equal(t, int64(0), repo.account.Reserved)
}

func TestLedger_Reserve_RejectsNonPositiveAmount(t *testing.T) {
	ledger := NewLedger(newFakeCreditRepo(50), fakeTransactor{})

	_, err := ledger.Reserve(context.Background(), "user-1", "story-1", entity.KindMeta, 0)
	assert.True(t, errors.Is(err, apperrors.ErrInvalidParam))
}

func TestLedger_TopUp(t *testing.T) {
	repo := newFakeCreditRepo(10)
	ledger := NewLedger(repo, fakeTransactor{})
	ctx := context.Background()

	require.NoError(t, ledger.TopUp(ctx, "user-1", 90))
	account, err := ledger.Balance(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(100), account.Balance)

	err = ledger.TopUp(ctx, "user-1", -5)
	assert.True(t, errors.Is(err, apperrors.ErrInvalidParam))
}
