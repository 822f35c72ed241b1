package tokens

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/BearBump/LiveTrack/internal/models"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	mu     sync.Mutex
	orders map[string]*models.Order
	setErr error
}

func newFakeStore(orders ...*models.Order) *fakeStore {
	s := &fakeStore{orders: map[string]*models.Order{}}
	for _, o := range orders {
		s.orders[o.OrderNumber] = o
	}
	return s
}

func (s *fakeStore) GetOrderByNumber(_ context.Context, n string) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[n]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (s *fakeStore) SetTrackingToken(_ context.Context, n, tok string) error {
	if s.setErr != nil {
		return s.setErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[n]
	if !ok {
		return models.ErrNotFound
	}
	o.TrackingToken = &tok
	return nil
}

const secret = "test-secret-0123456789"

func newAuthority(t *testing.T, st Store, allow bool) *Authority {
	t.Helper()
	a, err := New(secret, st, Options{AllowUntokened: allow})
	require.NoError(t, err)
	return a
}

func TestNew_ShortSecret(t *testing.T) {
	_, err := New("short", newFakeStore(), Options{})
	require.Error(t, err)
}

func TestIssueVerify_RoundTrip(t *testing.T) {
	st := newFakeStore(&models.Order{ID: "o1", OrderNumber: "ORD-1"})
	a := newAuthority(t, st, true)
	ctx := context.Background()

	tok, err := a.Issue(ctx, "ORD-1")
	require.NoError(t, err)
	require.NotEmpty(t, tok)
	require.NotContains(t, tok, "ORD-1")

	o, err := a.Verify(ctx, "ORD-1", tok)
	require.NoError(t, err)
	require.Equal(t, "o1", o.ID)

	_, err = a.Verify(ctx, "ORD-1", tok+"x")
	require.ErrorIs(t, err, models.ErrInvalidToken)
	_, err = a.Verify(ctx, "ORD-1", "")
	require.ErrorIs(t, err, models.ErrInvalidToken)
}

func TestRegenerate_InvalidatesPrevious(t *testing.T) {
	st := newFakeStore(&models.Order{ID: "o1", OrderNumber: "ORD-1"})
	a := newAuthority(t, st, true)
	ctx := context.Background()

	first, err := a.Issue(ctx, "ORD-1")
	require.NoError(t, err)
	second, err := a.Issue(ctx, "ORD-1")
	require.NoError(t, err)
	require.NotEqual(t, first, second)

	_, err = a.Verify(ctx, "ORD-1", first)
	require.ErrorIs(t, err, models.ErrInvalidToken)
	_, err = a.Verify(ctx, "ORD-1", second)
	require.NoError(t, err)
}

func TestVerify_TokenForOtherOrder(t *testing.T) {
	st := newFakeStore(
		&models.Order{ID: "o1", OrderNumber: "X"},
		&models.Order{ID: "o2", OrderNumber: "Y"},
	)
	a := newAuthority(t, st, true)
	ctx := context.Background()

	_, err := a.Issue(ctx, "X")
	require.NoError(t, err)
	tokY, err := a.Issue(ctx, "Y")
	require.NoError(t, err)

	o, err := a.Verify(ctx, "X", tokY)
	require.Nil(t, o)
	require.ErrorIs(t, err, models.ErrInvalidToken)
}

func TestVerify_MissingOrderLooksLikeBadToken(t *testing.T) {
	a := newAuthority(t, newFakeStore(), true)

	_, errMissing := a.Verify(context.Background(), "NOPE", "whatever")
	require.ErrorIs(t, errMissing, models.ErrInvalidToken)

	st := newFakeStore(&models.Order{ID: "o1", OrderNumber: "ORD-1"})
	a2 := newAuthority(t, st, true)
	_, err := a2.Issue(context.Background(), "ORD-1")
	require.NoError(t, err)
	_, errBad := a2.Verify(context.Background(), "ORD-1", "whatever")

	require.Equal(t, errMissing.Error(), errBad.Error())
}

func TestVerify_Untokened(t *testing.T) {
	st := newFakeStore(&models.Order{ID: "o1", OrderNumber: "ORD-1"})
	ctx := context.Background()

	o, err := newAuthority(t, st, true).Verify(ctx, "ORD-1", "")
	require.NoError(t, err)
	require.Equal(t, "o1", o.ID)

	_, err = newAuthority(t, st, false).Verify(ctx, "ORD-1", "")
	require.ErrorIs(t, err, models.ErrInvalidToken)
}

func TestVerify_ForgedWithOtherSecret(t *testing.T) {
	st := newFakeStore(&models.Order{ID: "o1", OrderNumber: "ORD-1"})
	a := newAuthority(t, st, true)
	_, err := a.Issue(context.Background(), "ORD-1")
	require.NoError(t, err)

	other, err := New(strings.Repeat("z", 32), st, Options{})
	require.NoError(t, err)
	forged := other.Mint("ORD-1")

	_, err = a.Verify(context.Background(), "ORD-1", forged)
	require.ErrorIs(t, err, models.ErrInvalidToken)
}

func TestIssue_Errors(t *testing.T) {
	a := newAuthority(t, newFakeStore(), true)
	_, err := a.Issue(context.Background(), "NOPE")
	require.ErrorIs(t, err, models.ErrNotFound)

	st := newFakeStore(&models.Order{ID: "o1", OrderNumber: "ORD-1"})
	st.setErr = errors.New("db down")
	_, err = newAuthority(t, st, true).Issue(context.Background(), "ORD-1")
	require.Error(t, err)
	require.Contains(t, err.Error(), "db down")
}
