package tokens

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"

	"github.com/BearBump/LiveTrack/internal/models"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

const (
	nonceLen = 16
	macLen   = sha256.Size
)

type Store interface {
	GetOrderByNumber(ctx context.Context, orderNumber string) (*models.Order, error)
	SetTrackingToken(ctx context.Context, orderNumber, token string) error
}

type Options struct {
	// AllowUntokened keeps the legacy behaviour: an order that never had a
	// link generated is trackable by number alone.
	AllowUntokened bool
}

// Authority issues and verifies tracking tokens. A token is
// base64url(nonce || HMAC-SHA256(secret, orderNumber, nonce)); the nonce
// makes every issuance distinct so regenerating a link revokes the old one.
type Authority struct {
	secret []byte
	store  Store
	opts   Options

	newNonce func() []byte
}

func New(secret string, store Store, opts Options) (*Authority, error) {
	if len(secret) < 16 {
		return nil, errors.New("tracking secret must be at least 16 bytes")
	}
	return &Authority{
		secret: []byte(secret),
		store:  store,
		opts:   opts,
		newNonce: func() []byte {
			id := uuid.New()
			return id[:]
		},
	}, nil
}

// Issue mints a fresh token for the order and persists it, replacing any
// previous one.
func (a *Authority) Issue(ctx context.Context, orderNumber string) (string, error) {
	o, err := a.store.GetOrderByNumber(ctx, orderNumber)
	if err != nil {
		return "", err
	}
	tok := a.Mint(o.OrderNumber)
	if err := a.store.SetTrackingToken(ctx, o.OrderNumber, tok); err != nil {
		return "", errors.Wrap(err, "store tracking token")
	}
	return tok, nil
}

// Mint derives a token without persisting it.
func (a *Authority) Mint(orderNumber string) string {
	nonce := a.newNonce()
	buf := make([]byte, 0, nonceLen+macLen)
	buf = append(buf, nonce...)
	buf = append(buf, a.mac(orderNumber, nonce)...)
	return base64.RawURLEncoding.EncodeToString(buf)
}

// Verify returns the order when token grants access to it. Every failure,
// including a missing order, is reported as models.ErrInvalidToken.
func (a *Authority) Verify(ctx context.Context, orderNumber, token string) (*models.Order, error) {
	if orderNumber == "" {
		return nil, models.ErrInvalidToken
	}
	o, err := a.store.GetOrderByNumber(ctx, orderNumber)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrInvalidToken
		}
		return nil, errors.Wrap(err, "lookup order for token")
	}

	if o.TrackingToken == nil || *o.TrackingToken == "" {
		if a.opts.AllowUntokened {
			return o, nil
		}
		return nil, models.ErrInvalidToken
	}

	if !a.wellFormed(o.OrderNumber, token) {
		return nil, models.ErrInvalidToken
	}
	if !hmac.Equal([]byte(*o.TrackingToken), []byte(token)) {
		return nil, models.ErrInvalidToken
	}
	return o, nil
}

// wellFormed checks that token was minted by this secret for orderNumber.
// It does not say whether the token is still the current one.
func (a *Authority) wellFormed(orderNumber, token string) bool {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil || len(raw) != nonceLen+macLen {
		return false
	}
	return hmac.Equal(raw[nonceLen:], a.mac(orderNumber, raw[:nonceLen]))
}

func (a *Authority) mac(orderNumber string, nonce []byte) []byte {
	h := hmac.New(sha256.New, a.secret)
	h.Write([]byte(orderNumber))
	h.Write([]byte{0})
	h.Write(nonce)
	return h.Sum(nil)
}
