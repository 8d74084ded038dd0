package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"

	"github.com/code-Quester/SpeakSutra/internal/logger"
)

// SessionCookieName carries the enrollment session token.
const SessionCookieName = "enrollment_session"

// GateState is the Enrollment Gate state derived from a session token.
type GateState string

const (
	GateLocked   GateState = "locked"
	GateUnlocked GateState = "unlocked"
)

// SessionClaims are the claims of an enrollment session token.
type SessionClaims struct {
	CustomerID string `json:"customer_id"`
	OrderID    string `json:"order_id"`
	jwt.RegisteredClaims
}

// EnrollmentChecker answers whether a customer has completed enrollment.
type EnrollmentChecker interface {
	CheckEnrollment(ctx context.Context, customerID string) (*EnrollmentStatus, error)
}

// SessionManager issues and validates enrollment session tokens. A token is only a
// cached view of the server-side record; nothing that changes state trusts it.
type SessionManager struct {
	secret      []byte
	ttl         time.Duration
	enrollments EnrollmentChecker
	cache       *RedisCache
}

func NewSessionManager(secret string, ttl time.Duration, enrollments EnrollmentChecker, cache *RedisCache) *SessionManager {
	return &SessionManager{
		secret:      []byte(secret),
		ttl:         ttl,
		enrollments: enrollments,
		cache:       cache,
	}
}

// TTL is the lifetime of issued tokens.
func (m *SessionManager) TTL() time.Duration {
	return m.ttl
}

// Unlock issues a token when customerID has a completed record whose local order
// reference or gateway order id equals orderID. Otherwise it returns ErrNotEnrolled.
func (m *SessionManager) Unlock(ctx context.Context, customerID, orderID string) (string, *SessionClaims, error) {
	customerID = strings.TrimSpace(customerID)
	orderID = strings.TrimSpace(orderID)
	fields := map[string]string{}
	if customerID == "" {
		fields["customerId"] = "is required"
	}
	if orderID == "" {
		fields["orderId"] = "is required"
	}
	if len(fields) > 0 {
		return "", nil, &ValidationError{Fields: fields}
	}

	status, err := m.enrollments.CheckEnrollment(ctx, customerID)
	if err != nil {
		return "", nil, err
	}
	if !status.Enrolled || (orderID != status.OrderID && orderID != status.GatewayOrderID) {
		return "", nil, ErrNotEnrolled
	}

	now := time.Now()
	claims := &SessionClaims{
		CustomerID: status.CustomerID,
		OrderID:    status.OrderID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   status.CustomerID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", nil, fmt.Errorf("sign session token: %w", err)
	}
	return token, claims, nil
}

// State returns Unlocked with the claims for a valid, unrevoked token, Locked otherwise.
func (m *SessionManager) State(ctx context.Context, token string) (GateState, *SessionClaims) {
	claims, err := m.parse(token)
	if err != nil {
		return GateLocked, nil
	}
	if m.cache.IsSessionRevoked(ctx, claims.ID) {
		return GateLocked, nil
	}
	return GateUnlocked, claims
}

// Lock revokes the token until its natural expiry. Invalid tokens are already locked.
func (m *SessionManager) Lock(ctx context.Context, token string) error {
	claims, err := m.parse(token)
	if err != nil {
		return nil
	}

	ttl := time.Until(claims.ExpiresAt.Time)
	if err := m.cache.RevokeSession(ctx, claims.ID, ttl); err != nil {
		logger.Log.WithError(err).WithField("customer_id", claims.CustomerID).Warn("failed to revoke session")
		return err
	}
	return nil
}

func (m *SessionManager) parse(token string) (*SessionClaims, error) {
	if token == "" {
		return nil, errors.New("empty session token")
	}

	claims := &SessionClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil {
		return nil, err
	}
	if claims.CustomerID == "" || claims.ExpiresAt == nil {
		return nil, errors.New("incomplete session claims")
	}
	return claims, nil
}
