package chat

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pandodao/plebwallet/core"
)

const audienceResume = "chat:resume"

var ErrBadContinuation = errors.New("chat: invalid continuation")

// suspended is a run paused before client side tool execution.
type suspended struct {
	ID        string
	Run       *core.Run
	Tools     []core.ToolSpec
	Pending   []core.ToolCall
	ExpiresAt time.Time
}

// resumeClaims carry the suspended run; the signature keeps the payment fields from being edited by the holder.
type resumeClaims struct {
	jwt.RegisteredClaims
	Run     *core.Run       `json:"run"`
	Tools   []core.ToolSpec `json:"tools,omitempty"`
	Pending []core.ToolCall `json:"pending"`
}

func encodeContinuation(key []byte, s *suspended, issuedAt time.Time) (string, error) {
	claims := resumeClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   s.Run.ThreadID,
			ID:        s.ID,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(s.ExpiresAt),
			Audience:  jwt.ClaimStrings{audienceResume},
		},
		Run:     s.Run,
		Tools:   s.Tools,
		Pending: s.Pending,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
	if err != nil {
		return "", fmt.Errorf("failed to sign continuation: %w", err)
	}

	return signed, nil
}

func decodeContinuation(key []byte, marker string, now func() time.Time) (*suspended, error) {
	token, err := jwt.ParseWithClaims(marker, &resumeClaims{}, func(token *jwt.Token) (interface{}, error) {
		return key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(audienceResume),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadContinuation, err)
	}

	claims, ok := token.Claims.(*resumeClaims)
	if !ok || !token.Valid {
		return nil, ErrBadContinuation
	}

	if claims.ID == "" || claims.Run == nil || len(claims.Pending) == 0 {
		return nil, fmt.Errorf("%w: nothing pending", ErrBadContinuation)
	}

	return &suspended{
		ID:        claims.ID,
		Run:       claims.Run,
		Tools:     claims.Tools,
		Pending:   claims.Pending,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}
