package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/rs/xid"

	"github.com/rojolang/talker-go/pkg/talker"
)

const tokenSubject = "talker-ws"

// TokenIssuer signs and checks the HS256 tokens that gate /ws.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
}

func NewTokenIssuer(secret string, ttl time.Duration) *TokenIssuer {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &TokenIssuer{secret: []byte(secret), ttl: ttl}
}

func (ti *TokenIssuer) Issue(now time.Time) (talker.WSToken, error) {
	exp := now.Add(ti.ttl)
	claims := jwt.RegisteredClaims{
		ID:        xid.New().String(),
		Subject:   tokenSubject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(ti.secret)
	if err != nil {
		return talker.WSToken{}, talker.WrapErrorf(err, talker.ErrCodeAuthFailed, "failed to sign token")
	}
	return talker.WSToken{Token: signed, ExpiresAt: exp.UnixMilli()}, nil
}

func (ti *TokenIssuer) Verify(token string) error {
	if token == "" {
		return talker.NewAuthError("missing token")
	}
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, talker.NewAuthError("unexpected signing method").AddDetail("alg", t.Header["alg"])
		}
		return ti.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return talker.WrapErrorf(err, talker.ErrCodeTokenExpired, "token expired")
		}
		return talker.WrapErrorf(err, talker.ErrCodeAuthFailed, "invalid token")
	}
	if claims.Subject != tokenSubject {
		return talker.NewAuthError("token subject mismatch")
	}
	return nil
}

func (s *Server) issueToken(w http.ResponseWriter, r *http.Request) {
	if s.tokens == nil {
		RespondWithError("token auth disabled", http.StatusNotFound, w)
		return
	}
	tok, err := s.tokens.Issue(s.clock.Now())
	if err != nil {
		s.respondWithErr(err, w)
		return
	}
	RespondWithJSON(tok, http.StatusOK, w)
}
