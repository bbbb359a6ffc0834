package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// TokenVerifier validates a bearer token and resolves the caller identity.
// The dashboard's identity service is one implementation; the shipped ones
// validate locally issued JWTs and an optional static ops token.
type TokenVerifier interface {
	Verify(token string) (callerID string, err error)
}

type Claims struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// JWTVerifier validates HS256 tokens issued by the dashboard.
type JWTVerifier struct {
	secret []byte
}

func NewJWTVerifier(secret string) *JWTVerifier {
	return &JWTVerifier{secret: []byte(secret)}
}

func (v *JWTVerifier) Verify(tokenString string) (string, error) {
	if len(v.secret) == 0 {
		return "", errors.New("no JWT secret configured")
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return v.secret, nil
	})
	if err != nil {
		return "", err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return "", errors.New("invalid token")
	}
	return claims.UserID, nil
}

// GenerateToken issues a signed token for a user. Kept here so tests and
// the setup path can mint tokens without the dashboard.
func (v *JWTVerifier) GenerateToken(userID, email, role string) (string, error) {
	if role == "" {
		role = "user"
	}

	now := time.Now()
	claims := Claims{
		UserID: userID,
		Email:  email,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(24 * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    "rackops",
			Subject:   userID,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}

// OpsTokenVerifier accepts a single static token whose bcrypt hash is set
// in configuration. Break-glass access for operators when the identity
// service is down.
type OpsTokenVerifier struct {
	hash string
}

func NewOpsTokenVerifier(hash string) *OpsTokenVerifier {
	return &OpsTokenVerifier{hash: hash}
}

func (v *OpsTokenVerifier) Verify(token string) (string, error) {
	if v.hash == "" {
		return "", errors.New("no ops token configured")
	}
	// Limit token length to bound bcrypt cost
	if len(token) > 256 {
		return "", errors.New("token too long")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(v.hash), []byte(token)); err != nil {
		return "", errors.New("invalid token")
	}
	return "ops", nil
}

// VerifierChain tries each verifier in order and returns the first success.
type VerifierChain []TokenVerifier

func (c VerifierChain) Verify(token string) (string, error) {
	for _, v := range c {
		if id, err := v.Verify(token); err == nil {
			return id, nil
		}
	}
	return "", errors.New("invalid token")
}
