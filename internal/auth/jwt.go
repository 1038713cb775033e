package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ReturnClaims identifies the payer a provider redirect belongs to.
type ReturnClaims struct {
	UserID    int64
	PaymentID string
}

// ReturnTokenSigner issues and checks the signed token carried by the
// provider return URL, so the return page cannot be used to poke other users.
type ReturnTokenSigner struct {
	secret string
	iss    string
	ttl    time.Duration
}

func NewReturnTokenSigner(secret, iss string, ttl time.Duration) *ReturnTokenSigner {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &ReturnTokenSigner{secret: secret, iss: iss, ttl: ttl}
}

// GenerateToken signs a return token for the user. paymentID may be empty
// when the payment does not exist yet.
func (a *ReturnTokenSigner) GenerateToken(userID int64, paymentID string) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": strconv.FormatInt(userID, 10),
		"exp": now.Add(a.ttl).Unix(),
		"iat": now.Unix(),
		"nbf": now.Unix(),
		"iss": a.iss,
	}
	if paymentID != "" {
		claims["pid"] = paymentID
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	tokenString, err := token.SignedString([]byte(a.secret))
	if err != nil {
		return "", err
	}

	return tokenString, nil
}

// ValidateToken checks signature, issuer and expiry and extracts the claims.
func (a *ReturnTokenSigner) ValidateToken(token string) (*ReturnClaims, error) {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(a.secret), nil
	},
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(a.iss),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}),
	)
	if err != nil {
		return nil, err
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errors.New("unexpected claims type")
	}
	sub, err := claims.GetSubject()
	if err != nil {
		return nil, err
	}
	userID, err := strconv.ParseInt(sub, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid subject %q", sub)
	}

	out := &ReturnClaims{UserID: userID}
	if pid, ok := claims["pid"].(string); ok {
		out.PaymentID = pid
	}
	return out, nil
}
