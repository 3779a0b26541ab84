package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ServiceClaims authorise one call against the site platform API
type ServiceClaims struct {
	Action string `json:"action"`
	SiteID int64  `json:"site_id,omitempty"`
	jwt.RegisteredClaims
}

// ServiceTokens mints short-lived HS256 tokens for outbound platform calls
type ServiceTokens struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

func NewServiceTokens(secret, issuer string, ttl time.Duration) *ServiceTokens {
	if issuer == "" {
		issuer = "site-factory"
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &ServiceTokens{secret: []byte(secret), issuer: issuer, ttl: ttl, now: time.Now}
}

// Mint signs a token scoped to action and, when non-zero, siteID
func (st *ServiceTokens) Mint(action string, siteID int64) (string, error) {
	if len(st.secret) == 0 {
		return "", fmt.Errorf("platform api secret not configured")
	}
	now := st.now()
	claims := ServiceClaims{
		Action: action,
		SiteID: siteID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(st.ttl)),
			Issuer:    st.issuer,
			Audience:  jwt.ClaimStrings{"site-platform"},
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(st.secret)
}

// Verify parses a token minted with the same secret
func (st *ServiceTokens) Verify(tokenString string) (*ServiceClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &ServiceClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return st.secret, nil
	}, jwt.WithIssuer(st.issuer), jwt.WithAudience("site-platform"), jwt.WithTimeFunc(st.now))
	if err != nil {
		return nil, fmt.Errorf("parse token failed: %w", err)
	}
	claims, ok := token.Claims.(*ServiceClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}
	return claims, nil
}
