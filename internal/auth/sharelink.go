package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultShareLinkTTL is how long a shared report link stays valid.
const DefaultShareLinkTTL = 30 * 24 * time.Hour

// shareClaims grants read-only access to a single report.
type shareClaims struct {
	ReportID string `json:"report_id"`
	jwt.RegisteredClaims
}

// SignReportToken creates an HMAC-signed token granting read access to
// one report for the given duration.
func SignReportToken(secret []byte, reportID string, ttl time.Duration) (string, error) {
	if len(secret) == 0 {
		return "", fmt.Errorf("share link secret is not configured")
	}
	if ttl <= 0 {
		ttl = DefaultShareLinkTTL
	}

	now := time.Now()
	claims := shareClaims{
		ReportID: reportID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "seo-reporter",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign share token: %w", err)
	}
	return signed, nil
}

// ParseReportToken validates a share token and returns the report ID it
// grants access to.
func ParseReportToken(secret []byte, tokenString string) (string, error) {
	claims := &shareClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("invalid share token: %w", err)
	}
	if !token.Valid || claims.ReportID == "" {
		return "", fmt.Errorf("share token is not valid")
	}
	return claims.ReportID, nil
}
