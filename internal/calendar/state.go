package calendar

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const stateTTL = 10 * time.Minute

type stateClaims struct {
	jwt.RegisteredClaims
	Purpose string `json:"purpose"`
}

// SignState produces the OAuth state parameter binding the authorization to userID.
func SignState(secret []byte, userID string, now time.Time) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("calendar: state secret not configured")
	}
	claims := stateClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(stateTTL)),
		},
		Purpose: "calendar_connect",
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// VerifyState returns the user id carried by a state parameter from SignState.
func VerifyState(secret []byte, state string, now time.Time) (string, error) {
	var claims stateClaims
	_, err := jwt.ParseWithClaims(state, &claims, func(t *jwt.Token) (any, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(func() time.Time { return now }))
	if err != nil {
		return "", err
	}
	if claims.Purpose != "calendar_connect" || claims.Subject == "" {
		return "", errors.New("calendar: state is not a calendar connect token")
	}
	return claims.Subject, nil
}
