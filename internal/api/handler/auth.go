package handler

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	jwt "github.com/golang-jwt/jwt/v5"
)

const callerKey = "caller_id"

var errNoSubject = errors.New("token has no subject")

// IssueToken підписує токен для userID. Облікових записів тут немає, тому
// токени для налагодження видає admin-утиліта.
func IssueToken(secret []byte, userID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		Issuer:    "strangerchat",
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// ParseToken перевіряє HS256 токен і повертає його subject.
func ParseToken(secret []byte, tokenString string) (string, error) {
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(tokenString, &claims, func(*jwt.Token) (any, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", err
	}
	if claims.Subject == "" {
		return "", errNoSubject
	}
	return claims.Subject, nil
}

// RequireAuth відхиляє запити без дійсного bearer токена і зберігає
// user id клієнта в контексті.
func (h *Handler) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok || tokenString == "" {
			fail(c, http.StatusUnauthorized, "Authorization token missing")
			return
		}
		userID, err := ParseToken(h.JWTSecret, tokenString)
		if err != nil {
			fail(c, http.StatusUnauthorized, "Invalid token or expired")
			return
		}
		c.Set(callerKey, userID)
		c.Next()
	}
}

func caller(c *gin.Context) string {
	return c.GetString(callerKey)
}
