package handler

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"
	"github.com/rs/zerolog"

	"github.com/omnibus_custody/apperr"
	"github.com/omnibus_custody/model"
	"github.com/omnibus_custody/repository"
)

const identityKey = "identity"

// Claims is the bearer token payload. Tokens are issued elsewhere; this
// service only verifies them.
type Claims struct {
	Email string `json:"email"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

// Identity is the authenticated caller, loaded from the users table.
type Identity struct {
	UserID string
	Email  string
	Role   model.Role
}

type Authenticator struct {
	secret []byte
	users  *repository.UserRepository
	log    zerolog.Logger
}

func NewAuthenticator(secret string, users *repository.UserRepository, log zerolog.Logger) *Authenticator {
	return &Authenticator{
		secret: []byte(secret),
		users:  users,
		log:    log.With().Str("component", "auth").Logger(),
	}
}

func (a *Authenticator) parse(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.Subject == "" {
		return nil, errors.New("token has no subject")
	}
	return claims, nil
}

// Required rejects requests without a valid HS256 bearer token whose subject
// is a known user.
func (a *Authenticator) Required() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
			unauthorized(c, "expected 'Authorization: Bearer <token>'")
			return
		}

		claims, err := a.parse(parts[1])
		if err != nil {
			a.log.Debug().Err(err).Msg("token rejected")
			unauthorized(c, "invalid token")
			return
		}

		user, err := a.users.FindByID(c.Request.Context(), claims.Subject)
		if errors.Is(err, repository.ErrNotFound) {
			unauthorized(c, "invalid token")
			return
		}
		if err != nil {
			fail(c, apperr.Internal("load user", err), nil)
			return
		}

		c.Set(identityKey, Identity{UserID: user.ID, Email: user.Email, Role: user.Role})
		c.Next()
	}
}

// AdminOnly must run after Required.
func AdminOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		if id, ok := identityOf(c); !ok || id.Role != model.RoleAdmin {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   apperr.CodeForbidden,
				"message": "admin role required",
			})
			return
		}
		c.Next()
	}
}

func unauthorized(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"error":   apperr.CodeUnauthenticated,
		"message": msg,
	})
}

func identityOf(c *gin.Context) (Identity, bool) {
	v, ok := c.Get(identityKey)
	if !ok {
		return Identity{}, false
	}
	id, ok := v.(Identity)
	return id, ok
}
