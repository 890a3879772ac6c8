package middleware

import (
	"fmt"
	"strings"

	"github.com/nemwellington/vendanozap/internal/model"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Auth verifies the bearer token and stores the decoded identity in locals.
// Token issuance lives elsewhere; this side only consumes verification.
func Auth(jwtSecret string) fiber.Handler {
	secret := []byte(jwtSecret)
	return func(c *fiber.Ctx) error {
		authHeader := c.Get("Authorization")
		if authHeader == "" {
			return c.Status(401).JSON(fiber.Map{"error": "missing authorization header"})
		}

		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		if tokenString == authHeader {
			return c.Status(401).JSON(fiber.Map{"error": "invalid authorization format"})
		}

		token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return secret, nil
		})
		if err != nil || !token.Valid {
			return c.Status(401).JSON(fiber.Map{"error": "invalid or expired token"})
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			return c.Status(401).JSON(fiber.Map{"error": "invalid token claims"})
		}

		userID, _ := claims["sub"].(string)
		if _, err := uuid.Parse(userID); err != nil {
			return c.Status(401).JSON(fiber.Map{"error": "invalid token: missing subject"})
		}

		tenantID, ok := claims["tenant_id"].(float64)
		if !ok || tenantID <= 0 {
			return c.Status(401).JSON(fiber.Map{"error": "invalid token: missing tenant"})
		}

		c.Locals("identity", &model.Identity{UserID: userID, TenantID: int64(tenantID)})
		return c.Next()
	}
}

// AdminKey guards the operational endpoints with a shared key.
func AdminKey(expectedKey string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		key := c.Get("X-Admin-Key")
		if key == "" || key != expectedKey {
			return c.Status(403).JSON(fiber.Map{"error": "invalid admin key"})
		}
		return c.Next()
	}
}
