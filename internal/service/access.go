package service

import (
	"fmt"
	"log"

	"github.com/nemwellington/vendanozap/internal/model"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// AccessController authorizes realtime connections into tenant namespaces
// and room join/leave requests. It holds no cross-connection state; every
// check is a short-lived validation of the attempt at hand.
type AccessController struct {
	jwtSecret      []byte
	allowedOrigins map[string]bool
}

func NewAccessController(jwtSecret string, allowedOrigins []string) *AccessController {
	origins := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		origins[o] = true
	}
	return &AccessController{
		jwtSecret:      []byte(jwtSecret),
		allowedOrigins: origins,
	}
}

// ParseWorkspace validates a namespace path segment of the exact form
// "workspace-<digits>". Anything else is rejected, never coerced.
func ParseWorkspace(namespace string) (int64, error) {
	const prefix = "workspace-"
	if len(namespace) <= len(prefix) || namespace[:len(prefix)] != prefix {
		return 0, &AuthorizationError{Reason: "invalid namespace"}
	}
	digits := namespace[len(prefix):]
	if len(digits) > 18 {
		return 0, &AuthorizationError{Reason: "invalid namespace"}
	}
	var id int64
	for _, ch := range digits {
		if ch < '0' || ch > '9' {
			return 0, &AuthorizationError{Reason: "invalid namespace"}
		}
		id = id*10 + int64(ch-'0')
	}
	return id, nil
}

// AuthorizeConnection runs the connection-boundary checks in order:
// namespace pattern, origin allow-list, token verification. Any failure
// rejects the connection and leaves no partial authorization state behind.
func (a *AccessController) AuthorizeConnection(namespace, token, origin, remoteAddr string) (*model.Identity, error) {
	tenantID, err := ParseWorkspace(namespace)
	if err != nil {
		log.Printf("[WS] rejected connection to namespace %q from %s: invalid namespace", namespace, remoteAddr)
		return nil, err
	}

	// Non-browser clients send no Origin header; that is allowed.
	if origin != "" && !a.allowedOrigins[origin] {
		log.Printf("[WS] rejected connection from %s: origin %q not allowed", remoteAddr, origin)
		return nil, &AuthorizationError{Reason: "origin not allowed"}
	}

	userID, err := a.verifyToken(token)
	if err != nil {
		log.Printf("[WS] rejected connection from %s: %v", remoteAddr, err)
		return nil, err
	}

	return &model.Identity{UserID: userID, TenantID: tenantID}, nil
}

// AuthorizeJoin format-checks a room key for the given kind. Well-formed
// ids for nonexistent tickets are permitted; the publisher never emits into
// a room for a ticket outside the subscriber's tenant.
func (a *AccessController) AuthorizeJoin(identity *model.Identity, kind model.RoomKind, roomKey string) error {
	switch kind {
	case model.RoomTicketThread:
		if _, err := uuid.Parse(roomKey); err != nil {
			return &ValidationError{Field: "ticketId", Reason: "not a valid ticket id"}
		}
		return nil
	case model.RoomStatusChannel:
		switch model.TicketStatus(roomKey) {
		case model.StatusOpen, model.StatusClosed, model.StatusPending:
			return nil
		}
		return &ValidationError{Field: "status", Reason: "must be open, closed or pending"}
	case model.RoomNotificationChannel:
		return nil
	default:
		return &ValidationError{Field: "room", Reason: fmt.Sprintf("unknown room kind %q", kind)}
	}
}

func (a *AccessController) verifyToken(tokenString string) (string, error) {
	if tokenString == "" {
		return "", &AuthorizationError{Reason: "missing token"}
	}

	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.jwtSecret, nil
	})
	if err != nil || !token.Valid {
		return "", &AuthorizationError{Reason: "invalid token"}
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", &AuthorizationError{Reason: "invalid token claims"}
	}

	userID, _ := claims["sub"].(string)
	if _, err := uuid.Parse(userID); err != nil {
		return "", &AuthorizationError{Reason: "invalid token subject"}
	}
	return userID, nil
}
