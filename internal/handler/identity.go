package handler

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/shop-orders/internal/domain/access"
)

// Identity headers set by the API gateway after it authenticated the caller.
const (
	HeaderUserID     = "X-User-ID"
	HeaderUserRole   = "X-User-Role"
	HeaderUserStaff  = "X-User-Staff"
	HeaderUserName   = "X-User-Name"
	HeaderGatewayKey = "X-Gateway-Key"
)

type identityKey struct{}

// WithIdentity stores id in ctx.
func WithIdentity(ctx context.Context, id access.Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFrom returns the caller identity stored in ctx, anonymous if none.
func IdentityFrom(ctx context.Context) access.Identity {
	if id, ok := ctx.Value(identityKey{}).(access.Identity); ok {
		return id
	}
	return access.Anonymous()
}

// Gateway turns signed identity headers into an access.Identity. Headers are
// trusted only when X-Gateway-Key carries the HMAC-SHA256 of their values
// under the shared secret. Without a secret every caller is anonymous.
type Gateway struct {
	secret []byte
}

// NewGateway creates a Gateway verifying headers with secret.
func NewGateway(secret string) *Gateway {
	return &Gateway{secret: []byte(secret)}
}

// Sign returns the hex HMAC-SHA256 the gateway attaches for the given header
// values.
func (g *Gateway) Sign(userID, role, staff, name string) string {
	mac := hmac.New(sha256.New, g.secret)
	mac.Write([]byte(userID + "\n" + role + "\n" + staff + "\n" + name))
	return hex.EncodeToString(mac.Sum(nil))
}

// Identify returns the identity carried by r.
func (g *Gateway) Identify(r *http.Request) access.Identity {
	if len(g.secret) == 0 {
		return access.Anonymous()
	}
	var (
		userID = r.Header.Get(HeaderUserID)
		role   = r.Header.Get(HeaderUserRole)
		staff  = r.Header.Get(HeaderUserStaff)
		name   = r.Header.Get(HeaderUserName)
	)
	if userID == "" {
		return access.Anonymous()
	}

	got, err := hex.DecodeString(r.Header.Get(HeaderGatewayKey))
	if err != nil {
		return access.Anonymous()
	}
	want, _ := hex.DecodeString(g.Sign(userID, role, staff, name))
	if subtle.ConstantTimeCompare(got, want) != 1 {
		return access.Anonymous()
	}

	uid, err := strconv.ParseInt(userID, 10, 64)
	if err != nil || uid <= 0 {
		return access.Anonymous()
	}
	id := access.Identity{
		UserID:        uid,
		Authenticated: true,
		Role:          access.Role(strings.ToLower(strings.TrimSpace(role))),
		Name:          strings.TrimSpace(name),
	}
	if !id.Role.Valid() {
		id.Role = access.RoleCustomer
	}
	id.Staff, _ = strconv.ParseBool(staff)
	return id
}

// Middleware resolves the caller identity once per request and tags the
// request logger with it.
func (g *Gateway) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := g.Identify(r)
		ctx := WithIdentity(r.Context(), id)
		if id.Authenticated {
			ctx = zctx.With(ctx,
				zap.Int64("user_id", id.UserID),
				zap.String("role", string(id.Role)),
			)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
