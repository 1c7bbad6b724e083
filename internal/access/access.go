package access

import (
	"github.com/google/uuid"

	"github.com/angelmondragon/shopstock-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/shopstock-backend/pkg/errors"
)

// Actor is the caller of a mutating operation. ShopID is the shop the actor
// is assigned to; admins may have none.
type Actor struct {
	UserID uuid.UUID
	Role   enums.ActorRole
	ShopID *uuid.UUID
}

// Validate rejects actors without an identity or with an unknown role.
func (a Actor) Validate() error {
	if a.UserID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "actor user id is required")
	}
	if !a.Role.IsValid() {
		return pkgerrors.Newf(pkgerrors.CodeValidation, "invalid actor role %q", a.Role)
	}
	return nil
}

// BelongsTo reports whether the actor is assigned to shopID.
func (a Actor) BelongsTo(shopID uuid.UUID) bool {
	return a.ShopID != nil && *a.ShopID == shopID
}

// Authorizer answers capability questions about an actor. Implementations
// must not touch stock state.
type Authorizer interface {
	CanRecordSale(actor Actor, shopID uuid.UUID) bool
	CanRequestTransfer(actor Actor, fromShopID uuid.UUID) bool
	CanManageTransfers(actor Actor) bool
	CanCancelTransfer(actor Actor, requestedBy uuid.UUID) bool
	CanViewShop(actor Actor, shopID uuid.UUID) bool
}

// Require converts a denied capability into a FORBIDDEN error.
func Require(allowed bool, message string) error {
	if allowed {
		return nil
	}
	return pkgerrors.New(pkgerrors.CodeForbidden, message)
}
