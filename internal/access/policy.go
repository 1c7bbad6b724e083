package access

import (
	"github.com/google/uuid"

	"github.com/angelmondragon/shopstock-backend/pkg/enums"
)

// RolePolicy is the default Authorizer. Admins may do anything. Sales
// managers and staff act only on their own shop, only sales managers request
// transfers, and neither reviews them.
type RolePolicy struct{}

var _ Authorizer = RolePolicy{}

func (RolePolicy) CanRecordSale(actor Actor, shopID uuid.UUID) bool {
	return isAdmin(actor) || actor.BelongsTo(shopID)
}

func (RolePolicy) CanRequestTransfer(actor Actor, fromShopID uuid.UUID) bool {
	if isAdmin(actor) {
		return true
	}
	return actor.Role == enums.ActorRoleSalesManager && actor.BelongsTo(fromShopID)
}

func (RolePolicy) CanManageTransfers(actor Actor) bool {
	return isAdmin(actor)
}

func (p RolePolicy) CanCancelTransfer(actor Actor, requestedBy uuid.UUID) bool {
	return actor.UserID == requestedBy || p.CanManageTransfers(actor)
}

func (RolePolicy) CanViewShop(actor Actor, shopID uuid.UUID) bool {
	return isAdmin(actor) || actor.BelongsTo(shopID)
}

func isAdmin(actor Actor) bool {
	return actor.Role == enums.ActorRoleAdmin
}
