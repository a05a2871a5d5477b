package auth

import "github.com/artpar/pagehost/internal/core/domain"

// =============================================================================
// Page Authorization
// =============================================================================

// CanViewPage checks if the user can view a page.
func CanViewPage(ctx Context, page domain.UserPage) bool {
	return ctx.Authenticated && page.OwnerID == ctx.UserID
}

// CanDeletePage checks if the user can delete a page.
// Only the owner can delete.
func CanDeletePage(ctx Context, page domain.UserPage) bool {
	return ctx.Authenticated && page.OwnerID == ctx.UserID
}

// =============================================================================
// Donated Domain Authorization
// =============================================================================

// CanManageDonatedDomain checks if the user donated the domain.
func CanManageDonatedDomain(ctx Context, d domain.DonatedDomain) bool {
	return ctx.Authenticated && d.DonorID == ctx.UserID
}

// CanDonateDomain checks if the user can submit a domain.
func CanDonateDomain(ctx Context) bool {
	return ctx.Authenticated
}

// =============================================================================
// Generic Helpers
// =============================================================================

// RequireAuthentication checks if the context is authenticated.
// Returns (true, "") if authenticated, or (false, "authentication required") if not.
func RequireAuthentication(ctx Context) (bool, string) {
	if !ctx.Authenticated {
		return false, "authentication required"
	}
	return true, ""
}
