package ledger

import (
	"context"

	"dompet/internal/core"
	"dompet/internal/storage"
)

// validateTransactionRefs checks that the category, subcategory and payment
// method of tx belong to user and that kinds line up. Every failure is a
// validation error naming the offending field.
func validateTransactionRefs(ctx context.Context, r storage.Reader, user core.UserID, tx core.Transaction) error {
	cat, err := r.GetCategory(ctx, user, tx.CategoryID)
	if err != nil {
		return asReference(err, "category_id")
	}
	if cat.Kind != tx.Type {
		return core.Invalid("category_id", core.ErrKindMismatch)
	}

	sub, err := r.GetSubcategory(ctx, user, tx.SubcategoryID)
	if err != nil {
		return asReference(err, "subcategory_id")
	}
	if sub.CategoryID != cat.ID {
		return core.Invalidf("subcategory_id", "subcategory %q does not belong to category %q", sub.Name, cat.Name)
	}
	if sub.Kind != tx.Type {
		return core.Invalid("subcategory_id", core.ErrKindMismatch)
	}

	return methodExists(ctx, r, user, "payment_method_id", tx.PaymentMethodID)
}

func validateTransferRefs(ctx context.Context, r storage.Reader, user core.UserID, tr core.Transfer) error {
	if err := methodExists(ctx, r, user, "from_payment_method_id", tr.FromPaymentMethodID); err != nil {
		return err
	}
	return methodExists(ctx, r, user, "to_payment_method_id", tr.ToPaymentMethodID)
}
