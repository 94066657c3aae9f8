package core

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	Income  Kind = "income"
	Expense Kind = "expense"
)

const (
	maxMethodNameLen   = 50
	maxCategoryNameLen = 60
	maxDescriptionLen  = 200
)

type (
	// UserID identifies the owner of every ledger entity.
	UserID string

	// Kind classifies categories, subcategories and transactions.
	Kind string

	PaymentMethod struct {
		ID     string          `json:"id"`
		UserID UserID          `json:"-"`
		Name   string          `json:"name"`
		// Balance is the running balance seen by the user.
		Balance decimal.Decimal `json:"balance"`
		// BaseBalance anchors Balance: Balance equals BaseBalance plus the
		// effect of every existing transaction and transfer on this method.
		BaseBalance decimal.Decimal `json:"-"`
		CreatedAt   time.Time       `json:"created_at"`
	}

	Category struct {
		ID        string    `json:"id"`
		UserID    UserID    `json:"-"`
		Kind      Kind      `json:"kind"`
		Name      string    `json:"name"`
		CreatedAt time.Time `json:"created_at"`
	}

	Subcategory struct {
		ID         string    `json:"id"`
		UserID     UserID    `json:"-"`
		Kind       Kind      `json:"kind"`
		CategoryID string    `json:"category_id"`
		Name       string    `json:"name"`
		CreatedAt  time.Time `json:"created_at"`
	}

	// Budget is the monthly spending cap of one expense subcategory.
	Budget struct {
		ID            string          `json:"id"`
		UserID        UserID          `json:"-"`
		Year          int             `json:"year"`
		Month         int             `json:"month"`
		SubcategoryID string          `json:"subcategory_id"`
		Amount        decimal.Decimal `json:"amount"`
	}

	Transaction struct {
		ID              string          `json:"id"`
		UserID          UserID          `json:"-"`
		Type            Kind            `json:"type"`
		Date            Date            `json:"date"`
		CategoryID      string          `json:"category_id"`
		SubcategoryID   string          `json:"subcategory_id"`
		PaymentMethodID string          `json:"payment_method_id"`
		Amount          decimal.Decimal `json:"amount"`
		Description     string          `json:"description"`
		CreatedAt       time.Time       `json:"created_at"`
		UpdatedAt       time.Time       `json:"updated_at"`
	}

	Transfer struct {
		ID                  string          `json:"id"`
		UserID              UserID          `json:"-"`
		Date                Date            `json:"date"`
		FromPaymentMethodID string          `json:"from_payment_method_id"`
		ToPaymentMethodID   string          `json:"to_payment_method_id"`
		Amount              decimal.Decimal `json:"amount"`
		Description         string          `json:"description"`
		CreatedAt           time.Time       `json:"created_at"`
		UpdatedAt           time.Time       `json:"updated_at"`
	}
)

// Valid reports whether k is one of the two known kinds.
func (k Kind) Valid() bool {
	return k == Income || k == Expense
}

func (k Kind) Validate() error {
	if !k.Valid() {
		return Invalid("type", ErrInvalidKind)
	}
	return nil
}

// NormalizeName trims surrounding whitespace and control characters.
func NormalizeName(s string) string {
	return strings.TrimSpace(strings.Map(func(r rune) rune {
		if r < 32 {
			return -1
		}
		return r
	}, s))
}

func validateName(field, name string, max int) error {
	if name == "" {
		return Invalid(field, ErrEmptyName)
	}
	if len([]rune(name)) > max {
		return Invalidf(field, "%s too long (max %d characters)", field, max)
	}
	return nil
}

func (m PaymentMethod) Validate() error {
	return validateName("name", m.Name, maxMethodNameLen)
}

func (c Category) Validate() error {
	if err := c.Kind.Validate(); err != nil {
		return err
	}
	return validateName("name", c.Name, maxCategoryNameLen)
}

func (s Subcategory) Validate() error {
	if err := s.Kind.Validate(); err != nil {
		return err
	}
	if s.CategoryID == "" {
		return Invalid("category_id", ErrMissingReference)
	}
	return validateName("name", s.Name, maxCategoryNameLen)
}

func (b Budget) Validate() error {
	if b.SubcategoryID == "" {
		return Invalid("subcategory_id", ErrMissingReference)
	}
	if b.Amount.IsNegative() {
		return Invalid("amount", ErrNegativeBudget)
	}
	if b.Month < 1 || b.Month > 12 {
		return Invalid("month", ErrInvalidMonth)
	}
	return nil
}

func validateDescription(desc string) error {
	if len([]rune(desc)) > maxDescriptionLen {
		return Invalidf("description", "description too long (max %d characters)", maxDescriptionLen)
	}
	return nil
}

// Validate checks the shape of a transaction. Referential checks against
// stored categories and payment methods happen in the ledger service.
func (t Transaction) Validate() error {
	if err := t.Type.Validate(); err != nil {
		return err
	}
	if err := t.Date.Validate(); err != nil {
		return err
	}
	if t.CategoryID == "" {
		return Invalid("category_id", ErrMissingReference)
	}
	if t.SubcategoryID == "" {
		return Invalid("subcategory_id", ErrMissingReference)
	}
	if t.PaymentMethodID == "" {
		return Invalid("payment_method_id", ErrMissingReference)
	}
	if err := ValidateAmount(t.Amount); err != nil {
		return err
	}
	return validateDescription(t.Description)
}

func (t Transfer) Validate() error {
	if err := t.Date.Validate(); err != nil {
		return err
	}
	if t.FromPaymentMethodID == "" {
		return Invalid("from_payment_method_id", ErrMissingReference)
	}
	if t.ToPaymentMethodID == "" {
		return Invalid("to_payment_method_id", ErrMissingReference)
	}
	if t.FromPaymentMethodID == t.ToPaymentMethodID {
		return Invalid("to_payment_method_id", ErrSameMethod)
	}
	if err := ValidateAmount(t.Amount); err != nil {
		return err
	}
	return validateDescription(t.Description)
}
