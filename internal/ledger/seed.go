package ledger

import (
	"context"

	"github.com/shopspring/decimal"

	"dompet/internal/core"
	"dompet/internal/storage"
)

type categorySeed struct {
	name string
	subs []string
}

var (
	defaultMethods = []string{"Cash", "GoPay", "Dana", "Bank"}

	defaultIncome = categorySeed{
		name: "Pemasukan",
		subs: []string{
			"Gaji Bulanan", "Insentif", "Warisan Ayah", "Dari Orang Tua", "Hibah", "Khutbah",
			"Kajian", "Imam", "Barang Pribadi", "Barang Dagangan", "Refund",
		},
	}

	defaultExpense = []categorySeed{
		{name: "Kebutuhan", subs: []string{"Makan & Minum", "Transportasi", "Tagihan", "Bensin Motor", "Kesehatan"}},
		{name: "Keinginan", subs: []string{"Hiburan", "Belanja", "Ngopi", "Travel"}},
		{name: "Investasi", subs: []string{"Emas", "Reksadana", "Saham", "Crypto"}},
		{name: "Dana Darurat", subs: []string{"Tabungan Darurat"}},
	}
)

// SeedDefaults gives a new user the default payment methods, categories and
// zero budgets for the current month. Parts the user already has are left
// alone. It reports whether anything was written.
func (s *Service) SeedDefaults(ctx context.Context, user core.UserID) (bool, error) {
	release, err := s.guard.Acquire(ctx, NamesKey(user), TaxonomyKey(user))
	if err != nil {
		return false, s.failed(ctx, user, core.EntityLedger, core.OpSeed, err)
	}
	defer release()

	methods, err := s.store.ListPaymentMethods(ctx, user)
	if err != nil {
		return false, s.failed(ctx, user, core.EntityLedger, core.OpSeed, err)
	}
	cats, err := s.store.ListCategories(ctx, user, storage.CategoryFilter{})
	if err != nil {
		return false, s.failed(ctx, user, core.EntityLedger, core.OpSeed, err)
	}

	now := s.now().UTC()
	month := core.MonthOf(s.now())
	b := &storage.Batch{User: user}

	if len(methods) == 0 {
		for _, name := range defaultMethods {
			b.PaymentMethods = append(b.PaymentMethods, core.PaymentMethod{
				ID: core.NewID(), UserID: user, Name: name,
				Balance: decimal.Zero, BaseBalance: decimal.Zero, CreatedAt: now,
			})
		}
	}

	if len(cats) == 0 {
		add := func(kind core.Kind, seed categorySeed) {
			c := core.Category{ID: core.NewID(), UserID: user, Kind: kind, Name: seed.name, CreatedAt: now}
			b.Categories = append(b.Categories, c)
			for _, name := range seed.subs {
				sc := core.Subcategory{ID: core.NewID(), UserID: user, Kind: kind, CategoryID: c.ID, Name: name, CreatedAt: now}
				b.Subcategories = append(b.Subcategories, sc)
				if kind == core.Expense {
					b.Budgets = append(b.Budgets, core.Budget{
						ID: core.NewID(), UserID: user, Year: month.Year, Month: int(month.Month),
						SubcategoryID: sc.ID, Amount: decimal.Zero,
					})
				}
			}
		}
		add(core.Income, defaultIncome)
		for _, seed := range defaultExpense {
			add(core.Expense, seed)
		}
	}

	if b.Empty() {
		return false, nil
	}
	if err := s.store.Commit(ctx, b); err != nil {
		return false, s.failed(ctx, user, core.EntityLedger, core.OpSeed, err)
	}
	release()

	s.committed(ctx, user, core.EntityLedger, core.OpSeed, "", nil)
	return true, nil
}
