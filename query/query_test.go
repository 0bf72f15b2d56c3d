package query_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/redhatinsights/spreadsheet-export-service/config"
	"github.com/redhatinsights/spreadsheet-export-service/entities"
	"github.com/redhatinsights/spreadsheet-export-service/errors"
	"github.com/redhatinsights/spreadsheet-export-service/filters"
	"github.com/redhatinsights/spreadsheet-export-service/logger"
	"github.com/redhatinsights/spreadsheet-export-service/query"
)

type widget struct {
	ID        uint
	Colour    string
	OwnerID   string
	TeamID    uint
	CreatedAt time.Time
}

type widgets struct{}

func (widgets) Name() string { return "widgets" }
func (widgets) Model() any   { return &widget{} }

func (widgets) ScopeExport(tx *gorm.DB, owner entities.Owner) *gorm.DB {
	return tx.Where("widgets.owner_id = ?", owner.UserID)
}

type tag struct {
	ID   uint
	Name string
}

// tags compiles the "search" filter itself.
type tags struct{}

func (tags) Name() string { return "tags" }
func (tags) Model() any   { return &tag{} }

func (tags) ApplyFilter(tx *gorm.DB, f filters.Filter) (*gorm.DB, bool) {
	if f.Name != "search" {
		return tx, false
	}
	return tx.Where("tags.name ILIKE ?", "%"+f.Value.Scalar.(string)+"%"), true
}

func (tags) ApplyOrdering(tx *gorm.DB, field, direction string) *gorm.DB {
	return tx.Order("lower(tags.name) " + direction)
}

func scalar(name string, v any) filters.Filter {
	return filters.Filter{Name: name, Value: filters.Value{Kind: filters.Scalar, Scalar: v}}
}

func dateRange(name string, from, until *string) filters.Filter {
	return filters.Filter{Name: name, Value: filters.Value{Kind: filters.Range, Range: filters.Bounds{From: from, Until: until}}}
}

func strPtr(s string) *string { return &s }

var _ = Describe("Builder", func() {
	var (
		builder *query.Builder
		widgetD *entities.Descriptor
		tagD    *entities.Descriptor
		dryRun  *gorm.DB
	)

	BeforeEach(func() {
		builder = query.NewBuilder(config.FiltersConfig{
			DefaultFilters: []string{"created_at", "updated_at", "created_by"},
		}, logger.Nop())

		registry := entities.NewRegistry(config.DefaultFallbackColumns())
		registry.MustRegister(widgets{}, tags{})
		widgetD, _ = registry.Lookup("widgets")
		tagD, _ = registry.Lookup("tags")

		var err error
		dryRun, err = gorm.Open(postgres.New(postgres.Config{
			DSN: "host=localhost user=postgres dbname=postgres sslmode=disable",
		}), &gorm.Config{DryRun: true, DisableAutomaticPing: true})
		Expect(err).To(BeNil())
	})

	It("compiles scalars, lists and ranges", func() {
		set := filters.NewSet(
			scalar("colour", "red"),
			filters.Filter{Name: "id", Value: filters.Value{Kind: filters.List, List: []any{1, 2}}},
			dateRange("created_at", strPtr("2024-01-01"), strPtr("2024-01-31T10:00:00Z")),
		)
		plan, warnings, err := builder.Build(widgetD, set, query.Options{})
		Expect(err).To(BeNil())
		Expect(warnings).To(BeEmpty())
		Expect(plan.Predicates).To(ConsistOf(
			query.Predicate{Filter: "colour", Column: "colour", Op: query.OpEq, Value: "red"},
			query.Predicate{Filter: "id", Column: "id", Op: query.OpIn, Value: []any{1, 2}},
			query.Predicate{Filter: "created_at", Column: "created_at", Op: query.OpDateGte, Value: "2024-01-01"},
			query.Predicate{Filter: "created_at", Column: "created_at", Op: query.OpDateLte, Value: "2024-01-31"},
		))
	})

	It("compiles default date filters to a day match", func() {
		plan, _, err := builder.Build(widgetD, filters.NewSet(scalar("created_at", "31/01/2024")), query.Options{})
		Expect(err).To(BeNil())
		Expect(plan.Predicates).To(Equal([]query.Predicate{
			{Filter: "created_at", Column: "created_at", Op: query.OpDateEq, Value: "2024-01-31"},
		}))
	})

	It("resolves relation names to their foreign key", func() {
		plan, _, err := builder.Build(widgetD, filters.NewSet(scalar("team", 7)), query.Options{})
		Expect(err).To(BeNil())
		Expect(plan.Predicates[0].Column).To(Equal("team_id"))
	})

	It("drops filters without a column and bad date bounds", func() {
		set := filters.NewSet(
			scalar("price", 10),
			dateRange("created_at", strPtr("yesterday"), nil),
		)
		plan, warnings, err := builder.Build(widgetD, set, query.Options{})
		Expect(err).To(BeNil())
		Expect(plan.Predicates).To(BeEmpty())
		Expect(warnings).To(HaveLen(2))
		Expect(warnings[1].String()).To(ContainSubstring("price: no matching column"))
	})

	Describe("sorting", func() {
		It("defaults to created_at descending with the key as tiebreaker", func() {
			plan, _, err := builder.Build(widgetD, filters.Set{}, query.Options{})
			Expect(err).To(BeNil())
			Expect(plan.SortField).To(Equal("created_at"))
			Expect(plan.SortDirection).To(Equal(query.Desc))
			Expect(plan.Tiebreaker).To(Equal("id"))
		})

		It("falls back on unknown columns", func() {
			plan, warnings, err := builder.Build(widgetD, filters.Set{}, query.Options{SortField: "price", SortDirection: "ASC"})
			Expect(err).To(BeNil())
			Expect(plan.SortField).To(Equal("created_at"))
			Expect(plan.SortDirection).To(Equal(query.Asc))
			Expect(warnings).To(HaveLen(1))
		})

		It("drops the tiebreaker when sorting by the key", func() {
			plan, _, err := builder.Build(widgetD, filters.Set{}, query.Options{SortField: "id"})
			Expect(err).To(BeNil())
			Expect(plan.Tiebreaker).To(BeEmpty())
		})

		It("rejects unknown directions", func() {
			_, _, err := builder.Build(widgetD, filters.Set{}, query.Options{SortDirection: "sideways"})
			Expect(errors.IsValidation(err)).To(BeTrue())
		})
	})

	It("renders the owner scope, predicates and ordering", func() {
		set := filters.NewSet(
			scalar("colour", "red"),
			dateRange("created_at", strPtr("2024-01-01"), nil),
		)
		plan, _, err := builder.Build(widgetD, set, query.Options{Owner: &entities.Owner{UserID: "batman", OrgID: "5678"}})
		Expect(err).To(BeNil())

		sql := dryRun.ToSQL(func(tx *gorm.DB) *gorm.DB {
			return plan.Query(tx).Limit(10).Find(&[]widget{})
		})
		Expect(sql).To(ContainSubstring(`widgets.owner_id = 'batman'`))
		Expect(sql).To(ContainSubstring(`"widgets"."colour" = 'red'`))
		Expect(sql).To(ContainSubstring(`DATE("widgets"."created_at") >= '2024-01-01'`))
		Expect(sql).To(ContainSubstring(`ORDER BY "widgets"."created_at" DESC,"widgets"."id" DESC LIMIT 10`))
	})

	It("hands entity filters and ordering to the entity", func() {
		plan, warnings, err := builder.Build(tagD, filters.NewSet(scalar("search", "go")), query.Options{SortField: "name", SortDirection: "asc"})
		Expect(err).To(BeNil())
		Expect(warnings).To(BeEmpty())

		sql := dryRun.ToSQL(func(tx *gorm.DB) *gorm.DB {
			return plan.Query(tx).Find(&[]tag{})
		})
		Expect(sql).To(ContainSubstring(`tags.name ILIKE '%go%'`))
		Expect(sql).To(ContainSubstring(`ORDER BY lower(tags.name) asc`))
	})

	It("warns about entity filters the entity refuses", func() {
		set := filters.NewSet(scalar("search", "go"), scalar("colourway", "teal"))
		plan, warnings, err := builder.Build(tagD, set, query.Options{})
		Expect(err).To(BeNil())
		Expect(warnings).To(BeEmpty())
		Expect(plan.Declined()).To(BeEmpty())

		for i := 0; i < 2; i++ {
			sql := dryRun.ToSQL(func(tx *gorm.DB) *gorm.DB {
				return plan.Query(tx).Find(&[]tag{})
			})
			Expect(sql).NotTo(ContainSubstring("teal"))
		}
		Expect(plan.Declined()).To(Equal([]query.Warning{
			{Filter: "colourway", Message: "no matching column, filter dropped"},
		}))
	})
})
