package entities_test

import (
	stderrors "errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gorm.io/gorm"

	"github.com/redhatinsights/spreadsheet-export-service/config"
	"github.com/redhatinsights/spreadsheet-export-service/entities"
	"github.com/redhatinsights/spreadsheet-export-service/errors"
	"github.com/redhatinsights/spreadsheet-export-service/filters"
)

type team struct {
	ID   uint
	Name string
}

type player struct {
	ID        uint
	Name      string
	TeamID    uint
	Team      team
	CreatedAt time.Time
}

type players struct{}

func (players) Name() string { return "players" }
func (players) Model() any   { return &player{} }
func (players) ExportColumns() []entities.Column {
	return []entities.Column{
		{Field: "name", Label: "Name"},
		{Field: "team.name", Label: "Team"},
	}
}
func (players) DefaultExportColumns() []entities.ColumnSpec {
	return []entities.ColumnSpec{{Field: "name", Title: "Name"}}
}
func (players) ExportRelations() []string { return []string{"Team"} }
func (players) ApplyOrdering(tx *gorm.DB, field, direction string) *gorm.DB {
	return tx.Order("players.name " + direction)
}
func (players) ApplyFilter(tx *gorm.DB, f filters.Filter) (*gorm.DB, bool) { return tx, false }
func (players) ScopeExport(tx *gorm.DB, owner entities.Owner) *gorm.DB    { return tx }

type broken struct{}

func (broken) Name() string { return "broken" }
func (broken) Model() any   { return &player{} }
func (broken) ExportColumns() []entities.Column {
	return []entities.Column{{Field: "salary", Label: "Salary"}}
}
func (broken) DefaultExportColumns() []entities.ColumnSpec { return nil }

type teams struct{}

func (teams) Name() string { return "teams" }
func (teams) Model() any   { return &team{} }

type nameless struct{}

func (nameless) Name() string { return "" }
func (nameless) Model() any   { return &team{} }

var _ = Describe("Registry", func() {
	var registry *entities.Registry

	BeforeEach(func() {
		registry = entities.NewRegistry(config.DefaultFallbackColumns())
	})

	It("resolves the capabilities of an entity once", func() {
		Expect(registry.Register(players{})).To(Succeed())

		d, err := registry.Lookup("players")
		Expect(err).To(BeNil())
		Expect(d.Kind).To(Equal(entities.KindExportable))
		Expect(d.Kind.String()).To(Equal("exportable"))
		Expect(d.Table).To(Equal("players"))
		Expect(d.PrimaryKey()).To(Equal("id"))
		Expect(d.HasColumn("team_id")).To(BeTrue())
		Expect(d.HasColumn("team.name")).To(BeFalse())
		Expect(d.Relations).To(Equal([]string{"Team"}))
		Expect(d.Orderer).NotTo(BeNil())
		Expect(d.FilterApplier).NotTo(BeNil())
		Expect(d.Scoper).NotTo(BeNil())

		label, ok := d.Label("team.name")
		Expect(ok).To(BeTrue())
		Expect(label).To(Equal("Team"))
	})

	It("gives default entities the fallback columns", func() {
		Expect(registry.Register(teams{})).To(Succeed())

		d, err := registry.Lookup("teams")
		Expect(err).To(BeNil())
		Expect(d.Kind).To(Equal(entities.KindDefault))
		Expect(d.Columns).To(HaveLen(3))
		Expect(d.Defaults).To(BeEmpty())
		Expect(d.Orderer).To(BeNil())
		Expect(d.NewBatch()).To(BeAssignableToTypeOf(&[]team{}))
	})

	It("rejects invalid registrations", func() {
		Expect(registry.Register(nameless{})).NotTo(Succeed())
		Expect(registry.Register(broken{})).To(MatchError(ContainSubstring(`unknown export column "salary"`)))

		Expect(registry.Register(teams{})).To(Succeed())
		Expect(registry.Register(teams{})).To(MatchError(ContainSubstring("already registered")))
		Expect(func() { registry.MustRegister(teams{}) }).To(Panic())
	})

	It("reports unknown entities", func() {
		_, err := registry.Lookup("ghosts")
		Expect(stderrors.Is(err, errors.ErrUnknownEntity)).To(BeTrue())
	})

	It("lists entities by name", func() {
		registry.MustRegister(teams{}, players{})
		all := registry.All()
		Expect(all).To(HaveLen(2))
		Expect(all[0].Name).To(Equal("players"))
		Expect(all[1].Name).To(Equal("teams"))
	})
})
